// Command sink is a development webhook receiver. Point a webhook consumer's
// callback at it to watch deliveries arrive.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type delivery struct {
	ConsumerID string `json:"consumerId"`
	Events     []struct {
		ID        string    `json:"id"`
		Timestamp time.Time `json:"timestamp"`
		Type      string    `json:"type"`
	} `json:"events"`
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	port := os.Getenv("SINK_PORT")
	if port == "" {
		port = "9090"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var batch delivery
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			logger.Warn("undecodable delivery", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ids := make([]string, 0, len(batch.Events))
		for _, event := range batch.Events {
			ids = append(ids, event.ID)
		}
		logger.Info("delivery received",
			zap.String("consumer", batch.ConsumerID),
			zap.Int("events", len(batch.Events)),
			zap.Strings("ids", ids))
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		logger.Info("sink listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("sink server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("sink shutdown error", zap.Error(err))
	}
}
