package api

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "eventstore",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by method, route pattern and status code.",
}, []string{"method", "route", "status"})

func init() {
	prometheus.MustRegister(requestsTotal)
}

func recordRequest(method, route string, status int) {
	requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
