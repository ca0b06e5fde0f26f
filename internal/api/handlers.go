// Package api exposes the HTTP surface of the event store.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"example.com/eventstore/internal/domain"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/topics", h.createTopic)
	r.Get("/topics", h.listTopics)
	r.Get("/topics/{name}", h.getTopic)
	r.Put("/topics/{name}/schemas", h.updateSchemas)
	r.Get("/topics/{name}/events", h.getTopicEvents)
	r.Post("/events", h.publishEvents)
	r.Post("/consumers", h.registerConsumer)
	r.Get("/consumers", h.listConsumers)
	r.Get("/consumers/{id}", h.getConsumer)
	r.Delete("/consumers/{id}", h.deleteConsumer)
	r.Get("/health", h.health)
}

func (h *Handler) createTopic(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateTopicRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	topic, err := h.service.CreateTopic(r.Context(), domain.CreateTopicInput{
		Name:    req.Name,
		Schemas: toDomainSchemas(req.Schemas),
		Scope:   scope,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTopicView(topic))
}

func (h *Handler) listTopics(w http.ResponseWriter, r *http.Request) {
	topics := h.service.ListTopics(r.Context())
	views := make([]TopicView, 0, len(topics))
	for _, topic := range topics {
		views = append(views, toTopicView(topic))
	}
	writeJSON(w, http.StatusOK, ListTopicsResponse{Topics: views})
}

func (h *Handler) getTopic(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	topic, err := h.service.GetTopic(r.Context(), chi.URLParam(r, "name"), scope)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTopicView(topic))
}

func (h *Handler) updateSchemas(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req UpdateSchemasRequest
	if !decodeBody(w, r, &req) {
		return
	}

	topic, err := h.service.UpdateTopicSchemas(r.Context(), chi.URLParam(r, "name"), toDomainSchemas(req.Schemas), scope)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTopicView(topic))
}

func (h *Handler) publishEvents(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var batch []PublishEventRequest
	if !decodeBody(w, r, &batch) {
		return
	}
	if len(batch) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "event batch must not be empty")
		return
	}

	inputs := make([]domain.PublishInput, 0, len(batch))
	for _, in := range batch {
		inputs = append(inputs, domain.PublishInput{Topic: in.Topic, Type: in.Type, Payload: in.Payload})
	}
	ids, err := h.service.PublishEvents(r.Context(), scope, inputs)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := PublishEventsResponse{EventIDs: make([]string, 0, len(ids))}
	for _, id := range ids {
		resp.EventIDs = append(resp.EventIDs, id.String())
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) getTopicEvents(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	query := r.URL.Query()
	filter := domain.EventFilter{Date: strings.TrimSpace(query.Get("date"))}
	if raw := query.Get("sinceEventId"); raw != "" {
		id, err := domain.ParseEventID(raw)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter.SinceEventID = &id
	}
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a non-negative integer")
			return
		}
		filter.Limit = parsed
	}

	events, err := h.service.GetTopicEvents(r.Context(), scope, chi.URLParam(r, "name"), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events})
}

func (h *Handler) registerConsumer(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req RegisterConsumerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cursors := make(map[string]*domain.EventID, len(req.Topics))
	for name, raw := range req.Topics {
		if raw == nil {
			cursors[name] = nil
			continue
		}
		id, err := domain.ParseEventID(*raw)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		cursors[name] = &id
	}

	consumer, err := h.service.RegisterConsumer(r.Context(), domain.RegisterConsumerInput{
		Type:     domain.ConsumerType(req.Type),
		Callback: req.Callback,
		Target:   req.Target,
		Scope:    scope,
		Topics:   cursors,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterConsumerResponse{ConsumerID: consumer.ID})
}

func (h *Handler) listConsumers(w http.ResponseWriter, r *http.Request) {
	consumers, err := h.service.ListConsumers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]ConsumerView, 0, len(consumers))
	for _, consumer := range consumers {
		views = append(views, toConsumerView(consumer))
	}
	writeJSON(w, http.StatusOK, ListConsumersResponse{Consumers: views})
}

func (h *Handler) getConsumer(w http.ResponseWriter, r *http.Request) {
	consumer, err := h.service.GetConsumer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsumerView(consumer))
}

func (h *Handler) deleteConsumer(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteConsumer(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	health, err := h.service.Health(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := HealthResponse{
		Status:             health.Status,
		Consumers:          health.Consumers,
		RunningDispatchers: health.RunningDispatchers,
	}
	if resp.RunningDispatchers == nil {
		resp.RunningDispatchers = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// scopeFrom reads the tenant/namespace selection from the query string. The
// two parameters must appear together; their absence selects the default
// scope.
func scopeFrom(r *http.Request) (domain.Scope, error) {
	tenant := strings.TrimSpace(r.URL.Query().Get("tenant"))
	namespace := strings.TrimSpace(r.URL.Query().Get("namespace"))
	if (tenant == "") != (namespace == "") {
		return domain.Scope{}, fmt.Errorf("%w: tenant and namespace must be provided together", domain.ErrInvalidArgument)
	}
	return domain.Scope{Tenant: tenant, Namespace: namespace}, nil
}

// SchemaPayload mirrors the wire form of one event-type schema.
type SchemaPayload struct {
	EventType  string         `json:"eventType"`
	Draft      string         `json:"jsonSchemaDraft"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// CreateTopicRequest is the payload for POST /topics.
type CreateTopicRequest struct {
	Name    string          `json:"name"`
	Schemas []SchemaPayload `json:"schemas,omitempty"`
}

// Validate ensures request correctness.
func (r CreateTopicRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

// UpdateSchemasRequest is the payload for PUT /topics/{name}/schemas.
type UpdateSchemasRequest struct {
	Schemas []SchemaPayload `json:"schemas"`
}

// PublishEventRequest is one entry of the POST /events array.
type PublishEventRequest struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// PublishEventsResponse lists the allocated event ids in publish order.
type PublishEventsResponse struct {
	EventIDs []string `json:"eventIds"`
}

// TopicView exposes a topic. The tenantId/namespaceId fields carry the scope
// names, matching the on-disk topic config shape.
type TopicView struct {
	ResourceID          string          `json:"resourceId"`
	TenantResourceID    string          `json:"tenantResourceId,omitempty"`
	NamespaceResourceID string          `json:"namespaceResourceId,omitempty"`
	Name                string          `json:"name"`
	Sequence            int64           `json:"sequence"`
	Schemas             []SchemaPayload `json:"schemas"`
	TenantID            string          `json:"tenantId,omitempty"`
	NamespaceID         string          `json:"namespaceId,omitempty"`
}

// ListTopicsResponse packages topic listings.
type ListTopicsResponse struct {
	Topics []TopicView `json:"topics"`
}

// EventsResponse packages filtered event reads.
type EventsResponse struct {
	Events []domain.Event `json:"events"`
}

// RegisterConsumerRequest is the payload for POST /consumers. Topics maps
// bare topic names to a last-delivered event id, or null for delivery from
// the beginning.
type RegisterConsumerRequest struct {
	Type     string             `json:"type,omitempty"`
	Callback string             `json:"callback,omitempty"`
	Target   string             `json:"target,omitempty"`
	Topics   map[string]*string `json:"topics"`
}

// RegisterConsumerResponse returns the generated consumer id.
type RegisterConsumerResponse struct {
	ConsumerID string `json:"consumerId"`
}

// ConsumerView exposes a consumer with its cursors rendered as event ids.
type ConsumerView struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Callback     string             `json:"callback,omitempty"`
	Target       string             `json:"target,omitempty"`
	Status       string             `json:"status"`
	Topics       map[string]*string `json:"topics"`
	RegisteredAt time.Time          `json:"registeredAt"`
}

// ListConsumersResponse packages consumer listings.
type ListConsumersResponse struct {
	Consumers []ConsumerView `json:"consumers"`
}

// HealthResponse reports liveness plus the topics with running dispatch
// workers.
type HealthResponse struct {
	Status             string   `json:"status"`
	Consumers          int      `json:"consumers"`
	RunningDispatchers []string `json:"runningDispatchers"`
}

func toDomainSchemas(payloads []SchemaPayload) []domain.Schema {
	if payloads == nil {
		return nil
	}
	out := make([]domain.Schema, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, domain.Schema{
			EventType:  p.EventType,
			Draft:      p.Draft,
			Properties: p.Properties,
			Required:   p.Required,
		})
	}
	return out
}

func toTopicView(topic domain.Topic) TopicView {
	schemas := make([]SchemaPayload, 0, len(topic.Schemas))
	for _, s := range topic.Schemas {
		schemas = append(schemas, SchemaPayload{
			EventType:  s.EventType,
			Draft:      s.Draft,
			Properties: s.Properties,
			Required:   s.Required,
		})
	}
	return TopicView{
		ResourceID:          topic.ResourceID,
		TenantResourceID:    topic.TenantResourceID,
		NamespaceResourceID: topic.NamespaceResourceID,
		Name:                topic.Name,
		Sequence:            topic.Sequence,
		Schemas:             schemas,
		TenantID:            topic.TenantName,
		NamespaceID:         topic.NamespaceName,
	}
}

func toConsumerView(consumer domain.Consumer) ConsumerView {
	topics := make(map[string]*string, len(consumer.Topics))
	for name, cursor := range consumer.Topics {
		if cursor == nil {
			topics[name] = nil
			continue
		}
		value := cursor.String()
		topics[name] = &value
	}
	return ConsumerView{
		ID:           consumer.ID,
		Type:         string(consumer.Type),
		Callback:     consumer.Callback,
		Target:       consumer.Target,
		Status:       string(consumer.Status),
		Topics:       topics,
		RegisteredAt: consumer.RegisteredAt,
	}
}

// writeDomainError maps domain error kinds onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTopicNotFound), errors.Is(err, domain.ErrConsumerNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrTopicExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrInvalidEventPayload):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// decodeBody parses the JSON request body into dst, writing the error
// response itself when parsing fails.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body exceeds the configured limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
