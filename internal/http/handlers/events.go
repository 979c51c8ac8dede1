package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/repository"
)

// EventsHandler serves the system event log.
type EventsHandler struct {
	events repository.EventRepository
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(events repository.EventRepository) *EventsHandler {
	return &EventsHandler{events: events}
}

// ListEventsInput filters the event log.
type ListEventsInput struct {
	Type   string `query:"type" maxLength:"32"`
	Stream string `query:"stream" maxLength:"63"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000"`
}

// ListEventsOutput is the event list payload.
type ListEventsOutput struct {
	Body struct {
		Events []*models.Event `json:"events"`
	}
}

// Register registers the event routes.
func (h *EventsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listEvents",
		Method:      "GET",
		Path:        "/api/events",
		Summary:     "List system events",
		Tags:        []string{"Events"},
	}, h.List)
}

// List returns recent events, newest first.
func (h *EventsHandler) List(ctx context.Context, input *ListEventsInput) (*ListEventsOutput, error) {
	events, err := h.events.List(ctx, models.EventType(input.Type), input.Stream, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing events failed", err)
	}
	out := &ListEventsOutput{}
	out.Body.Events = events
	return out, nil
}
