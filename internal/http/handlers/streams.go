package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"

	"github.com/opensensor/lightnvr/internal/ingest"
	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/repository"
)

// StreamSupervisor is the subset of the ingest registry the API uses.
type StreamSupervisor interface {
	Start(ctx context.Context, stream *models.Stream) error
	Stop(streamName string) error
	IsRunning(streamName string) bool
	State(streamName string) (ingest.State, error)
	Stats(streamName string) (ingest.Counters, error)
}

// StreamsHandler handles stream CRUD and lifecycle endpoints.
type StreamsHandler struct {
	streams    repository.StreamRepository
	supervisor StreamSupervisor
}

// NewStreamsHandler creates a streams handler. supervisor may be nil in
// catalog-only deployments.
func NewStreamsHandler(streams repository.StreamRepository, supervisor StreamSupervisor) *StreamsHandler {
	return &StreamsHandler{streams: streams, supervisor: supervisor}
}

// StreamView is a stream plus its live ingest status.
type StreamView struct {
	models.Stream
	Running bool   `json:"running"`
	State   string `json:"state,omitempty"`
}

// ListStreamsOutput is the stream list payload.
type ListStreamsOutput struct {
	Body struct {
		Streams []StreamView `json:"streams"`
		Count   int64        `json:"count"`
	}
}

// GetStreamInput selects one stream by name.
type GetStreamInput struct {
	Name string `path:"name" maxLength:"63"`
}

// GetStreamOutput is a single stream payload.
type GetStreamOutput struct {
	Body StreamView
}

// CreateStreamInput carries a new stream configuration.
type CreateStreamInput struct {
	Body models.Stream
}

// DeleteStreamInput selects a stream and the delete mode.
type DeleteStreamInput struct {
	Name      string `path:"name" maxLength:"63"`
	Permanent bool   `query:"permanent" doc:"Permanently delete the row and tombstone the name"`
}

// StreamStatsOutput is the per-stream counters payload.
type StreamStatsOutput struct {
	Body ingest.Counters
}

// Register registers the stream routes.
func (h *StreamsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/api/streams",
		Summary:     "List streams",
		Tags:        []string{"Streams"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      "GET",
		Path:        "/api/streams/{name}",
		Summary:     "Get a stream",
		Tags:        []string{"Streams"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "createStream",
		Method:        "POST",
		Path:          "/api/streams",
		Summary:       "Create a stream",
		DefaultStatus: 201,
		Tags:          []string{"Streams"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateStream",
		Method:      "PUT",
		Path:        "/api/streams/{name}",
		Summary:     "Update a stream",
		Tags:        []string{"Streams"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteStream",
		Method:      "DELETE",
		Path:        "/api/streams/{name}",
		Summary:     "Delete a stream (soft by default)",
		Tags:        []string{"Streams"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamStats",
		Method:      "GET",
		Path:        "/api/streams/{name}/stats",
		Summary:     "Get ingest counters for a stream",
		Tags:        []string{"Streams"},
	}, h.Stats)
}

// List returns all configured streams.
func (h *StreamsHandler) List(ctx context.Context, _ *struct{}) (*ListStreamsOutput, error) {
	streams, err := h.streams.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing streams failed", err)
	}
	count, err := h.streams.Count(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("counting streams failed", err)
	}

	out := &ListStreamsOutput{}
	out.Body.Count = count
	out.Body.Streams = make([]StreamView, 0, len(streams))
	for _, s := range streams {
		out.Body.Streams = append(out.Body.Streams, h.view(s))
	}
	return out, nil
}

// Get returns one stream by name.
func (h *StreamsHandler) Get(ctx context.Context, input *GetStreamInput) (*GetStreamOutput, error) {
	stream, err := h.streams.GetByName(ctx, input.Name)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading stream failed", err)
	}
	if stream == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("stream %q not found", input.Name))
	}
	return &GetStreamOutput{Body: h.view(stream)}, nil
}

// Create adds a stream. Re-adding a soft-deleted name revives the row in
// place.
func (h *StreamsHandler) Create(ctx context.Context, input *CreateStreamInput) (*GetStreamOutput, error) {
	stream := input.Body
	if err := h.streams.Create(ctx, &stream); err != nil {
		if isValidationError(err) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		return nil, huma.Error500InternalServerError("creating stream failed", err)
	}
	return &GetStreamOutput{Body: h.view(&stream)}, nil
}

// Update replaces a stream's configuration.
func (h *StreamsHandler) Update(ctx context.Context, input *struct {
	Name string `path:"name" maxLength:"63"`
	Body models.Stream
}) (*GetStreamOutput, error) {
	existing, err := h.streams.GetByName(ctx, input.Name)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading stream failed", err)
	}
	if existing == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("stream %q not found", input.Name))
	}

	stream := input.Body
	stream.ID = existing.ID
	stream.Name = existing.Name
	stream.CreatedAt = existing.CreatedAt
	if err := h.streams.Update(ctx, &stream); err != nil {
		if isValidationError(err) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		return nil, huma.Error500InternalServerError("updating stream failed", err)
	}
	return &GetStreamOutput{Body: h.view(&stream)}, nil
}

// Delete first stops any live ingest thread, then soft-deletes by default;
// permanent=true removes the row and writes a tombstone.
func (h *StreamsHandler) Delete(ctx context.Context, input *DeleteStreamInput) (*struct{}, error) {
	if h.supervisor != nil && h.supervisor.IsRunning(input.Name) {
		if err := h.supervisor.Stop(input.Name); err != nil {
			return nil, huma.Error500InternalServerError("stopping ingest failed", err)
		}
	}

	var err error
	if input.Permanent {
		err = h.streams.PermanentDelete(ctx, input.Name)
	} else {
		err = h.streams.SoftDelete(ctx, input.Name)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("stream %q not found", input.Name))
		}
		return nil, huma.Error500InternalServerError("deleting stream failed", err)
	}
	return &struct{}{}, nil
}

// Stats returns the ingest counters for a running stream.
func (h *StreamsHandler) Stats(ctx context.Context, input *GetStreamInput) (*StreamStatsOutput, error) {
	if h.supervisor == nil {
		return nil, huma.Error404NotFound("ingest supervision not available")
	}
	stats, err := h.supervisor.Stats(input.Name)
	if err != nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("stream %q is not running", input.Name))
	}
	return &StreamStatsOutput{Body: stats}, nil
}

func (h *StreamsHandler) view(s *models.Stream) StreamView {
	view := StreamView{Stream: *s}
	if h.supervisor != nil && h.supervisor.IsRunning(s.Name) {
		view.Running = true
		if state, err := h.supervisor.State(s.Name); err == nil {
			view.State = state.String()
		}
	}
	return view
}

// isValidationError reports whether err is one of the model validation
// sentinels, which map to 422 rather than 500.
func isValidationError(err error) bool {
	for _, sentinel := range []error{
		models.ErrNameRequired,
		models.ErrNameTooLong,
		models.ErrURLRequired,
		models.ErrInvalidURL,
		models.ErrInvalidThreshold,
		models.ErrInvalidPriority,
		models.ErrInvalidTransport,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
