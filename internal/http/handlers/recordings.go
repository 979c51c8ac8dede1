package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"

	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/recsync"
	"github.com/opensensor/lightnvr/internal/repository"
)

// RecordingsHandler handles recording listing, deletion, and the sync
// endpoint.
type RecordingsHandler struct {
	recordings repository.RecordingRepository
	syncer     *recsync.Syncer
}

// NewRecordingsHandler creates a recordings handler.
func NewRecordingsHandler(recordings repository.RecordingRepository, syncer *recsync.Syncer) *RecordingsHandler {
	return &RecordingsHandler{recordings: recordings, syncer: syncer}
}

// ListRecordingsInput carries list filters, sorting, and paging.
type ListRecordingsInput struct {
	Stream  string `query:"stream" maxLength:"63"`
	Start   int64  `query:"start" doc:"Unix seconds lower bound on start_time"`
	End     int64  `query:"end" doc:"Unix seconds upper bound on start_time"`
	Trigger string `query:"trigger" enum:"continuous,detection,motion,"`
	Sort    string `query:"sort" doc:"id, stream_name, start_time, end_time, size_bytes"`
	Order   string `query:"order" enum:"asc,desc,ASC,DESC,"`
	Limit   int    `query:"limit" minimum:"0" maximum:"1000"`
	Offset  int    `query:"offset" minimum:"0"`
}

// ListRecordingsOutput is the recording list payload.
type ListRecordingsOutput struct {
	Body struct {
		Recordings []*models.Recording `json:"recordings"`
		Count      int64               `json:"count"`
	}
}

// RecordingByIDInput selects one recording.
type RecordingByIDInput struct {
	ID uint `path:"id"`
}

// GetRecordingOutput is a single recording payload.
type GetRecordingOutput struct {
	Body models.Recording
}

// SyncOutput is the sync result payload.
type SyncOutput struct {
	Body recsync.Result
}

// Register registers the recording routes.
func (h *RecordingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRecordings",
		Method:      "GET",
		Path:        "/api/recordings",
		Summary:     "List completed recordings",
		Tags:        []string{"Recordings"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRecording",
		Method:      "GET",
		Path:        "/api/recordings/{id}",
		Summary:     "Get a recording",
		Tags:        []string{"Recordings"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "deleteRecording",
		Method:      "DELETE",
		Path:        "/api/recordings/{id}",
		Summary:     "Delete a recording and its file",
		Tags:        []string{"Recordings"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "syncRecordings",
		Method:      "POST",
		Path:        "/api/recordings/sync",
		Summary:     "Rescan the recording trees and repopulate the catalog",
		Tags:        []string{"Recordings"},
	}, h.Sync)
}

// List returns completed recordings matching the filters. Only rows with
// is_complete set and a non-null end time are listed.
func (h *RecordingsHandler) List(ctx context.Context, input *ListRecordingsInput) (*ListRecordingsOutput, error) {
	filters := repository.RecordingFilters{
		StreamName:   input.Stream,
		TriggerType:  models.TriggerType(input.Trigger),
		CompleteOnly: true,
	}
	if input.Start > 0 {
		filters.Start = time.Unix(input.Start, 0)
	}
	if input.End > 0 {
		filters.End = time.Unix(input.End, 0)
	}

	limit := input.Limit
	if limit == 0 {
		limit = 100
	}

	recs, err := h.recordings.List(ctx, filters, input.Sort, input.Order, limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing recordings failed", err)
	}
	count, err := h.recordings.Count(ctx, filters)
	if err != nil {
		return nil, huma.Error500InternalServerError("counting recordings failed", err)
	}

	out := &ListRecordingsOutput{}
	out.Body.Recordings = recs
	out.Body.Count = count
	return out, nil
}

// Get returns one recording by id.
func (h *RecordingsHandler) Get(ctx context.Context, input *RecordingByIDInput) (*GetRecordingOutput, error) {
	rec, err := h.recordings.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading recording failed", err)
	}
	if rec == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %d not found", input.ID))
	}
	return &GetRecordingOutput{Body: *rec}, nil
}

// Delete removes a recording row and unlinks its backing file. A file that
// is already missing is ignored, not an error.
func (h *RecordingsHandler) Delete(ctx context.Context, input *RecordingByIDInput) (*struct{}, error) {
	rec, err := h.recordings.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading recording failed", err)
	}
	if rec == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %d not found", input.ID))
	}

	if err := h.recordings.Delete(ctx, input.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("recording %d not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("deleting recording failed", err)
	}
	if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
		return nil, huma.Error500InternalServerError("removing recording file failed", err)
	}
	return &struct{}{}, nil
}

// Sync rescans the MP4 trees and repopulates the catalog from files found.
func (h *RecordingsHandler) Sync(ctx context.Context, _ *struct{}) (*SyncOutput, error) {
	if h.syncer == nil {
		return nil, huma.Error404NotFound("sync not available")
	}
	result, err := h.syncer.Sync(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("sync failed", err)
	}
	return &SyncOutput{Body: *result}, nil
}
