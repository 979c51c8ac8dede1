package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/repository"
)

// MotionHandler handles motion configuration and motion recording
// listing. Motion analysis itself runs in the front-end collaborator.
type MotionHandler struct {
	motion repository.MotionRepository
}

// NewMotionHandler creates a motion handler.
func NewMotionHandler(motion repository.MotionRepository) *MotionHandler {
	return &MotionHandler{motion: motion}
}

// MotionConfigInput selects a stream's motion config.
type MotionConfigInput struct {
	Stream string `path:"stream" maxLength:"63"`
}

// MotionConfigOutput is a motion config payload.
type MotionConfigOutput struct {
	Body models.MotionConfig
}

// ListMotionRecordingsInput pages a stream's motion recordings.
type ListMotionRecordingsInput struct {
	Stream string `query:"stream" maxLength:"63"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000"`
	Offset int    `query:"offset" minimum:"0"`
}

// ListMotionRecordingsOutput is the motion recording list payload.
type ListMotionRecordingsOutput struct {
	Body struct {
		Recordings []*models.MotionRecording `json:"recordings"`
	}
}

// Register registers the motion routes.
func (h *MotionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getMotionConfig",
		Method:      "GET",
		Path:        "/api/streams/{stream}/motion",
		Summary:     "Get a stream's motion configuration",
		Tags:        []string{"Motion"},
	}, h.GetConfig)

	huma.Register(api, huma.Operation{
		OperationID: "setMotionConfig",
		Method:      "PUT",
		Path:        "/api/streams/{stream}/motion",
		Summary:     "Set a stream's motion configuration",
		Tags:        []string{"Motion"},
	}, h.SetConfig)

	huma.Register(api, huma.Operation{
		OperationID: "listMotionRecordings",
		Method:      "GET",
		Path:        "/api/motion-recordings",
		Summary:     "List motion recordings",
		Tags:        []string{"Motion"},
	}, h.ListRecordings)
}

// GetConfig returns a stream's motion configuration.
func (h *MotionHandler) GetConfig(ctx context.Context, input *MotionConfigInput) (*MotionConfigOutput, error) {
	cfg, err := h.motion.GetConfig(ctx, input.Stream)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading motion config failed", err)
	}
	if cfg == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("no motion config for stream %q", input.Stream))
	}
	return &MotionConfigOutput{Body: *cfg}, nil
}

// SetConfig inserts or updates a stream's motion configuration.
func (h *MotionHandler) SetConfig(ctx context.Context, input *struct {
	Stream string `path:"stream" maxLength:"63"`
	Body   models.MotionConfig
}) (*MotionConfigOutput, error) {
	cfg := input.Body
	cfg.StreamName = input.Stream
	if err := h.motion.SetConfig(ctx, &cfg); err != nil {
		return nil, huma.Error500InternalServerError("saving motion config failed", err)
	}
	return &MotionConfigOutput{Body: cfg}, nil
}

// ListRecordings returns complete motion recordings.
func (h *MotionHandler) ListRecordings(ctx context.Context, input *ListMotionRecordingsInput) (*ListMotionRecordingsOutput, error) {
	recs, err := h.motion.ListRecordings(ctx, input.Stream, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing motion recordings failed", err)
	}
	out := &ListMotionRecordingsOutput{}
	out.Body.Recordings = recs
	return out, nil
}
