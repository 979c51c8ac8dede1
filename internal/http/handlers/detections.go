package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/repository"
)

// DetectionsHandler handles detection event queries.
type DetectionsHandler struct {
	detections repository.DetectionRepository
}

// NewDetectionsHandler creates a detections handler.
func NewDetectionsHandler(detections repository.DetectionRepository) *DetectionsHandler {
	return &DetectionsHandler{detections: detections}
}

// QueryDetectionsInput selects a stream and time range.
type QueryDetectionsInput struct {
	Stream string  `path:"stream" maxLength:"63"`
	Start  float64 `query:"start" doc:"Unix seconds, inclusive lower bound"`
	End    float64 `query:"end" doc:"Unix seconds, inclusive upper bound"`
}

// QueryDetectionsOutput is the detections payload.
type QueryDetectionsOutput struct {
	Body struct {
		Detections []*models.Detection `json:"detections"`
	}
}

// Register registers the detection routes.
func (h *DetectionsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "queryDetections",
		Method:      "GET",
		Path:        "/api/detections/{stream}",
		Summary:     "Query detection events by time range",
		Tags:        []string{"Detections"},
	}, h.Query)
}

// Query returns a stream's detections inside [start, end].
func (h *DetectionsHandler) Query(ctx context.Context, input *QueryDetectionsInput) (*QueryDetectionsOutput, error) {
	end := input.End
	if end == 0 {
		end = float64(models.Now().Unix())
	}
	detections, err := h.detections.Query(ctx, input.Stream, input.Start, end)
	if err != nil {
		return nil, huma.Error500InternalServerError("querying detections failed", err)
	}
	out := &QueryDetectionsOutput{}
	out.Body.Detections = detections
	return out, nil
}
