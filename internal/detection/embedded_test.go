package detection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightnvr/internal/media"
)

// fakeModel is a test backend model returning scripted boxes.
type fakeModel struct {
	boxes  []Box
	closed bool
}

func (m *fakeModel) Predict(frame *Frame) ([]Box, error) { return m.boxes, nil }
func (m *fakeModel) InputSize() (int, int)               { return 32, 24 }
func (m *fakeModel) Close() error                        { m.closed = true; return nil }

// fakeBackend loads fakeModel for .fake files.
type fakeBackend struct {
	model *fakeModel
}

func (b *fakeBackend) LoadModel(path string) (Model, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	return b.model, nil
}

// fakeDecoder returns a fixed frame regardless of input.
type fakeDecoder struct{}

func (fakeDecoder) DecodeKeyframe(data []byte, w, h int) (*Frame, error) {
	return &Frame{RGB: make([]byte, w*h*3), Width: w, Height: h}, nil
}
func (fakeDecoder) Close() error { return nil }

func writeModelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "people.fake")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))
	return path
}

func TestEmbeddedDetector_BackendRegistry(t *testing.T) {
	model := &fakeModel{boxes: []Box{
		{Label: "person", Confidence: 0.9, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.3},
		{Label: "person", Confidence: 0.2},
	}}
	RegisterBackend(".fake", &fakeBackend{model: model})

	d, err := NewEmbeddedDetector(writeModelFile(t), fakeDecoder{}, 0.5, nil)
	require.NoError(t, err)

	boxes, err := d.Detect(context.Background(), &media.Packet{Kind: media.KindVideo, Keyframe: true})
	require.NoError(t, err)
	require.Len(t, boxes, 1, "thresholding happens inside the detector")

	require.NoError(t, d.Close())
	assert.True(t, model.closed)

	// A closed handle refuses further work; the model is dropped once.
	_, err = d.Detect(context.Background(), &media.Packet{})
	assert.Error(t, err)
	require.NoError(t, d.Close())
}

func TestEmbeddedDetector_UnknownExtension(t *testing.T) {
	_, err := NewEmbeddedDetector("/models/net.unknown-ext", fakeDecoder{}, 0.5, nil)
	assert.Error(t, err)
}

func TestEmbeddedDetector_MissingModelFile(t *testing.T) {
	RegisterBackend(".fake", &fakeBackend{model: &fakeModel{}})
	_, err := NewEmbeddedDetector("/nonexistent/net.fake", fakeDecoder{}, 0.5, nil)
	assert.Error(t, err)
}

func TestDecodeToFrame(t *testing.T) {
	data := testJPEG(t)

	frame, err := DecodeToFrame(data, 16, 12)
	require.NoError(t, err)
	assert.Equal(t, 16, frame.Width)
	assert.Equal(t, 12, frame.Height)
	assert.Len(t, frame.RGB, 16*12*3)

	// Zero target keeps source dimensions.
	frame, err = DecodeToFrame(data, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 32, frame.Width)
	assert.Equal(t, 24, frame.Height)
}

func TestValidateJPEG(t *testing.T) {
	assert.NoError(t, ValidateJPEG(testJPEG(t)))
	assert.Error(t, ValidateJPEG([]byte("not an image")))
}
