package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightnvr/internal/httpclient"
)

// fastClient keeps tests quick: no retries, short timeout.
func fastClient() *httpclient.Client {
	return httpclient.New(httpclient.Config{
		Timeout:             2 * time.Second,
		RetryAttempts:       0,
		CircuitThreshold:    100,
		CircuitTimeout:      time.Second,
		EnableDecompression: true,
	})
}

// testJPEG returns a small encoded JPEG.
func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newSnapshotServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
}

func TestRemoteDetector_HappyPath(t *testing.T) {
	snapshot := newSnapshotServer(t, testJPEG(t))
	defer snapshot.Close()

	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"label": "person", "confidence": 0.92, "x": 0.1, "y": 0.2, "width": 0.3, "height": 0.5},
				{"label": "cat", "confidence": 0.3, "x": 0.5, "y": 0.5, "width": 0.1, "height": 0.1},
			},
		})
	}))
	defer endpoint.Close()

	d, err := NewRemoteDetector(RemoteConfig{
		EndpointURL: endpoint.URL,
		SnapshotURL: snapshot.URL,
		Threshold:   0.5,
		Client:      fastClient(),
	})
	require.NoError(t, err)

	boxes, err := d.Detect(context.Background(), nil)
	require.NoError(t, err)
	// Thresholding drops the 0.3-confidence cat.
	require.Len(t, boxes, 1)
	assert.Equal(t, "person", boxes[0].Label)
	assert.InDelta(t, 0.92, boxes[0].Confidence, 0.001)
}

func TestRemoteDetector_UnreachableSnapshotIsEmptyResult(t *testing.T) {
	d, err := NewRemoteDetector(RemoteConfig{
		EndpointURL: "http://127.0.0.1:1/detect",
		SnapshotURL: "http://127.0.0.1:1/snapshot",
		Client:      fastClient(),
	})
	require.NoError(t, err)

	boxes, err := d.Detect(context.Background(), nil)
	assert.NoError(t, err, "an unreachable companion service is not an error")
	assert.Empty(t, boxes)
}

func TestRemoteDetector_SnapshotNotReadyIsEmptyResult(t *testing.T) {
	snapshot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no frame yet", http.StatusNotFound)
	}))
	defer snapshot.Close()

	d, err := NewRemoteDetector(RemoteConfig{
		EndpointURL: "http://127.0.0.1:1/detect",
		SnapshotURL: snapshot.URL,
		Client:      fastClient(),
	})
	require.NoError(t, err)

	boxes, err := d.Detect(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, boxes)
}

func TestRemoteDetector_MalformedResponsePropagates(t *testing.T) {
	snapshot := newSnapshotServer(t, testJPEG(t))
	defer snapshot.Close()

	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not json"))
	}))
	defer endpoint.Close()

	d, err := NewRemoteDetector(RemoteConfig{
		EndpointURL: endpoint.URL,
		SnapshotURL: snapshot.URL,
		Client:      fastClient(),
	})
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), nil)
	assert.Error(t, err, "a hard protocol error must propagate")
}

func TestIsRemoteModel(t *testing.T) {
	assert.True(t, IsRemoteModel("api-detection"))
	assert.True(t, IsRemoteModel("http://detector.local/v1"))
	assert.True(t, IsRemoteModel("https://detector.local/v1"))
	assert.False(t, IsRemoteModel("person-v8.rknn"))
	assert.False(t, IsRemoteModel(""))
}

func TestFilterThreshold_ClampsBoxes(t *testing.T) {
	boxes := filterThreshold([]Box{
		{Label: "a", Confidence: 0.9, X: -0.1, Y: 1.5, Width: 0.5, Height: 0.5},
		{Label: "b", Confidence: 0.1},
	}, 0.5)

	require.Len(t, boxes, 1)
	assert.Equal(t, 0.0, boxes[0].X)
	assert.Equal(t, 1.0, boxes[0].Y)
}
