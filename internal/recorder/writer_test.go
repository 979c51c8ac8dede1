package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightnvr/internal/media"
)

var (
	testSPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02, 0x27, 0xe5, 0x84,
		0x00, 0x00, 0x03, 0x00, 0x04, 0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c,
		0x60, 0xc9, 0x20,
	}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, nalu := range nalus {
		out = append(out, startCode...)
		out = append(out, nalu...)
	}
	return out
}

func videoPacket(keyframe bool, dts, pts int64) *media.Packet {
	var data []byte
	if keyframe {
		idr := append([]byte{0x65, 0x88, 0x84, 0x00}, make([]byte, 64)...)
		data = annexB(testSPS, testPPS, idr)
	} else {
		nonIDR := append([]byte{0x41, 0x9a, 0x00}, make([]byte, 32)...)
		data = annexB(nonIDR)
	}
	return &media.Packet{
		Kind:     media.KindVideo,
		Keyframe: keyframe,
		Data:     data,
		PTS:      pts,
		DTS:      dts,
		Receipt:  time.Now(),
	}
}

func audioPacket(dts int64) *media.Packet {
	return &media.Packet{
		Kind:    media.KindAudio,
		Data:    []byte{0x21, 0x10, 0x04, 0x60, 0x8c, 0x1c},
		PTS:     dts,
		DTS:     dts,
		Receipt: time.Now(),
	}
}

func TestWriter_CloseBeforeInitializeRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "never.mp4")

	w, err := Create(path, "front", nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_InitializeRequiresKeyframe(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(filepath.Join(dir, "rec.mp4"), "front", nil)
	require.NoError(t, err)
	defer w.Close()

	err = w.Initialize(videoPacket(false, 0, 0), "h264")
	assert.ErrorIs(t, err, ErrNotKeyframe)

	err = w.Initialize(audioPacket(0), "h264")
	assert.ErrorIs(t, err, ErrNotKeyframe)
}

func TestWriter_DiscardsPacketsBeforeInitialize(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(filepath.Join(dir, "rec.mp4"), "front", nil)
	require.NoError(t, err)
	defer w.Close()

	// Writes before Initialize are silently discarded.
	require.NoError(t, w.WritePacket(videoPacket(false, 0, 0)))
	assert.False(t, w.Initialized())
}

func TestWriter_WriteFlow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.mp4")

	w, err := Create(path, "front", nil)
	require.NoError(t, err)
	w.ConfigureAudio(true)

	first := videoPacket(true, 90000, 90000)
	require.NoError(t, w.Initialize(first, "h264"))
	require.True(t, w.Initialized())
	require.NoError(t, w.WritePacket(first))

	// Timestamps are rewritten relative to the first packet of each kind.
	require.NoError(t, w.WritePacket(videoPacket(false, 93000, 93000)))
	require.NoError(t, w.WritePacket(audioPacket(90500)))
	require.NoError(t, w.WritePacket(audioPacket(92420)))
	// A repeated audio timestamp must still produce increasing DTS.
	require.NoError(t, w.WritePacket(audioPacket(92420)))
	// A second keyframe rotates the fragment.
	require.NoError(t, w.WritePacket(videoPacket(true, 96000, 96000)))

	require.NoError(t, w.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Equal(t, info.Size(), w.SizeBytes())
}

func TestWriter_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(filepath.Join(dir, "rec.mp4"), "front", nil)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWriter_AbortRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.mp4")

	w, err := Create(path, "front", nil)
	require.NoError(t, err)

	first := videoPacket(true, 0, 0)
	require.NoError(t, w.Initialize(first, "h264"))
	require.NoError(t, w.WritePacket(first))

	w.Abort()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStripADTS(t *testing.T) {
	raw := []byte{0x21, 0x10, 0x04}
	assert.Equal(t, raw, stripADTS(raw))

	adts := append([]byte{0xFF, 0xF1, 0x50, 0x80, 0x01, 0x00, 0xFC}, raw...)
	assert.Equal(t, raw, stripADTS(adts))
}
