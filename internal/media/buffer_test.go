package media

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pkt builds a test packet at the given second offset.
func pkt(kind Kind, keyframe bool, offset time.Duration, size int) *Packet {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &Packet{
		Kind:     kind,
		Keyframe: keyframe,
		Data:     make([]byte, size),
		Receipt:  base.Add(offset),
	}
}

func TestPacketBuffer_DropsUntilFirstKeyframe(t *testing.T) {
	b := NewPacketBuffer(10*time.Second, 0)

	b.Push(pkt(KindVideo, false, 0, 100))
	b.Push(pkt(KindAudio, false, 100*time.Millisecond, 50))

	count, bytes, _ := b.Stats()
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), bytes)

	b.Push(pkt(KindVideo, true, 200*time.Millisecond, 100))
	count, _, _ = b.Stats()
	assert.Equal(t, 1, count)
}

func TestPacketBuffer_EvictsWholeGroups(t *testing.T) {
	b := NewPacketBuffer(4*time.Second, 0)

	// Keyframe every 2s, non-keyframes between.
	for i := 0; i < 5; i++ {
		base := time.Duration(i*2) * time.Second
		b.Push(pkt(KindVideo, true, base, 10))
		b.Push(pkt(KindVideo, false, base+time.Second, 10))
	}

	// Span must fit 4s and the head must be a keyframe.
	_, _, span := b.Stats()
	assert.LessOrEqual(t, span, 4*time.Second)

	first := true
	_, err := b.Flush(func(p *Packet) error {
		if first {
			assert.True(t, p.Keyframe, "head packet must be a keyframe")
			first = false
		}
		return nil
	})
	require.NoError(t, err)
	assert.False(t, first, "flush visited no packets")
}

func TestPacketBuffer_NeverEvictsThroughOnlyKeyframe(t *testing.T) {
	b := NewPacketBuffer(time.Second, 0)

	b.Push(pkt(KindVideo, true, 0, 10))
	for i := 1; i <= 5; i++ {
		b.Push(pkt(KindVideo, false, time.Duration(i)*time.Second, 10))
	}

	// One keyframe group only: eviction cannot strand the head.
	count, _, _ := b.Stats()
	assert.Equal(t, 6, count)
}

func TestPacketBuffer_FlushStartsAtKeyframeAndKeepsPackets(t *testing.T) {
	b := NewPacketBuffer(10*time.Second, 0)
	b.Push(pkt(KindVideo, true, 0, 10))
	b.Push(pkt(KindAudio, false, 500*time.Millisecond, 5))
	b.Push(pkt(KindVideo, false, time.Second, 10))

	var visited []Kind
	count, err := b.Flush(func(p *Packet) error {
		visited = append(visited, p.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, KindVideo, visited[0])

	// Flush does not clear.
	again, err := b.Flush(func(*Packet) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 3, again)
}

func TestPacketBuffer_FlushPropagatesError(t *testing.T) {
	b := NewPacketBuffer(10*time.Second, 0)
	b.Push(pkt(KindVideo, true, 0, 10))
	b.Push(pkt(KindVideo, false, time.Second, 10))

	sentinel := errors.New("writer full")
	count, err := b.Flush(func(p *Packet) error {
		if !p.Keyframe {
			return sentinel
		}
		return nil
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, count)
}

func TestPacketBuffer_ZeroCapacityIsPassthrough(t *testing.T) {
	b := NewPacketBuffer(0, 0)
	b.Push(pkt(KindVideo, true, 0, 10))
	b.Push(pkt(KindVideo, false, time.Second, 10))

	count, err := b.Flush(func(*Packet) error {
		t.Fatal("flush must yield zero packets")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPacketBuffer_MemoryPressureEvicts(t *testing.T) {
	b := NewPacketBuffer(time.Hour, 1024)

	for i := 0; i < 10; i++ {
		b.Push(pkt(KindVideo, true, time.Duration(i)*time.Second, 512))
	}

	_, bytes, _ := b.Stats()
	assert.LessOrEqual(t, bytes, int64(1024))
}

func TestPacketBuffer_Clear(t *testing.T) {
	b := NewPacketBuffer(10*time.Second, 0)
	b.Push(pkt(KindVideo, true, 0, 10))
	b.Clear()

	count, bytes, span := b.Stats()
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), bytes)
	assert.Equal(t, time.Duration(0), span)
}
