package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTriggerType_Valid(t *testing.T) {
	assert.True(t, TriggerContinuous.Valid())
	assert.True(t, TriggerDetection.Valid())
	assert.True(t, TriggerMotion.Valid())
	assert.False(t, TriggerType("scheduled").Valid())
	assert.False(t, TriggerType("").Valid())
}

func TestRecording_Complete(t *testing.T) {
	rec := &Recording{StreamName: "front", FilePath: "/data/x.mp4"}
	assert.False(t, rec.Complete())

	end := time.Now()
	rec.EndTime = &end
	assert.False(t, rec.Complete(), "end time alone is not enough")

	rec.IsComplete = BoolPtr(true)
	assert.True(t, rec.Complete())
}

func TestRecording_Duration(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(42 * time.Second)

	rec := &Recording{StartTime: start}
	assert.Equal(t, 0.0, rec.Duration())

	rec.EndTime = &end
	assert.Equal(t, 42.0, rec.Duration())
}

func TestRecording_Validate(t *testing.T) {
	rec := &Recording{FilePath: "/data/x.mp4"}
	assert.ErrorIs(t, rec.Validate(), ErrStreamNameRequired)

	rec = &Recording{StreamName: "front"}
	assert.ErrorIs(t, rec.Validate(), ErrFilePathRequired)

	rec = &Recording{StreamName: "front", FilePath: "/data/x.mp4"}
	assert.NoError(t, rec.Validate())
}
