package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensensor/lightnvr/internal/recorder"
)

func newTestWriter(dir, name string) (*recorder.Writer, error) {
	return recorder.Create(filepath.Join(dir, name), "test", nil)
}

func assertFileAbsent(t *testing.T, dir, name string) {
	t.Helper()
	_, err := os.Stat(filepath.Join(dir, name))
	assert.True(t, os.IsNotExist(err), "expected %s to be removed", name)
}
