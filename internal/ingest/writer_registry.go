package ingest

import (
	"log/slog"
	"sync"

	"github.com/opensensor/lightnvr/internal/recorder"
)

// WriterRegistry maps stream names to MP4 writers for externally driven
// capture paths (the continuous recording path). Registering over an
// existing entry closes the previous writer first; unregistering closes
// and removes the entry.
type WriterRegistry struct {
	mu      sync.Mutex
	writers map[string]*recorder.Writer
	logger  *slog.Logger
}

// NewWriterRegistry creates an empty writer registry.
func NewWriterRegistry(logger *slog.Logger) *WriterRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WriterRegistry{
		writers: make(map[string]*recorder.Writer),
		logger:  logger,
	}
}

// Register installs a writer for a stream, closing any previous one.
func (r *WriterRegistry) Register(streamName string, w *recorder.Writer) {
	r.mu.Lock()
	prev := r.writers[streamName]
	r.writers[streamName] = w
	r.mu.Unlock()

	if prev != nil {
		r.logger.Debug("replacing registered writer", slog.String("stream", streamName))
		if err := prev.Close(); err != nil {
			r.logger.Warn("closing replaced writer failed",
				slog.String("stream", streamName),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Get returns the writer registered for a stream, or nil.
func (r *WriterRegistry) Get(streamName string) *recorder.Writer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writers[streamName]
}

// Unregister closes and removes a stream's writer. Unknown names are a
// no-op.
func (r *WriterRegistry) Unregister(streamName string) {
	r.mu.Lock()
	w := r.writers[streamName]
	delete(r.writers, streamName)
	r.mu.Unlock()

	if w != nil {
		if err := w.Close(); err != nil {
			r.logger.Warn("closing unregistered writer failed",
				slog.String("stream", streamName),
				slog.String("error", err.Error()),
			)
		}
	}
}

// CloseAll closes every registered writer, for shutdown.
func (r *WriterRegistry) CloseAll() {
	r.mu.Lock()
	writers := r.writers
	r.writers = make(map[string]*recorder.Writer)
	r.mu.Unlock()

	for name, w := range writers {
		if err := w.Close(); err != nil {
			r.logger.Warn("closing writer failed",
				slog.String("stream", name),
				slog.String("error", err.Error()),
			)
		}
	}
}
