package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensensor/lightnvr/internal/models"
)

// Registry errors.
var (
	// ErrAlreadyRunning is returned when a stream already has a live
	// ingest thread.
	ErrAlreadyRunning = errors.New("ingest: stream already running")
	// ErrNoFreeSlot is returned when the slot table is full.
	ErrNoFreeSlot = errors.New("ingest: no free ingest slot")
	// ErrNotRunning is returned when no thread exists for a stream.
	ErrNotRunning = errors.New("ingest: stream not running")
)

// slot holds one ingest thread. A leaked slot belonged to a thread that
// missed its stop deadline; it stays unusable until process restart.
type slot struct {
	thread *Thread
	leaked bool
}

// ThreadFactory builds a thread for a stream snapshot. The registry keeps
// construction pluggable so tests can inject fakes.
type ThreadFactory func(stream *models.Stream) (*Thread, error)

// Registry supervises ingest threads: a bounded table keyed by stream
// name, enforcing at most one live thread per name. The internal lock is
// held only across table lookups and inserts, never across I/O.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot

	maxSlots    int
	stopTimeout time.Duration
	factory     ThreadFactory
	logger      *slog.Logger
}

// NewRegistry creates a registry bounded to maxSlots threads.
func NewRegistry(maxSlots int, stopTimeout time.Duration, factory ThreadFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSlots < 1 {
		maxSlots = 1
	}
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	return &Registry{
		slots:       make(map[string]*slot),
		maxSlots:    maxSlots,
		stopTimeout: stopTimeout,
		factory:     factory,
		logger:      logger,
	}
}

// Start spawns an ingest thread for the stream. It refuses when an entry
// already exists for that name or when no slot is free.
func (r *Registry) Start(ctx context.Context, stream *models.Stream) error {
	r.mu.Lock()
	if _, exists := r.slots[stream.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, stream.Name)
	}
	if r.liveCountLocked() >= r.maxSlots {
		r.mu.Unlock()
		return ErrNoFreeSlot
	}
	// Reserve the slot before the (slow) thread construction so a
	// concurrent Start for the same name is refused.
	r.slots[stream.Name] = &slot{}
	r.mu.Unlock()

	thread, err := r.factory(stream)
	if err != nil {
		r.mu.Lock()
		delete(r.slots, stream.Name)
		r.mu.Unlock()
		return fmt.Errorf("building ingest thread for %s: %w", stream.Name, err)
	}

	r.mu.Lock()
	r.slots[stream.Name].thread = thread
	r.mu.Unlock()

	thread.Start(ctx)
	r.logger.Info("ingest thread started", slog.String("stream", stream.Name))
	return nil
}

// Stop signals a thread and waits up to the stop timeout for it to reach
// STOPPED before reclaiming the slot. On timeout the slot is marked
// leaked and stays unusable until process restart.
func (r *Registry) Stop(streamName string) error {
	r.mu.Lock()
	s, exists := r.slots[streamName]
	if !exists || s.thread == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, streamName)
	}
	if s.leaked {
		r.mu.Unlock()
		return fmt.Errorf("ingest: slot for %s is leaked", streamName)
	}
	thread := s.thread
	r.mu.Unlock()

	thread.Stop()

	select {
	case <-thread.Done():
		r.mu.Lock()
		delete(r.slots, streamName)
		r.mu.Unlock()
		r.logger.Info("ingest thread reclaimed", slog.String("stream", streamName))
		return nil
	case <-time.After(r.stopTimeout):
		r.mu.Lock()
		s.leaked = true
		r.mu.Unlock()
		r.logger.Error("ingest thread missed stop deadline, slot leaked",
			slog.String("stream", streamName),
			slog.Duration("timeout", r.stopTimeout),
		)
		return fmt.Errorf("ingest: thread for %s did not stop within %s", streamName, r.stopTimeout)
	}
}

// IsRunning reports whether a live (non-leaked) thread exists for the
// stream.
func (r *Registry) IsRunning(streamName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, exists := r.slots[streamName]
	return exists && !s.leaked && s.thread != nil
}

// State returns the thread state for a stream.
func (r *Registry) State(streamName string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, exists := r.slots[streamName]
	if !exists || s.thread == nil {
		return StateStopped, fmt.Errorf("%w: %s", ErrNotRunning, streamName)
	}
	return s.thread.State(), nil
}

// Stats returns the thread counters for a stream.
func (r *Registry) Stats(streamName string) (Counters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, exists := r.slots[streamName]
	if !exists || s.thread == nil {
		return Counters{}, fmt.Errorf("%w: %s", ErrNotRunning, streamName)
	}
	return s.thread.Stats(), nil
}

// Names returns the stream names with live threads.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.slots))
	for name, s := range r.slots {
		if !s.leaked && s.thread != nil {
			names = append(names, name)
		}
	}
	return names
}

// ShutdownAll stops every thread in two phases: all threads are signalled
// first, then the registry waits up to the stop timeout for the whole set
// before reclaiming. Threads still running after the deadline are leaked.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	threads := make([]*Thread, 0, len(r.slots))
	for _, s := range r.slots {
		if s.thread != nil && !s.leaked {
			threads = append(threads, s.thread)
		}
	}
	r.mu.Unlock()

	for _, t := range threads {
		t.Stop()
	}

	deadline := time.After(r.stopTimeout)
	for _, t := range threads {
		select {
		case <-t.Done():
		case <-deadline:
			r.logger.Error("ingest thread missed shutdown deadline",
				slog.String("stream", t.Name()))
		}
	}

	// Contexts and mutexes are reclaimed only for threads that confirmed
	// exit; the rest stay leaked rather than risking a teardown race.
	r.mu.Lock()
	for name, s := range r.slots {
		if s.thread == nil {
			delete(r.slots, name)
			continue
		}
		select {
		case <-s.thread.Done():
			delete(r.slots, name)
		default:
			s.leaked = true
		}
	}
	r.mu.Unlock()
}

// liveCountLocked counts usable slots; callers hold r.mu.
func (r *Registry) liveCountLocked() int {
	count := 0
	for _, s := range r.slots {
		if !s.leaked {
			count++
		}
	}
	return count
}
