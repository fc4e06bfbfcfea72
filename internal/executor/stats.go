package executor

import (
	"sync"
	"time"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
)

// Stats is a concurrency-safe ErrorMetadata. Several executors may share one.
type Stats struct {
	mu sync.Mutex
	m  domain.ErrorMetadata
}

func NewStats() *Stats { return &Stats{} }

func (s *Stats) RecordError(code domain.ErrorCode, at time.Time) {
	s.mu.Lock()
	s.m.RecordError(code, at)
	s.mu.Unlock()
}

func (s *Stats) RecordSuccess() {
	s.mu.Lock()
	s.m.RecordSuccess()
	s.mu.Unlock()
}

// Snapshot returns a copy of the current statistics.
func (s *Stats) Snapshot() domain.ErrorMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Clone()
}
