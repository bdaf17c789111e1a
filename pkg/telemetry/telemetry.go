package telemetry

import (
	"sync"
	"time"
)

// Dispatch is one recorded request lifecycle: a cache hit, a completed
// network call, or a failed one.
type Dispatch struct {
	Kind      string        `json:"kind"`
	Category  string        `json:"category"`
	CacheHit  bool          `json:"cache_hit"`
	QueueWait time.Duration `json:"queue_wait"`
	Duration  time.Duration `json:"duration"`
	Status    int           `json:"status"`
	Success   bool          `json:"success"`
	At        time.Time     `json:"at"`
}

// Recorder accepts dispatch records. Recording happens off the dispatch
// path; implementations should be cheap and must be safe for concurrent use.
type Recorder interface {
	Record(d Dispatch) error
}

// Stats aggregates stored dispatches over the retained window.
type Stats struct {
	Total        int            `json:"total"`
	Successes    int            `json:"successes"`
	Failures     int            `json:"failures"`
	CacheHits    int            `json:"cache_hits"`
	SuccessRate  float64        `json:"success_rate"`
	AvgQueueWait time.Duration  `json:"avg_queue_wait"`
	AvgDuration  time.Duration  `json:"avg_duration"`
	ByCategory   map[string]int `json:"by_category"`
}

// MemoryStore retains recent dispatches in memory, bounded by count and age.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Dispatch
	maxSize int
	maxAge  time.Duration
}

// NewMemoryStore creates a store retaining at most maxSize records no older
// than maxAge. A zero maxAge disables age-based eviction.
func NewMemoryStore(maxSize int, maxAge time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryStore{
		records: make([]Dispatch, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
	}
}

// Record appends a dispatch, evicting the oldest entries past the bounds.
func (s *MemoryStore) Record(d Dispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.At.IsZero() {
		d.At = time.Now()
	}
	s.records = append(s.records, d)
	s.evictLocked()
	return nil
}

// Recent returns the most recent limit records, newest last. A non-positive
// limit returns everything retained.
func (s *MemoryStore) Recent(limit int) []Dispatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]Dispatch, limit)
	copy(out, s.records[len(s.records)-limit:])
	return out
}

// Aggregate computes summary statistics over the retained records.
func (s *MemoryStore) Aggregate() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{ByCategory: make(map[string]int)}
	var totalWait, totalDuration time.Duration

	for _, d := range s.records {
		stats.Total++
		if d.Success {
			stats.Successes++
		} else {
			stats.Failures++
		}
		if d.CacheHit {
			stats.CacheHits++
		}
		stats.ByCategory[d.Category]++
		totalWait += d.QueueWait
		totalDuration += d.Duration
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Total)
		stats.AvgQueueWait = totalWait / time.Duration(stats.Total)
		stats.AvgDuration = totalDuration / time.Duration(stats.Total)
	}
	return stats
}

// Len returns the number of retained records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) evictLocked() {
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		firstFresh := 0
		for firstFresh < len(s.records) && s.records[firstFresh].At.Before(cutoff) {
			firstFresh++
		}
		s.records = s.records[firstFresh:]
	}
	if len(s.records) > s.maxSize {
		s.records = s.records[len(s.records)-s.maxSize:]
	}
}

// multi fans a record out to several recorders, keeping the first error.
type multi []Recorder

// Multi combines recorders; Record delivers to all of them.
func Multi(recorders ...Recorder) Recorder {
	return multi(recorders)
}

func (m multi) Record(d Dispatch) error {
	var firstErr error
	for _, r := range m {
		if err := r.Record(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
