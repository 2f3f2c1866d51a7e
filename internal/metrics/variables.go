package metrics

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// VariableSummary is a snapshot of the region activity of one variable.
type VariableSummary struct {
	Name         string    `json:"name"`
	Requests     int64     `json:"requests"`
	Hits         int64     `json:"hits"`
	Misses       int64     `json:"misses"`
	HitRate      float64   `json:"hit_rate"`
	BytesDecoded int64     `json:"bytes_decoded"`
	FirstAccess  time.Time `json:"first_access"`
	LastAccess   time.Time `json:"last_access"`
}

// VariableStats tracks region hits and misses per variable name. Once
// maxTracked names are known, new names are ignored.
type VariableStats struct {
	mu         sync.Mutex
	maxTracked int
	vars       map[string]*VariableSummary
}

// NewVariableStats creates a tracker bounded to maxTracked variables; zero
// or less means unbounded.
func NewVariableStats(maxTracked int) *VariableStats {
	return &VariableStats{
		maxTracked: maxTracked,
		vars:       make(map[string]*VariableSummary),
	}
}

func (s *VariableStats) entry(name string) *VariableSummary {
	v := s.vars[name]
	if v != nil {
		return v
	}
	if s.maxTracked > 0 && len(s.vars) >= s.maxTracked {
		return nil
	}
	v = &VariableSummary{Name: name, FirstAccess: time.Now()}
	s.vars[name] = v
	return v
}

func (s *VariableStats) record(name string, hit bool, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.entry(name)
	if v == nil {
		return
	}
	v.Requests++
	if hit {
		v.Hits++
	} else {
		v.Misses++
		v.BytesDecoded += bytes
	}
	v.HitRate = float64(v.Hits) / float64(v.Requests)
	v.LastAccess = time.Now()
}

func (s *VariableStats) hit(name string)                { s.record(name, true, 0) }
func (s *VariableStats) miss(name string, bytes int64) { s.record(name, false, bytes) }

// Get returns a copy of the summary for name.
func (s *VariableStats) Get(name string) (VariableSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[name]
	if !ok {
		return VariableSummary{}, false
	}
	return *v, true
}

// Top returns the n most requested variables, ties broken by name.
func (s *VariableStats) Top(n int) []VariableSummary {
	s.mu.Lock()
	out := make([]VariableSummary, 0, len(s.vars))
	for _, v := range s.vars {
		out = append(out, *v)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b VariableSummary) int {
		if c := cmp.Compare(b.Requests, a.Requests); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Reset forgets every variable.
func (s *VariableStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars = make(map[string]*VariableSummary)
}
