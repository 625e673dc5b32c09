package executor

import (
	"context"
	"sync"

	"github.com/alchemlab/abfe/internal/plan"
)

// scheduler tracks dependency readiness for the worker pool. All state
// is guarded by mu; workers block on the ready channel.
type scheduler struct {
	mu         sync.Mutex
	unmet      map[string]int
	dependents map[string][]string
	stages     map[string]*plan.Stage
	remaining  int
	succeeded  int
	failed     int
	skipped    int

	ready chan *plan.Stage
}

// newScheduler seeds readiness from the plan, treating stages in done
// as already satisfied so a resumed run picks up where it stopped.
func newScheduler(p *plan.Plan, done map[string]bool) *scheduler {
	s := &scheduler{
		unmet:      make(map[string]int),
		dependents: make(map[string][]string),
		stages:     make(map[string]*plan.Stage),
		ready:      make(chan *plan.Stage, len(p.Stages)),
	}
	for _, st := range p.Stages {
		if done[st.ID] {
			continue
		}
		s.stages[st.ID] = st
		s.remaining++
		n := 0
		for _, dep := range st.DependsOn {
			if done[dep] {
				continue
			}
			n++
			s.dependents[dep] = append(s.dependents[dep], st.ID)
		}
		s.unmet[st.ID] = n
	}
	for _, st := range p.Stages {
		if !done[st.ID] && s.unmet[st.ID] == 0 {
			s.ready <- st
		}
	}
	if s.remaining == 0 {
		close(s.ready)
	}
	return s
}

// next blocks until a stage is ready, the plan is exhausted, or the
// context is cancelled.
func (s *scheduler) next(ctx context.Context) (*plan.Stage, bool) {
	select {
	case st, ok := <-s.ready:
		return st, ok
	case <-ctx.Done():
		return nil, false
	}
}

// finish records a terminal state. On success, dependents with no other
// unmet dependencies become ready; on failure, the transitive closure
// of dependents is skipped and its IDs returned for ledger recording.
func (s *scheduler) finish(st *plan.Stage, ok bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var skipped []string
	if ok {
		s.succeeded++
		s.remaining--
		for _, id := range s.dependents[st.ID] {
			s.unmet[id]--
			if s.unmet[id] == 0 {
				s.ready <- s.stages[id]
			}
		}
	} else {
		s.failed++
		s.remaining--
		skipped = s.skipAll(st.ID)
	}
	if s.remaining == 0 {
		close(s.ready)
	}
	return skipped
}

func (s *scheduler) skipAll(failedID string) []string {
	var out []string
	queue := append([]string(nil), s.dependents[failedID]...)
	seen := make(map[string]bool)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] || s.stages[id] == nil {
			continue
		}
		seen[id] = true
		// A stage may be reachable from the failure through one edge
		// while still waiting on others; mark it terminal exactly once.
		delete(s.unmet, id)
		delete(s.stages, id)
		s.skipped++
		s.remaining--
		out = append(out, id)
		queue = append(queue, s.dependents[id]...)
	}
	return out
}

func (s *scheduler) summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{Succeeded: s.succeeded, Failed: s.failed, Skipped: s.skipped}
}
