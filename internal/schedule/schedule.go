// Package schedule runs registered agent definitions on cron schedules.
// Each firing is an ordinary bounded run through the Invocation Boundary;
// overlapping firings of the same entry are skipped rather than queued,
// since a sub-agent run is idempotent-by-objective, not a work queue.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/subagent/internal/agent"
	"github.com/robfig/cron/v3"
)

// Entry names one recurring invocation.
type Entry struct {
	// Spec is a standard cron expression ("*/5 * * * *").
	Spec string

	// Agent is the registered definition name to invoke.
	Agent string

	// Inputs are passed to every firing.
	Inputs map[string]string
}

// ResultFunc receives each firing's outcome. err is non-nil for
// configuration failures; res carries the run's termination reason
// otherwise.
type ResultFunc func(entry Entry, res *agent.RunResult, err error)

// Scheduler drives recurring sub-agent runs.
type Scheduler struct {
	boundary *agent.Boundary
	sink     agent.EventSink
	onResult ResultFunc

	cron *cron.Cron

	mu      sync.Mutex
	running map[string]*atomic.Bool
}

// NewScheduler builds a scheduler over a configured boundary. onResult may
// be nil.
func NewScheduler(boundary *agent.Boundary, sink agent.EventSink, onResult ResultFunc) *Scheduler {
	return &Scheduler{
		boundary: boundary,
		sink:     sink,
		onResult: onResult,
		cron:     cron.New(),
		running:  make(map[string]*atomic.Bool),
	}
}

// Add registers one entry. The agent must already be registered with the
// boundary so a bad name fails at schedule time, not at 3am.
func (s *Scheduler) Add(entry Entry) error {
	if _, ok := s.boundary.Definition(entry.Agent); !ok {
		return fmt.Errorf("schedule: no agent named %q", entry.Agent)
	}

	key := entry.Spec + "/" + entry.Agent
	s.mu.Lock()
	flag, ok := s.running[key]
	if !ok {
		flag = &atomic.Bool{}
		s.running[key] = flag
	}
	s.mu.Unlock()

	_, err := s.cron.AddFunc(entry.Spec, func() {
		if !flag.CompareAndSwap(false, true) {
			return // previous firing still in flight
		}
		defer flag.Store(false)

		res, runErr := s.boundary.Invoke(context.Background(), entry.Agent, entry.Inputs, s.sink)
		if s.onResult != nil {
			s.onResult(entry, res, runErr)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	return nil
}

// Start begins firing entries. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight firings to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
