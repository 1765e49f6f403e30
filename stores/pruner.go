package stores

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetentionSchedule runs the pruner daily at 03:00:00.
const DefaultRetentionSchedule = "0 0 3 * * *"

// Pruner periodically removes conversations that have not been updated
// within the retention window.
type Pruner struct {
	store     MessageStore
	schedule  string
	retention time.Duration
	now       func() time.Time
	logger    *log.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewPruner creates a pruner. schedule is a six-field cron expression
// (seconds first); an empty schedule uses DefaultRetentionSchedule.
func NewPruner(store MessageStore, schedule string, retention time.Duration) *Pruner {
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}
	return &Pruner{
		store:     store,
		schedule:  schedule,
		retention: retention,
		now:       time.Now,
		logger:    log.New(os.Stdout, "[PRUNER] ", log.LstdFlags),
	}
}

// WithLogger sets the pruner logger.
func (p *Pruner) WithLogger(l *log.Logger) *Pruner {
	if l != nil {
		p.logger = l
	}
	return p
}

// Cutoff is the oldest update time that survives a run.
func (p *Pruner) Cutoff() time.Time {
	return p.now().Add(-p.retention)
}

// RunOnce prunes immediately.
func (p *Pruner) RunOnce() (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	n, err := p.store.PruneInactive(p.Cutoff())
	if err != nil {
		return 0, fmt.Errorf("retention run failed: %w", err)
	}
	return n, nil
}

// Start schedules the pruner. Calling Start twice is an error.
func (p *Pruner) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return fmt.Errorf("pruner already started")
	}

	c := cron.New(cron.WithSeconds())
	id, err := c.AddFunc(p.schedule, func() {
		n, err := p.RunOnce()
		if err != nil {
			p.logger.Printf("%v", err)
			return
		}
		p.logger.Printf("retention run removed %d conversations", n)
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", p.schedule, err)
	}

	p.cron = c
	p.entryID = id
	c.Start()
	p.logger.Printf("retention pruner scheduled (%s, keep %s)", p.schedule, p.retention)
	return nil
}

// Next returns the next scheduled run, or the zero time when not started.
func (p *Pruner) Next() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron == nil {
		return time.Time{}
	}
	return p.cron.Entry(p.entryID).Next
}

// Stop halts scheduling. The returned context is done once a running prune
// has finished.
func (p *Pruner) Stop() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := p.cron.Stop()
	p.cron = nil
	return ctx
}
