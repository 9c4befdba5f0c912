package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"triage_server/core/port/out"
)

const (
	DefaultGCSchedule  = "@every 10m"
	DefaultGCRetention = 24 * time.Hour
)

// SessionGC removes finished sessions from a progress store on a cron
// schedule.
type SessionGC struct {
	store     out.ProgressStore
	retention time.Duration
	now       func() time.Time
	cron      *cron.Cron
	log       zerolog.Logger
}

// NewSessionGC registers the sweep on schedule (standard cron syntax or
// descriptors such as "@every 10m").
func NewSessionGC(store out.ProgressStore, schedule string, retention time.Duration, log zerolog.Logger) (*SessionGC, error) {
	if schedule == "" {
		schedule = DefaultGCSchedule
	}
	if retention <= 0 {
		retention = DefaultGCRetention
	}

	gc := &SessionGC{
		store:     store,
		retention: retention,
		now:       time.Now,
		cron:      cron.New(),
		log:       log.With().Str("component", "session_gc").Logger(),
	}
	if _, err := gc.cron.AddFunc(schedule, func() { gc.Sweep(context.Background()) }); err != nil {
		return nil, err
	}
	return gc, nil
}

// Sweep deletes sessions finished more than retention ago.
func (g *SessionGC) Sweep(ctx context.Context) int {
	cutoff := g.now().Add(-g.retention)
	n, err := g.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		g.log.Error().Err(err).Msg("session sweep failed")
		return 0
	}
	if n > 0 {
		g.log.Info().Int("deleted", n).Time("cutoff", cutoff).Msg("expired sessions removed")
	}
	return n
}

func (g *SessionGC) Start() {
	g.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (g *SessionGC) Stop() {
	<-g.cron.Stop().Done()
}
