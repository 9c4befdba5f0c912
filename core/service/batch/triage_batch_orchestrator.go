package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/pkg/metrics"
)

const finalWriteTimeout = 5 * time.Second

// Orchestrator executes batch jobs: classify, score and persist every email
// while keeping the progress session current.
type Orchestrator struct {
	cfg        Config
	store      out.ProgressStore
	classifier out.Classifier
	scorer     in.PriorityService
	repository out.ClassificationRepository
	notifier   out.ProgressNotifier
	archive    out.SessionArchive
	latency    *metrics.LatencyRegistry
	now        func() time.Time
	log        zerolog.Logger
}

// OrchestratorDeps are the collaborators of Orchestrator. Notifier, Archive
// and Latency are optional.
type OrchestratorDeps struct {
	Store      out.ProgressStore
	Classifier out.Classifier
	Scorer     in.PriorityService
	Repository out.ClassificationRepository
	Notifier   out.ProgressNotifier
	Archive    out.SessionArchive
	Latency    *metrics.LatencyRegistry
	Clock      func() time.Time
	Log        zerolog.Logger
}

func NewOrchestrator(cfg Config, deps OrchestratorDeps) *Orchestrator {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	latency := deps.Latency
	if latency == nil {
		latency = metrics.GlobalRegistry()
	}
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		store:      deps.Store,
		classifier: deps.Classifier,
		scorer:     deps.Scorer,
		repository: deps.Repository,
		notifier:   deps.Notifier,
		archive:    deps.Archive,
		latency:    latency,
		now:        now,
		log:        deps.Log.With().Str("component", "batch_orchestrator").Logger(),
	}
}

// Run processes one job to a terminal session state. Per-item failures are
// counted, never returned. The returned error reports orchestration
// failures, which also leave the session failed.
func (o *Orchestrator) Run(ctx context.Context, job *out.BatchJob) (err error) {
	session, err := o.store.Get(ctx, job.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", job.SessionID, err)
	}

	r := &run{
		o:       o,
		job:     job,
		session: session,
		tracker: metrics.NewLatencyTracker(o.cfg.AverageWindow),
		log: o.log.With().
			Str("session_id", job.SessionID).
			Str("user_id", job.UserID).
			Logger(),
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("batch run panicked")
			err = fmt.Errorf("batch run panicked: %v", rec)
			r.fail(ctx, "internal error while processing batch")
		}
	}()

	if err := r.execute(ctx); err != nil {
		r.log.Error().Err(err).Msg("batch run failed")
		r.fail(ctx, err.Error())
		return err
	}
	return nil
}

// run is the state of one Run call. Only the goroutine executing Run
// touches session.
type run struct {
	o       *Orchestrator
	job     *out.BatchJob
	session *domain.ProgressSession
	tracker *metrics.LatencyTracker
	log     zerolog.Logger
}

// itemOutcome is the result of classifying one email.
type itemOutcome struct {
	classification *domain.Classification
	err            error
	elapsed        time.Duration
}

func (r *run) execute(ctx context.Context) error {
	started := r.o.now()
	if err := r.session.Transition(domain.StatusRunning, started); err != nil {
		return err
	}
	if err := r.save(ctx); err != nil {
		return err
	}

	emails := r.job.Emails
	total := len(emails)
	groupSize := r.o.cfg.Concurrency

	for start := 0; start < total; start += groupSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("batch interrupted: %w", err)
		}
		end := min(start+groupSize, total)

		if err := r.session.BeginItem(start, emails[start].Subject, r.average(), r.o.now()); err != nil {
			return err
		}
		if err := r.save(ctx); err != nil {
			return err
		}

		outcomes := r.classifyGroup(ctx, emails[start:end])
		for _, oc := range outcomes {
			var pe *panicError
			if errors.As(oc.err, &pe) {
				r.log.Error().Interface("panic", pe.value).Str("stack", string(pe.stack)).Msg("classifier panicked")
				return pe
			}
		}

		// applied strictly in index order
		for i, oc := range outcomes {
			index := start + i
			success := r.apply(ctx, index, emails[index], oc)
			r.tracker.Record(oc.elapsed)
			r.o.latency.Record("batch.item", oc.elapsed)
			if err := r.session.RecordResult(success, r.o.now()); err != nil {
				return err
			}
			if err := r.save(ctx); err != nil {
				return err
			}
		}

		if end < total {
			if err := sleep(ctx, r.o.cfg.ItemDelay); err != nil {
				return fmt.Errorf("batch interrupted: %w", err)
			}
		}
	}

	if err := r.session.Complete(r.o.now()); err != nil {
		return err
	}
	if err := r.save(ctx); err != nil {
		return err
	}

	r.log.Info().
		Int("total", total).
		Int("successful", r.session.SuccessfulEmails).
		Int("failed", r.session.FailedEmails).
		Dur("took", r.o.now().Sub(started)).
		Msg("batch completed")

	r.archive(ctx)
	return nil
}

func (r *run) average() *time.Duration {
	avg, ok := r.tracker.Average()
	if !ok {
		return nil
	}
	return &avg
}

// classifyGroup classifies emails in parallel. Outcomes keep input order.
func (r *run) classifyGroup(ctx context.Context, emails []*domain.Email) []itemOutcome {
	outcomes := make([]itemOutcome, len(emails))
	if len(emails) == 1 {
		outcomes[0] = r.classify(ctx, emails[0])
		return outcomes
	}

	var g errgroup.Group
	for i, email := range emails {
		g.Go(func() error {
			outcomes[i] = r.classify(ctx, email)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// classify runs one email through the classifier with the per-item timeout
// and retry policy.
func (r *run) classify(ctx context.Context, email *domain.Email) itemOutcome {
	start := time.Now()
	cc := out.ClassifyContext{
		UserID:             r.job.UserID,
		PriorityCategories: r.job.Preferences.PriorityCategories,
	}

	var (
		result *domain.Classification
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = r.classifyOnce(ctx, email, cc)
		if err == nil || attempt >= r.o.cfg.MaxRetries {
			break
		}
		ce, ok := out.AsClassificationError(err)
		if !ok || !ce.Retryable() {
			break
		}
		r.log.Debug().
			Str("email_id", email.ID).
			Str("kind", string(ce.Kind)).
			Int("attempt", attempt+1).
			Msg("retrying classification")
		if sleep(ctx, r.o.cfg.RetryBackoff*time.Duration(attempt+1)) != nil {
			break
		}
	}
	return itemOutcome{classification: result, err: err, elapsed: time.Since(start)}
}

type classifyResult struct {
	classification *domain.Classification
	err            error
}

// panicError carries a panic out of a classifier goroutine so the run can
// fail instead of crashing the process.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("classifier panicked: %v", e.value)
}

// classifyOnce enforces the timeout even when the classifier ignores its
// context.
func (r *run) classifyOnce(ctx context.Context, email *domain.Email, cc out.ClassifyContext) (*domain.Classification, error) {
	itemCtx, cancel := context.WithTimeout(ctx, r.o.cfg.ItemTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan classifyResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- classifyResult{err: &panicError{value: rec, stack: debug.Stack()}}
			}
		}()
		c, err := r.o.classifier.Classify(itemCtx, email, cc)
		done <- classifyResult{classification: c, err: err}
	}()

	select {
	case res := <-done:
		var pe *panicError
		if errors.As(res.err, &pe) {
			return nil, pe
		}
		if res.err != nil {
			return nil, asClassificationError(res.err, r.o.classifier.Name(), time.Since(start))
		}
		if res.classification == nil {
			return nil, &out.ClassificationError{
				Kind:     out.KindParseError,
				Provider: r.o.classifier.Name(),
				Latency:  time.Since(start),
				Err:      errors.New("classifier returned no result"),
			}
		}
		return res.classification, nil
	case <-itemCtx.Done():
		return nil, &out.ClassificationError{
			Kind:     out.KindTimeout,
			Provider: r.o.classifier.Name(),
			Latency:  time.Since(start),
			Err:      itemCtx.Err(),
		}
	}
}

func asClassificationError(err error, provider string, latency time.Duration) error {
	if _, ok := out.AsClassificationError(err); ok {
		return err
	}
	kind := out.KindAPIError
	if errors.Is(err, context.DeadlineExceeded) {
		kind = out.KindTimeout
	}
	return &out.ClassificationError{Kind: kind, Provider: provider, Latency: latency, Err: err}
}

// apply scores and persists one outcome. It reports whether the item
// succeeded; failures are logged and counted, never returned.
func (r *run) apply(ctx context.Context, index int, email *domain.Email, oc itemOutcome) bool {
	if oc.err != nil {
		r.itemFailed(index, email, oc.err)
		return false
	}

	score, err := r.o.scorer.ScorePriority(email, oc.classification, r.job.Preferences)
	if err != nil {
		r.itemFailed(index, email, &out.ClassificationError{Kind: out.KindParseError, Err: err})
		return false
	}

	record := domain.NewClassificationRecord(r.job.UserID, r.job.SessionID, email, oc.classification, score, r.o.now())
	if err := r.o.repository.Upsert(ctx, record); err != nil {
		r.itemFailed(index, email, &out.ClassificationError{Kind: out.KindIntegration, Err: err})
		return false
	}
	return true
}

func (r *run) itemFailed(index int, email *domain.Email, err error) {
	ev := r.log.Warn().Err(err).Int("index", index).Str("email_id", email.ID)
	if ce, ok := out.AsClassificationError(err); ok {
		ev = ev.Str("kind", string(ce.Kind)).Int("status_code", ce.StatusCode)
	}
	ev.Msg("email classification failed")
}

func (r *run) save(ctx context.Context) error {
	if err := r.o.store.Save(ctx, r.session); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	if r.o.notifier != nil {
		if err := r.o.notifier.Notify(ctx, r.session); err != nil {
			r.log.Debug().Err(err).Msg("progress notify failed")
		}
	}
	return nil
}

// fail records an orchestration failure. The write is best effort and
// survives cancellation of the run context.
func (r *run) fail(ctx context.Context, message string) {
	if err := r.session.Fail(message, r.o.now()); err != nil {
		r.log.Warn().Err(err).Str("status", string(r.session.Status)).Msg("cannot mark session failed")
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := r.save(writeCtx); err != nil {
		r.log.Error().Err(err).Msg("failed to record session failure")
	}
	r.archive(writeCtx)
}

func (r *run) archive(ctx context.Context) {
	if r.o.archive == nil {
		return
	}
	if err := r.o.archive.Archive(ctx, r.session.Clone()); err != nil {
		r.log.Warn().Err(err).Msg("failed to archive session")
	}
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
