package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

var now = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func TestMemoryStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s := domain.NewProgressSession("s1", "u1", 3, now)
	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, s); !errors.Is(err, out.ErrSessionExists) {
		t.Errorf("second Create() error = %v, want ErrSessionExists", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.ProcessedEmails = 99
	again, _ := store.Get(ctx, "s1")
	if again.ProcessedEmails != 0 {
		t.Error("mutating a read leaked into the store")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, out.ErrSessionNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryStore_SaveRejectsRegression(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := domain.NewProgressSession("s1", "u1", 3, now)
	_ = store.Create(ctx, s)

	s.Transition(domain.StatusRunning, now)
	s.RecordResult(true, now)
	s.RecordResult(false, now)
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	stale := s.Clone()
	stale.ProcessedEmails = 1
	if err := store.Save(ctx, stale); !errors.Is(err, out.ErrStaleProgress) {
		t.Errorf("stale Save() error = %v, want ErrStaleProgress", err)
	}

	s.Complete(now)
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save(completed) error = %v", err)
	}
	reopened := s.Clone()
	reopened.Status = domain.StatusRunning
	if err := store.Save(ctx, reopened); !errors.Is(err, out.ErrStaleProgress) {
		t.Errorf("reopen Save() error = %v, want ErrStaleProgress", err)
	}

	if err := store.Save(ctx, domain.NewProgressSession("nope", "u1", 1, now)); !errors.Is(err, out.ErrSessionNotFound) {
		t.Errorf("Save(unknown) error = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryStore_DeleteFinishedBefore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	old := domain.NewProgressSession("old", "u1", 1, now)
	old.Transition(domain.StatusRunning, now)
	old.Complete(now)
	recent := domain.NewProgressSession("recent", "u1", 1, now)
	recent.Transition(domain.StatusRunning, now)
	recent.Fail("boom", now.Add(2*time.Hour))
	running := domain.NewProgressSession("running", "u1", 1, now)
	running.Transition(domain.StatusRunning, now)

	for _, s := range []*domain.ProgressSession{old, recent, running} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create(%s) error = %v", s.SessionID, err)
		}
	}

	n, err := store.DeleteFinishedBefore(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteFinishedBefore() error = %v", err)
	}
	if n != 1 || store.Len() != 2 {
		t.Errorf("deleted %d, remaining %d; want 1 and 2", n, store.Len())
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, out.ErrSessionNotFound) {
		t.Error("old session should be gone")
	}
}

type recordingNotifier struct {
	ids []string
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, s *domain.ProgressSession) error {
	r.ids = append(r.ids, s.SessionID)
	return r.err
}

func TestMultiNotifier(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recordingNotifier{err: boom}, &recordingNotifier{}

	err := MultiNotifier{a, nil, b}.Notify(context.Background(), domain.NewProgressSession("s1", "u1", 1, now))
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
	if len(a.ids) != 1 || len(b.ids) != 1 {
		t.Error("every notifier should be called")
	}
}
