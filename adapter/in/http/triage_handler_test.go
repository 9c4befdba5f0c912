package http

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"triage_server/adapter/out/realtime"
	"triage_server/adapter/out/session"
	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/core/service/batch"
	"triage_server/core/service/meeting"
	"triage_server/core/service/priority"
	"triage_server/core/service/schedule"
	"triage_server/infra/middleware"
)

const testSecret = "handler-secret"

var monday = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type recordingLauncher struct {
	mu   sync.Mutex
	jobs []*out.BatchJob
}

func (l *recordingLauncher) Launch(_ context.Context, job *out.BatchJob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs = append(l.jobs, job)
	return nil
}

type emptyRepository struct{}

func (emptyRepository) Upsert(context.Context, *domain.ClassificationRecord) error { return nil }
func (emptyRepository) ListBySession(context.Context, string, string) ([]*domain.ClassificationRecord, error) {
	return []*domain.ClassificationRecord{}, nil
}
func (emptyRepository) GetByEmail(context.Context, string, string) (*domain.ClassificationRecord, error) {
	return nil, nil
}

type fixedAvailability struct {
	slots []domain.TimePeriod
	query out.FreeSlotQuery
}

func (a *fixedAvailability) FreeSlots(_ context.Context, q out.FreeSlotQuery) ([]domain.TimePeriod, error) {
	a.query = q
	return a.slots, nil
}

type fakeMail struct {
	emails []*domain.Email
	query  out.MailQuery
	token  string
}

func (m *fakeMail) FetchMessages(_ context.Context, token *oauth2.Token, q out.MailQuery) ([]*domain.Email, error) {
	m.query = q
	m.token = token.AccessToken
	return m.emails, nil
}

// hookedSubscriber runs afterSubscribe once the subscription exists, to
// stage writes that land before the handler reads its snapshot.
type hookedSubscriber struct {
	*realtime.ProgressHub
	afterSubscribe func(sessionID string)
}

func (s *hookedSubscriber) Subscribe(sessionID string) <-chan *domain.ProgressEvent {
	ch := s.ProgressHub.Subscribe(sessionID)
	if s.afterSubscribe != nil {
		s.afterSubscribe(sessionID)
	}
	return ch
}

type testEnv struct {
	app      *fiber.App
	launcher *recordingLauncher
	avail    *fixedAvailability
	mail     *fakeMail
	store    *session.MemoryStore
	progress *hookedSubscriber
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := func() time.Time { return monday }
	env := &testEnv{
		launcher: &recordingLauncher{},
		avail:    &fixedAvailability{},
		mail:     &fakeMail{},
		store:    session.NewMemoryStore(),
		progress: &hookedSubscriber{ProgressHub: realtime.NewProgressHub(zerolog.Nop())},
	}
	t.Cleanup(env.progress.Close)

	batchSvc := batch.NewService(batch.DefaultConfig(), batch.ServiceDeps{
		Store:      env.store,
		Repository: emptyRepository{},
		Launcher:   env.launcher,
		Clock:      clock,
		Log:        zerolog.Nop(),
	})
	meetingSvc := meeting.NewService(meeting.NewDetector(clock, time.UTC), schedule.NewSuggester(env.avail, clock))

	h := NewTriageHandler(TriageHandlerDeps{
		Batch:    batchSvc,
		Scorer:   priority.NewScorer(clock),
		Meeting:  meetingSvc,
		Mail:     env.mail,
		Progress: env.progress,
		MaxBatch: batch.DefaultConfig().MaxEmails,
		Defaults: domain.DefaultPreferences(),
		Log:      zerolog.Nop(),
	})

	env.app = fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	env.app.Use(middleware.RequestID(), middleware.Recover())
	api := env.app.Group("/api/v1", middleware.JWTAuth(testSecret))
	h.Register(api, nil)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := middleware.IssueToken(testSecret, user, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func testEmail(id string) map[string]any {
	return map[string]any{
		"id":      id,
		"subject": "Contract review",
		"sender":  map[string]any{"email": "boss@example.com"},
		"date":    monday.Add(-time.Hour).Format(time.RFC3339),
		"snippet": "please review",
	}
}

func TestSubmitBatch_AcceptedThenPollable(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "POST", "/api/v1/triage/batches", "u1", map[string]any{
		"emails": []any{testEmail("e1"), testEmail("e2")},
	})
	if status != 202 {
		t.Fatalf("status = %d, body %v", status, body)
	}
	id, _ := body["session_id"].(string)
	if id == "" || body["total_emails"] != float64(2) {
		t.Fatalf("body = %v", body)
	}
	if len(env.launcher.jobs) != 1 || env.launcher.jobs[0].UserID != "u1" {
		t.Fatalf("launched jobs = %+v", env.launcher.jobs)
	}
	if env.launcher.jobs[0].Preferences.WorkingHours.Start != "09:00" {
		t.Error("default preferences not applied")
	}

	status, body = env.do(t, "GET", "/api/v1/triage/batches/"+id, "u1", nil)
	if status != 200 || body["status"] != string(domain.StatusPending) || body["processed_emails"] != float64(0) {
		t.Errorf("progress = %d %v", status, body)
	}

	if status, _ = env.do(t, "GET", "/api/v1/triage/batches/"+id, "intruder", nil); status != 404 {
		t.Errorf("other user status = %d, want 404", status)
	}
	if status, _ = env.do(t, "GET", "/api/v1/triage/batches/nope", "u1", nil); status != 404 {
		t.Errorf("unknown session status = %d, want 404", status)
	}

	status, body = env.do(t, "GET", "/api/v1/triage/batches/"+id+"/results", "u1", nil)
	if status != 200 || body["count"] != float64(0) {
		t.Errorf("results = %d %v", status, body)
	}
}

func TestSubmitBatch_Rejections(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		user   string
		body   any
		status int
		code   string
	}{
		{"no token", "", map[string]any{"emails": []any{testEmail("e1")}}, 401, "UNAUTHORIZED"},
		{"empty", "u1", map[string]any{"emails": []any{}}, 400, "EMPTY_BATCH"},
		{"missing id", "u1", map[string]any{"emails": []any{map[string]any{"date": monday.Format(time.RFC3339)}}}, 400, "INVALID_INPUT"},
		{"bad hours", "u1", map[string]any{
			"emails":      []any{testEmail("e1")},
			"preferences": map[string]any{"working_hours": map[string]any{"start": "18:00", "end": "09:00"}},
		}, 400, "VALIDATION_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, "POST", "/api/v1/triage/batches", tt.user, tt.body)
			if status != tt.status {
				t.Fatalf("status = %d, want %d (%v)", status, tt.status, body)
			}
			errBody, _ := body["error"].(map[string]any)
			if errBody["code"] != tt.code {
				t.Errorf("code = %v, want %s", errBody["code"], tt.code)
			}
		})
	}
	if len(env.launcher.jobs) != 0 {
		t.Errorf("rejected batches launched: %d", len(env.launcher.jobs))
	}
}

func TestSubmitGmailBatch(t *testing.T) {
	env := newTestEnv(t)
	env.mail.emails = []*domain.Email{{ID: "g1", Date: monday}}

	status, body := env.do(t, "POST", "/api/v1/triage/batches/gmail", "u1", map[string]any{"access_token": "tok"})
	if status != 202 {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if env.mail.token != "tok" || env.mail.query.Query != gmailQueryInbox || env.mail.query.MaxResults != defaultGmailFetch {
		t.Errorf("mail call = %q %+v", env.mail.token, env.mail.query)
	}

	if status, _ := env.do(t, "POST", "/api/v1/triage/batches/gmail", "u1", map[string]any{}); status != 400 {
		t.Errorf("missing token status = %d, want 400", status)
	}
}

func TestScorePriority(t *testing.T) {
	env := newTestEnv(t)
	email := testEmail("e1")

	status, body := env.do(t, "POST", "/api/v1/triage/priority", "u1", map[string]any{
		"email": email,
		"classification": map[string]any{
			"urgency": 5, "importance": 5, "action_required": true, "category": "work", "confidence": 0.9,
		},
	})
	if status != 200 {
		t.Fatalf("status = %d, body %v", status, body)
	}
	score, _ := body["score"].(float64)
	if score < 0 || score > 10 || body["is_high_priority"] != (score >= domain.HighPriorityThreshold) {
		t.Errorf("body = %v", body)
	}

	status, _ = env.do(t, "POST", "/api/v1/triage/priority", "u1", map[string]any{
		"email":          email,
		"classification": map[string]any{"urgency": 9, "importance": 3, "category": "work", "confidence": 0.5},
	})
	if status != 400 {
		t.Errorf("out-of-range urgency status = %d, want 400", status)
	}
}

func TestMeetingRoutes(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "POST", "/api/v1/triage/meetings/detect", "u1", map[string]any{
		"body_text": "Can we meet Tuesday at 2pm to discuss the proposal?",
	})
	if status != 200 || body["has_meeting_request"] != true || body["priority"] == nil {
		t.Fatalf("detect = %d %v", status, body)
	}

	env.avail.slots = []domain.TimePeriod{
		{Start: monday.Add(time.Hour), End: monday.Add(90 * time.Minute)},
		{Start: monday.Add(29 * time.Hour), End: monday.Add(29*time.Hour + 30*time.Minute)},
	}
	status, body = env.do(t, "POST", "/api/v1/triage/meetings/suggest", "u1", map[string]any{
		"access_token": "tok",
		"content":      map[string]any{"body_text": "Can we meet Tuesday at 2pm?"},
	})
	if status != 200 {
		t.Fatalf("suggest = %d %v", status, body)
	}
	slots, _ := body["suggestions"].([]any)
	if len(slots) != 2 {
		t.Fatalf("suggestions = %v", body["suggestions"])
	}
	first, _ := slots[0].(map[string]any)
	if first["start"] != monday.Add(29*time.Hour).Format(time.RFC3339) {
		t.Errorf("first suggestion = %v, want Tuesday 14:00", first)
	}
	if env.avail.query.Token == nil || env.avail.query.Token.AccessToken != "tok" || env.avail.query.UserID != "u1" {
		t.Errorf("availability query = %+v", env.avail.query)
	}

	if status, _ := env.do(t, "POST", "/api/v1/triage/meetings/suggest", "u1", map[string]any{}); status != 400 {
		t.Errorf("missing token status = %d, want 400", status)
	}
}

func TestScorePriority_Unclassified(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "POST", "/api/v1/triage/priority", "u1", map[string]any{
		"email":          testEmail("e1"),
		"classification": nil,
	})
	if status != 200 {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if body["score"] != priority.PointsUnclassified {
		t.Errorf("score = %v, want %v", body["score"], priority.PointsUnclassified)
	}

	if status, _ := env.do(t, "POST", "/api/v1/triage/priority", "u1", map[string]any{}); status != 400 {
		t.Errorf("missing email status = %d, want 400", status)
	}
}

func TestSubmitGmailBatch_CapsFetchAtBatchLimit(t *testing.T) {
	env := newTestEnv(t)
	env.mail.emails = []*domain.Email{{ID: "g1", Date: monday}}

	status, body := env.do(t, "POST", "/api/v1/triage/batches/gmail", "u1", map[string]any{
		"access_token": "tok",
		"max_results":  400,
	})
	if status != 202 {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if want := batch.DefaultConfig().MaxEmails; env.mail.query.MaxResults != want {
		t.Errorf("fetched %d, want %d", env.mail.query.MaxResults, want)
	}
}

// streamFrames opens the progress stream and returns the decoded data of
// every frame once the stream ends.
func (e *testEnv) streamFrames(t *testing.T, sessionID, user string) []map[string]any {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/triage/batches/"+sessionID+"/stream", nil)
	token, err := middleware.IssueToken(testSecret, user, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.app.Test(req, 2000)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)

	var frames []map[string]any
	for _, line := range strings.Split(string(raw), "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			t.Fatalf("decode frame %q: %v", data, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func (e *testEnv) submit(t *testing.T, user string, n int) string {
	t.Helper()
	emails := make([]any, n)
	for i := range emails {
		emails[i] = testEmail(string(rune('a' + i)))
	}
	status, body := e.do(t, "POST", "/api/v1/triage/batches", user, map[string]any{"emails": emails})
	if status != 202 {
		t.Fatalf("submit status = %d, body %v", status, body)
	}
	return body["session_id"].(string)
}

func TestStreamProgress(t *testing.T) {
	ctx := context.Background()

	t.Run("completion before snapshot ends the stream", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.submit(t, "u1", 2)

		env.progress.afterSubscribe = func(sessionID string) {
			s, _ := env.store.Get(ctx, sessionID)
			_ = s.Transition(domain.StatusRunning, monday)
			_ = s.RecordResult(true, monday)
			_ = s.RecordResult(false, monday)
			_ = s.Complete(monday)
			if err := env.store.Save(ctx, s); err != nil {
				t.Errorf("save: %v", err)
			}
			_ = env.progress.Notify(ctx, s)
		}

		frames := env.streamFrames(t, id, "u1")
		if len(frames) != 1 {
			t.Fatalf("frames = %d, want 1: %v", len(frames), frames)
		}
		if frames[0]["status"] != string(domain.StatusCompleted) || frames[0]["processed_emails"] != float64(2) {
			t.Errorf("frame = %v", frames[0])
		}
	})

	t.Run("events older than the snapshot are skipped", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.submit(t, "u1", 2)

		env.progress.afterSubscribe = func(sessionID string) {
			s, _ := env.store.Get(ctx, sessionID)
			_ = s.Transition(domain.StatusRunning, monday)
			_ = s.RecordResult(true, monday)
			_ = env.progress.Notify(ctx, s)

			_ = s.RecordResult(true, monday)
			if err := env.store.Save(ctx, s); err != nil {
				t.Errorf("save: %v", err)
			}
			_ = s.Complete(monday)
			_ = env.progress.Notify(ctx, s)
		}

		frames := env.streamFrames(t, id, "u1")
		if len(frames) != 2 {
			t.Fatalf("frames = %d, want 2: %v", len(frames), frames)
		}
		for i, f := range frames {
			if f["processed_emails"] != float64(2) {
				t.Errorf("frame %d processed = %v, want 2", i, f["processed_emails"])
			}
		}
		if frames[0]["status"] != string(domain.StatusRunning) || frames[1]["status"] != string(domain.StatusCompleted) {
			t.Errorf("statuses = %v, %v", frames[0]["status"], frames[1]["status"])
		}
	})

	t.Run("other users get 404", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.submit(t, "u1", 1)

		status, _ := env.do(t, "GET", "/api/v1/triage/batches/"+id+"/stream", "intruder", nil)
		if status != 404 {
			t.Errorf("status = %d, want 404", status)
		}
		if n := env.progress.Metrics().TotalConnections; n != 0 {
			t.Errorf("subscribers left = %d, want 0", n)
		}
	})
}
