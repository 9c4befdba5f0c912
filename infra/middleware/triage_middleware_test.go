package middleware

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"triage_server/pkg/apperr"
)

const testSecret = "test-secret"

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(RequestID(), Recover())
	return app
}

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return resp
}

func TestErrorHandler_Envelope(t *testing.T) {
	app := newApp()
	app.Get("/app", func(c *fiber.Ctx) error {
		return apperr.NotFound("session")
	})
	app.Get("/wrapped", func(c *fiber.Ctx) error {
		return errors.Join(errors.New("ctx"), apperr.BadRequest("bad"))
	})
	app.Get("/plain", func(c *fiber.Ctx) error {
		return errors.New("secret detail")
	})
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("boom")
	})

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/app", 404, apperr.CodeNotFound},
		{"/wrapped", 400, apperr.CodeBadRequest},
		{"/plain", 500, apperr.CodeInternalError},
		{"/panic", 500, apperr.CodeInternalError},
		{"/missing", 404, apperr.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			body := decodeError(t, resp.Body)
			if body.Success || body.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %s", body.Error, tt.code)
			}
			if body.RequestID == "" || resp.Header.Get("X-Request-ID") != body.RequestID {
				t.Errorf("request id not propagated: %q", body.RequestID)
			}
			if strings.Contains(body.Error.Message, "secret detail") {
				t.Error("internal error message leaked")
			}
		})
	}
}

func TestJWTAuth(t *testing.T) {
	app := newApp()
	app.Get("/me", JWTAuth(testSecret), func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})

	valid, err := IssueToken(testSecret, "user-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, _ := IssueToken(testSecret, "user-1", -time.Hour)
	wrongKey, _ := IssueToken("other", "user-1", time.Hour)
	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-1"}).SignedString([]byte(testSecret))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"valid header", "Bearer " + valid, "", 200},
		{"valid query", "", valid, 200},
		{"missing", "", "", 401},
		{"expired", "Bearer " + expired, "", 401},
		{"wrong key", "Bearer " + wrongKey, "", 401},
		{"no subject", "Bearer " + noSub, "", 401},
		{"no expiry", "Bearer " + noExp, "", 401},
		{"wrong scheme", "Basic " + valid, "", 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/me"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status == 200 {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != "user-1" {
					t.Errorf("user id = %q, want user-1", body)
				}
			}
		})
	}
}

func TestUserRateLimiter(t *testing.T) {
	limiter := NewUserRateLimiter(2, time.Hour)
	app := newApp()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(LocalUserID, c.Get("X-User"))
		return c.Next()
	})
	app.Post("/submit", limiter.Handler(), func(c *fiber.Ctx) error {
		return c.SendStatus(202)
	})

	send := func(user string) int {
		req := httptest.NewRequest("POST", "/submit", nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp.StatusCode
	}

	for i, want := range []int{202, 202, 429} {
		if got := send("a"); got != want {
			t.Errorf("request %d for a: status = %d, want %d", i+1, got, want)
		}
	}
	if got := send("b"); got != 202 {
		t.Errorf("other user limited: status = %d", got)
	}
	limiter.mu.Lock()
	for _, id := range []string{"a", "b"} {
		if _, ok := limiter.buckets[id]; !ok {
			t.Errorf("no bucket for %q; keys changed after the request ended", id)
		}
	}
	limiter.mu.Unlock()
	if n := limiter.Prune(-time.Minute); n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}
}
