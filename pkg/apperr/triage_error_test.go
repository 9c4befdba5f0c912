package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAsAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"app error", NotFound("session"), CodeNotFound, http.StatusNotFound},
		{"wrapped app error", fmt.Errorf("submit: %w", BatchTooLarge(60, 50)), CodeBatchTooLarge, http.StatusBadRequest},
		{"plain error", errors.New("boom"), CodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsAppError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("code = %v, want %v", got.Code, tt.wantCode)
			}
			if GetHTTPStatus(tt.err) != tt.wantStatus {
				t.Errorf("status = %v, want %v", GetHTTPStatus(tt.err), tt.wantStatus)
			}
		})
	}
}

func TestBatchTooLargeDetails(t *testing.T) {
	err := BatchTooLarge(51, 50)
	if err.Details["size"] != 51 || err.Details["max"] != 50 {
		t.Errorf("details = %v", err.Details)
	}
}
