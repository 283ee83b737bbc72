package utils

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorWithSuggestion_Error(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		suggestion     string
		wantContains   []string
		wantNotContain string
	}{
		{
			name:         "with suggestion",
			err:          errors.New("event not found"),
			suggestion:   "Try listing the queue",
			wantContains: []string{"event not found", "Suggestion:", "Try listing"},
		},
		{
			name:           "without suggestion",
			err:            errors.New("simple error"),
			suggestion:     "",
			wantContains:   []string{"simple error"},
			wantNotContain: "Suggestion:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &ErrorWithSuggestion{
				Err:        tt.err,
				Suggestion: tt.suggestion,
			}

			result := e.Error()

			for _, want := range tt.wantContains {
				if !strings.Contains(result, want) {
					t.Errorf("Error() = %q, want to contain %q", result, want)
				}
			}

			if tt.wantNotContain != "" && strings.Contains(result, tt.wantNotContain) {
				t.Errorf("Error() = %q, should not contain %q", result, tt.wantNotContain)
			}
		})
	}
}

func TestErrorWithSuggestion_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrapped := &ErrorWithSuggestion{
		Err:        originalErr,
		Suggestion: "do something",
	}

	if wrapped.Unwrap() != originalErr {
		t.Errorf("Unwrap() returned %v, want %v", wrapped.Unwrap(), originalErr)
	}
	if !errors.Is(wrapped, originalErr) {
		t.Error("errors.Is should work with wrapped error")
	}
}

func TestErrOffline(t *testing.T) {
	tests := []struct {
		reason         string
		wantSuggestion string
	}{
		{"connection refused", "server is running"},
		{"i/o timeout", "Try again later"},
		{"", "kept on disk"},
	}

	for _, tt := range tests {
		err := ErrOffline(tt.reason)
		if !errors.Is(err, ErrOfflineSentinel) {
			t.Errorf("ErrOffline(%q) should match ErrOfflineSentinel", tt.reason)
		}
		if !strings.Contains(err.Error(), tt.wantSuggestion) {
			t.Errorf("ErrOffline(%q) = %q, want suggestion containing %q", tt.reason, err.Error(), tt.wantSuggestion)
		}
	}
}

func TestErrInvalidAction(t *testing.T) {
	err := ErrInvalidAction("jump", []string{"lesson_progress", "time_spent"})
	if !strings.Contains(err.Error(), "jump") || !strings.Contains(err.Error(), "lesson_progress, time_spent") {
		t.Errorf("unexpected error text: %s", err.Error())
	}
}

func TestWrapWithSuggestion(t *testing.T) {
	if WrapWithSuggestion(nil, "anything") != nil {
		t.Error("wrapping nil should return nil")
	}
	base := errors.New("base")
	err := WrapWithSuggestion(base, "fix it")
	if !errors.Is(err, base) || !strings.Contains(err.Error(), "fix it") {
		t.Errorf("unexpected wrapped error: %v", err)
	}
}
