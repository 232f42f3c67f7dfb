package ws

import (
	"fmt"
	"testing"
	"time"

	"github.com/tutorlink/internal/admission"
	"github.com/tutorlink/internal/membership"
	"github.com/tutorlink/internal/repository"
	"github.com/tutorlink/internal/service"
)

func TestErrorPayloadMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"rate limit", &admission.RateLimitError{RetryAfter: 30 * time.Second}, CodeRateLimit},
		{"wrapped rate limit", fmt.Errorf("send: %w", &admission.RateLimitError{RetryAfter: time.Second}), CodeRateLimit},
		{"thread locked", service.ErrThreadLocked, CodeThreadLocked},
		{"validation", fmt.Errorf("%w: content is empty", service.ErrValidation), CodeValidationFailed},
		{"permission", service.ErrPermissionDenied, CodePermissionDenied},
		{"not participant", membership.ErrNotParticipant, CodePermissionDenied},
		{"not found", repository.ErrNotFound, CodeNotFound},
		{"unknown", fmt.Errorf("pool exhausted"), CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := errorPayload(tc.err); got.Code != tc.code {
				t.Errorf("code = %s, want %s", got.Code, tc.code)
			}
		})
	}
}

func TestErrorPayloadRetryHint(t *testing.T) {
	p := errorPayload(&admission.RateLimitError{RetryAfter: 42 * time.Second})
	if p.RetryAfter != 42 {
		t.Errorf("RetryAfter = %d, want 42", p.RetryAfter)
	}
	// Internal errors carry no hint.
	if p := errorPayload(service.ErrValidation); p.RetryAfter != 0 {
		t.Errorf("RetryAfter = %d, want 0", p.RetryAfter)
	}
}

func TestAddClientRefusesClosedClient(t *testing.T) {
	h := NewHub(nil, Options{})
	c := NewClient(h, nil, "u1", "r1")
	close(c.done)

	h.addClient(c)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.total != 0 || len(h.rooms) != 0 {
		t.Fatalf("closed client registered: total=%d rooms=%d", h.total, len(h.rooms))
	}
}

func TestUnregisterBeforeRegisterLeavesNoEntry(t *testing.T) {
	h := NewHub(nil, Options{})
	c := NewClient(h, nil, "u1", "r1")

	// A transport that dies instantly closes the client and enqueues its
	// unregister; the hub may drain that before the pending register.
	close(c.done)
	h.removeClient(c)
	h.addClient(c)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.total != 0 || len(h.rooms) != 0 {
		t.Fatalf("dead client survived in registry: total=%d rooms=%d", h.total, len(h.rooms))
	}
}

func TestRegisterThenUnregister(t *testing.T) {
	h := NewHub(nil, Options{})
	c := NewClient(h, nil, "u1", "r1")

	h.addClient(c)
	h.mu.RLock()
	total := h.total
	h.mu.RUnlock()
	if total != 1 {
		t.Fatalf("total = %d after add, want 1", total)
	}

	close(c.done) // stand in for pump shutdown, removeClient's Close is then a no-op
	c.once.Do(func() {})
	h.removeClient(c)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.total != 0 || len(h.rooms) != 0 {
		t.Fatalf("client not removed: total=%d rooms=%d", h.total, len(h.rooms))
	}
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{-time.Second, 1},
		{300 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{time.Minute, 60},
	}
	for _, tc := range cases {
		if got := retryAfterSeconds(tc.in); got != tc.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
