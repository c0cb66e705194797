package token

import (
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/slideflow/internal/domain"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService("test-secret", 5*time.Minute)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return s
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	s := newTestService(t)

	tok, expiresIn, err := s.Issue("job-1", "user-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if expiresIn != 300 {
		t.Fatalf("expected 300s expiry, got %d", expiresIn)
	}

	jobID, userID, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if jobID != "job-1" || userID != "user-1" {
		t.Fatalf("expected (job-1, user-1), got (%s, %s)", jobID, userID)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	s := newTestService(t)

	issued := time.Now()
	s.now = func() time.Time { return issued }
	tok, _, err := s.Issue("job-1", "user-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	s.now = func() time.Time { return issued.Add(6 * time.Minute) }
	if _, _, err := s.Verify(tok); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestVerifyRejectsWrongPurpose(t *testing.T) {
	s := newTestService(t)

	session, err := s.SignSession("user-1", time.Hour)
	if err != nil {
		t.Fatalf("SignSession returned error: %v", err)
	}

	// A session token must never pass as a playback token, and vice versa.
	if _, _, err := s.Verify(session); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for session token on play path, got %v", err)
	}

	play, _, err := s.Issue("job-1", "user-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if _, err := s.VerifySession(play); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for play token on session path, got %v", err)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	s := newTestService(t)

	tok, _, err := s.Issue("job-1", "user-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	tampered := tok[:len(tok)-2] + "xx"
	if _, _, err := s.Verify(tampered); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}

	other, err := NewService("different-secret", 5*time.Minute)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	if _, _, err := other.Verify(tok); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken across secrets, got %v", err)
	}
}
