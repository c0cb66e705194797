// Package token mints and verifies the HMAC-signed tokens of the service:
// long-lived session tokens presented in the Authorization header, and
// short-lived playback tokens embedded in streaming URLs. Playback tokens are
// never persisted; validity is entirely self-contained.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/slideflow/internal/domain"
)

const (
	PurposeSession   = "session"
	PurposeTempVideo = "temp_video_access"
)

type Claims struct {
	Sub     string `json:"sub"`
	JobID   string `json:"job_id,omitempty"`
	Purpose string `json:"purpose"`
	Exp     int64  `json:"exp"`
}

type Service struct {
	secret  string
	playTTL time.Duration
	now     func() time.Time
}

func NewService(secret string, playTTL time.Duration) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signing secret is required")
	}
	if playTTL <= 0 {
		playTTL = 5 * time.Minute
	}
	return &Service{
		secret:  secret,
		playTTL: playTTL,
		now:     time.Now,
	}, nil
}

// Issue mints a playback token scoped to one job and one user. The token
// grants read access to that job's artifact and nothing else.
func (s *Service) Issue(jobID, userID string) (string, int, error) {
	tok, err := s.sign(Claims{
		Sub:     userID,
		JobID:   jobID,
		Purpose: PurposeTempVideo,
		Exp:     s.now().Add(s.playTTL).Unix(),
	})
	if err != nil {
		return "", 0, err
	}
	return tok, int(s.playTTL.Seconds()), nil
}

// Verify checks a playback token and returns the job and user it names.
func (s *Service) Verify(tok string) (jobID, userID string, err error) {
	claims, err := s.verify(tok)
	if err != nil {
		return "", "", err
	}
	if claims.Purpose != PurposeTempVideo {
		return "", "", fmt.Errorf("%w: wrong purpose", domain.ErrInvalidToken)
	}
	return claims.JobID, claims.Sub, nil
}

// SignSession mints a long-lived session token. Session issuance normally
// lives with the auth collaborator; this exists for tooling and tests that
// share the signing secret.
func (s *Service) SignSession(userID string, ttl time.Duration) (string, error) {
	return s.sign(Claims{
		Sub:     userID,
		Purpose: PurposeSession,
		Exp:     s.now().Add(ttl).Unix(),
	})
}

// VerifySession checks an Authorization-header session token.
func (s *Service) VerifySession(tok string) (userID string, err error) {
	claims, err := s.verify(tok)
	if err != nil {
		return "", err
	}
	if claims.Purpose != PurposeSession {
		return "", fmt.Errorf("%w: wrong purpose", domain.ErrInvalidToken)
	}
	return claims.Sub, nil
}

func (s *Service) sign(claims Claims) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("marshal token header: %w", err)
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal token claims: %w", err)
	}

	data := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return data + "." + s.hmacSign(data), nil
}

func (s *Service) verify(tok string) (Claims, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("%w: malformed token", domain.ErrInvalidToken)
	}

	expected := s.hmacSign(parts[0] + "." + parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return Claims{}, fmt.Errorf("%w: bad signature", domain.ErrInvalidToken)
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: bad payload encoding", domain.ErrInvalidToken)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: bad payload", domain.ErrInvalidToken)
	}
	if claims.Exp != 0 && s.now().Unix() > claims.Exp {
		return Claims{}, fmt.Errorf("%w: expired", domain.ErrInvalidToken)
	}
	return claims, nil
}

func (s *Service) hmacSign(data string) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
