package admin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"arcavault/internal/audit"
	"arcavault/internal/infrastructure"
)

// ErrBreakGlassDenied is the only error a failed break-glass attempt
// returns. It is intentionally vague: the audit log carries the detail, the
// caller learns nothing about which part of the response was wrong.
var ErrBreakGlassDenied = errors.New("break-glass validation failed")

// challengeDateLayout pins the challenge to a UTC calendar day.
const challengeDateLayout = "2006-01-02"

// GenerateChallenge returns today's break-glass challenge: the first 4 bytes
// of HMAC(admin_key, machine_seed ‖ UTC_date) as 8 hex characters. The value
// is identical for the whole UTC day and different the next day.
func (s *Service) GenerateChallenge() (string, error) {
	return s.challengeFor(time.Now().UTC())
}

func (s *Service) challengeFor(day time.Time) (string, error) {
	seed := s.keys.MachineSeed()
	if len(seed) == 0 {
		return "", fmt.Errorf("machine seed unavailable")
	}
	mac := hmac.New(sha256.New, s.keys.Admin)
	mac.Write(seed)
	mac.Write([]byte(day.UTC().Format(challengeDateLayout)))
	return hex.EncodeToString(mac.Sum(nil)[:4]), nil
}

// ExpectedResponse computes the response for a challenge:
// HMAC(break_glass_key, challenge ‖ machine_seed)[0:4] as 8 hex characters.
// The challenge is consumed in its hex string form. Authoring tools use this
// to answer a user's challenge offline; the validator recomputes it.
func ExpectedResponse(breakGlassKey, machineSeed []byte, challenge string) string {
	mac := hmac.New(sha256.New, breakGlassKey)
	mac.Write([]byte(strings.ToLower(strings.TrimSpace(challenge))))
	mac.Write(machineSeed)
	return hex.EncodeToString(mac.Sum(nil)[:4])
}

// ValidateResponse verifies a break-glass response for a challenge. On
// success it mints a 4-hour break-glass token, persists it and injects its
// capability set. On failure it audits a denied outcome and returns
// ErrBreakGlassDenied without revealing the expected value.
func (s *Service) ValidateResponse(ctx context.Context, challenge, response, scope string) (Token, error) {
	if s.bgLimiter != nil && !s.bgLimiter.Allow() {
		s.auditBreakGlass(ctx, scope, "rate limited")
		return Token{}, ErrBreakGlassDenied
	}

	seed := s.keys.MachineSeed()
	if len(seed) == 0 {
		return Token{}, fmt.Errorf("machine seed unavailable")
	}

	expected, err := hex.DecodeString(ExpectedResponse(s.keys.BreakGlass, seed, challenge))
	if err != nil {
		return Token{}, fmt.Errorf("failed to compute expected response: %w", err)
	}
	given, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(response)))
	if err != nil {
		s.auditBreakGlass(ctx, scope, "response is not valid hex")
		return Token{}, ErrBreakGlassDenied
	}
	if !hmac.Equal(given, expected) {
		s.auditBreakGlass(ctx, scope, fmt.Sprintf("response mismatch for challenge %s", challenge))
		return Token{}, ErrBreakGlassDenied
	}

	t, err := s.signer.Mint(scope, BreakGlassLifetime, MethodBreakGlass)
	if err != nil {
		return Token{}, err
	}
	if err := s.persistToken(ctx, t); err != nil {
		return Token{}, err
	}
	if err := s.inject(ctx, t); err != nil {
		return Token{}, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, audit.Entry{
			Action:    "admin.break_glass",
			GameScope: scope,
			Detail:    fmt.Sprintf("challenge %s answered, token expires %s", challenge, t.ExpiresAt.Format(time.RFC3339)),
			Outcome:   audit.OutcomeSuccess,
		})
	}
	// the response value itself is never logged
	infrastructure.LoggerFromContext(ctx).Info("Break-glass recovery succeeded",
		slog.String("scope", scope),
		slog.String("token_id", t.ID),
	)
	return t, nil
}

func (s *Service) auditBreakGlass(ctx context.Context, scope, detail string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.Entry{
		Action:    "admin.break_glass",
		GameScope: scope,
		Detail:    detail,
		Outcome:   audit.OutcomeDenied,
	})
}
