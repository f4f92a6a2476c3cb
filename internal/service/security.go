package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tallypay/authcore/internal/audit"
	"github.com/tallypay/authcore/internal/config"
	apperrors "github.com/tallypay/authcore/internal/errors"
	"github.com/tallypay/authcore/internal/model"
	"github.com/tallypay/authcore/internal/repository"
	"github.com/tallypay/authcore/internal/util"
)

type FailedAttempt struct {
	Email     string
	IP        string
	UserAgent string
	CompanyID *string
}

type ActivityPage struct {
	Items  []model.ActivityLog `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

type CleanupResult struct {
	Sessions int64
	Attempts int64
}

// SecurityGuard owns lockout, refresh-token sessions and the activity trail.
type SecurityGuard struct {
	users    repository.UserRepository
	sessions repository.UserSessionRepository
	attempts repository.FailedAttemptRepository
	activity repository.ActivityRepository
	now      func() time.Time
}

func NewSecurityGuard(
	users repository.UserRepository,
	sessions repository.UserSessionRepository,
	attempts repository.FailedAttemptRepository,
	activity repository.ActivityRepository,
) *SecurityGuard {
	return &SecurityGuard{
		users:    users,
		sessions: sessions,
		attempts: attempts,
		activity: activity,
		now:      time.Now,
	}
}

// TrackFailedAttempt records a failure and locks the matching account once
// the threshold is reached inside the lockout window. Returns true when
// this attempt caused a lock.
func (g *SecurityGuard) TrackFailedAttempt(ctx context.Context, attempt FailedAttempt) (bool, error) {
	email := util.NormalizeEmail(attempt.Email)
	if err := g.attempts.Create(ctx, model.CreateFailedAttemptParams{
		Email:     email,
		IPAddress: attempt.IP,
		UserAgent: attempt.UserAgent,
		CompanyID: attempt.CompanyID,
	}); err != nil {
		return false, apperrors.Database(err)
	}

	now := g.now()
	count, err := g.attempts.CountSince(ctx, email, now.Add(-config.LockoutWindow))
	if err != nil {
		return false, apperrors.Database(err)
	}
	if count < config.LockoutThreshold {
		return false, nil
	}

	until := now.Add(config.LockoutWindow)
	user, err := g.users.LockByEmail(ctx, email, until)
	if err != nil {
		return false, apperrors.Database(err)
	}
	if user == nil {
		return false, nil
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventAccountLocked,
		UserID:    user.ID,
		CompanyID: user.CompanyID,
		Email:     email,
		IP:        attempt.IP,
		Details:   map[string]interface{}{"attempts": count, "locked_until": until},
	})
	return true, nil
}

// CheckLock reports whether user is locked right now. An elapsed lock is
// cleared on the spot together with the email's failed attempts.
func (g *SecurityGuard) CheckLock(ctx context.Context, user *model.User) (bool, error) {
	if !user.IsLocked {
		return false, nil
	}
	if user.LockedUntil == nil || g.now().Before(*user.LockedUntil) {
		return true, nil
	}

	if err := g.users.Unlock(ctx, user.ID); err != nil {
		return false, apperrors.Database(err)
	}
	if _, err := g.attempts.DeleteByEmail(ctx, user.Email); err != nil {
		return false, apperrors.Database(err)
	}
	user.IsLocked = false
	user.LockedUntil = nil

	audit.Log(ctx, audit.Event{
		Type:      audit.EventAccountUnlocked,
		UserID:    user.ID,
		CompanyID: user.CompanyID,
		Details:   map[string]interface{}{"reason": "lock expired"},
	})
	return false, nil
}

func (g *SecurityGuard) IsLocked(ctx context.Context, userID string) (bool, error) {
	user, err := g.users.FindByID(ctx, userID)
	if err != nil {
		return false, apperrors.Database(err)
	}
	if user == nil {
		return false, apperrors.NotFound("User")
	}
	return g.CheckLock(ctx, user)
}

// Unlock lifts a lock regardless of its expiry.
func (g *SecurityGuard) Unlock(ctx context.Context, user *model.User) error {
	if err := g.users.Unlock(ctx, user.ID); err != nil {
		return apperrors.Database(err)
	}
	if _, err := g.attempts.DeleteByEmail(ctx, user.Email); err != nil {
		return apperrors.Database(err)
	}
	user.IsLocked = false
	user.LockedUntil = nil
	return nil
}

func (g *SecurityGuard) ClearFailedAttempts(ctx context.Context, email string) error {
	if _, err := g.attempts.DeleteByEmail(ctx, util.NormalizeEmail(email)); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// CreateSession stores the hash of refreshToken. An existing session with the
// same hash is replaced.
func (g *SecurityGuard) CreateSession(ctx context.Context, userID, refreshToken, ip, userAgent string, expiresAt time.Time) (*model.UserSession, error) {
	session, err := g.sessions.Create(ctx, model.CreateUserSessionParams{
		UserID:    userID,
		TokenHash: util.HashToken(refreshToken),
		IPAddress: ip,
		UserAgent: userAgent,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return session, nil
}

func (g *SecurityGuard) FindSession(ctx context.Context, refreshToken string) (*model.UserSession, error) {
	session, err := g.sessions.FindByTokenHash(ctx, util.HashToken(refreshToken))
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return session, nil
}

// RotateSession consumes the live session for refreshToken. Nil means it was
// already used, revoked or expired.
func (g *SecurityGuard) RotateSession(ctx context.Context, refreshToken string) (*model.UserSession, error) {
	session, err := g.sessions.Consume(ctx, util.HashToken(refreshToken))
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return session, nil
}

func (g *SecurityGuard) InvalidateSession(ctx context.Context, refreshToken string) (bool, error) {
	existed, err := g.sessions.DeleteByTokenHash(ctx, util.HashToken(refreshToken))
	if err != nil {
		return false, apperrors.Database(err)
	}
	return existed, nil
}

func (g *SecurityGuard) InvalidateAllSessions(ctx context.Context, userID string) (int64, error) {
	n, err := g.sessions.DeleteByUserID(ctx, userID)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	return n, nil
}

func (g *SecurityGuard) ListSessions(ctx context.Context, userID string) ([]model.UserSession, error) {
	sessions, err := g.sessions.ListByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if sessions == nil {
		sessions = []model.UserSession{}
	}
	return sessions, nil
}

func (g *SecurityGuard) TrackActivity(ctx context.Context, params model.CreateActivityParams) error {
	if err := g.activity.Create(ctx, params); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// recordActivity is TrackActivity for callers that must not fail on it.
func (g *SecurityGuard) recordActivity(ctx context.Context, params model.CreateActivityParams) {
	if err := g.TrackActivity(ctx, params); err != nil {
		log.Warn().Err(err).Str("userId", params.UserID).Str("action", string(params.Action)).Msg("failed to record activity")
	}
}

func (g *SecurityGuard) ListActivity(ctx context.Context, userID string, limit, offset int) (*ActivityPage, error) {
	items, err := g.activity.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	total, err := g.activity.CountByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if items == nil {
		items = []model.ActivityLog{}
	}
	return &ActivityPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Cleanup removes expired sessions and attempts past the retention period.
func (g *SecurityGuard) Cleanup(ctx context.Context) (CleanupResult, error) {
	var result CleanupResult

	sessions, err := g.DeleteExpiredSessions(ctx)
	if err != nil {
		return result, err
	}
	result.Sessions = sessions

	attempts, err := g.DeleteStaleAttempts(ctx)
	if err != nil {
		return result, err
	}
	result.Attempts = attempts
	return result, nil
}

func (g *SecurityGuard) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	return g.sessions.DeleteExpired(ctx)
}

func (g *SecurityGuard) DeleteStaleAttempts(ctx context.Context) (int64, error) {
	return g.attempts.DeleteOlderThan(ctx, g.now().Add(-config.FailedAttemptRetains))
}

// LockStatus returns whether userID is locked and until when.
func (g *SecurityGuard) LockStatus(ctx context.Context, userID string) (bool, *time.Time, error) {
	user, err := g.users.FindByID(ctx, userID)
	if err != nil {
		return false, nil, apperrors.Database(err)
	}
	if user == nil {
		return false, nil, apperrors.NotFound("User")
	}
	locked, err := g.CheckLock(ctx, user)
	if err != nil || !locked {
		return false, nil, err
	}
	return true, user.LockedUntil, nil
}
