package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"

	"github.com/tallypay/authcore/internal/audit"
	"github.com/tallypay/authcore/internal/config"
	apperrors "github.com/tallypay/authcore/internal/errors"
	"github.com/tallypay/authcore/internal/kvstore"
	"github.com/tallypay/authcore/internal/model"
	"github.com/tallypay/authcore/internal/notify"
	rediskeys "github.com/tallypay/authcore/internal/redis"
	"github.com/tallypay/authcore/internal/repository"
	"github.com/tallypay/authcore/internal/util"
)

const (
	invalidCredentialsMessage = "Invalid email or password"
	loginResource             = "login session"
	// WarningSecondFactorSkipped is returned when no delivery channel exists outside production.
	WarningSecondFactorSkipped = "second_factor_skipped"
)

type LoginInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

type VerifyInput struct {
	LoginToken string
	Code       string
	IP         string
	UserAgent  string
}

// LoginResult is either an issued token pair with the user, or a pending
// second-factor challenge.
type LoginResult struct {
	*TokenPair
	User         *model.PublicUser `json:"user,omitempty"`
	RequiresOTP  bool              `json:"requiresOtp,omitempty"`
	RequiresTOTP bool              `json:"requiresTotp,omitempty"`
	LoginToken   string            `json:"loginToken,omitempty"`
	ExpiresAt    *time.Time        `json:"expiresAt,omitempty"`
	Warning      string            `json:"warning,omitempty"`
}

func (r *LoginResult) Challenged() bool {
	return r.LoginToken != ""
}

// dummyHash keeps the unknown-user path as slow as a real password check.
var dummyHash = sync.OnceValue(func() string {
	hash, err := util.HashPassword("not-a-real-password-Aa1!")
	if err != nil {
		return ""
	}
	return hash
})

type LoginService struct {
	kv         kvstore.Store
	users      repository.UserRepository
	guard      *SecurityGuard
	tokens     *TokenIssuer
	notifier   notify.Notifier
	box        *util.SecretBox
	production bool
	now        func() time.Time
}

func NewLoginService(
	kv kvstore.Store,
	users repository.UserRepository,
	guard *SecurityGuard,
	tokens *TokenIssuer,
	notifier notify.Notifier,
	box *util.SecretBox,
	production bool,
) *LoginService {
	return &LoginService{
		kv:         kv,
		users:      users,
		guard:      guard,
		tokens:     tokens,
		notifier:   notifier,
		box:        box,
		production: production,
		now:        time.Now,
	}
}

// Initiate checks the password and either opens a second-factor challenge or,
// when no delivery channel exists outside production, issues tokens directly.
func (s *LoginService) Initiate(ctx context.Context, input LoginInput) (*LoginResult, error) {
	email := util.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, apperrors.ValidationError("Email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		util.CheckPasswordHash(input.Password, dummyHash())
		if _, err := s.guard.TrackFailedAttempt(ctx, FailedAttempt{Email: email, IP: input.IP, UserAgent: input.UserAgent}); err != nil {
			return nil, err
		}
		audit.Log(ctx, audit.Event{
			Type:      audit.EventLoginFailure,
			Email:     email,
			IP:        input.IP,
			UserAgent: input.UserAgent,
			Details:   map[string]interface{}{"reason": "unknown_email"},
		})
		return nil, apperrors.Unauthorized(invalidCredentialsMessage)
	}

	locked, err := s.guard.CheckLock(ctx, user)
	if err != nil {
		return nil, err
	}
	if locked {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventLoginFailure,
			UserID:  user.ID,
			Email:   email,
			IP:      input.IP,
			Details: map[string]interface{}{"reason": "account_locked"},
		})
		return nil, apperrors.AccountLocked()
	}

	if !util.CheckPasswordHash(input.Password, user.PasswordHash) {
		companyID := user.CompanyID
		lockedNow, err := s.guard.TrackFailedAttempt(ctx, FailedAttempt{
			Email:     email,
			IP:        input.IP,
			UserAgent: input.UserAgent,
			CompanyID: &companyID,
		})
		if err != nil {
			return nil, err
		}
		audit.Log(ctx, audit.Event{
			Type:      audit.EventLoginFailure,
			UserID:    user.ID,
			CompanyID: user.CompanyID,
			Email:     email,
			IP:        input.IP,
			UserAgent: input.UserAgent,
			Details:   map[string]interface{}{"reason": "bad_password", "locked": lockedNow},
		})
		return nil, apperrors.Unauthorized(invalidCredentialsMessage)
	}

	if !user.IsActive {
		return nil, apperrors.Unauthorized("Account is disabled")
	}

	if user.TwoFactorEnabled && user.TwoFactorSecret != nil && *user.TwoFactorSecret != "" {
		return s.openChallenge(ctx, user, model.ChallengeMethodTOTP, "", input)
	}

	if s.notifier == nil {
		if s.production {
			log.Error().Str("userId", user.ID).Msg("login refused: no second-factor delivery channel configured")
			return nil, apperrors.ServiceUnavailable("Second-factor delivery is not available, please try again later")
		}
		audit.Log(ctx, audit.Event{
			Type:      audit.EventSecondFactorSkipped,
			UserID:    user.ID,
			CompanyID: user.CompanyID,
			Email:     email,
			IP:        input.IP,
		})
		return s.completeLogin(ctx, user, input.IP, input.UserAgent, WarningSecondFactorSkipped)
	}

	code, err := util.GenerateNumericCode(config.OTPLength)
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	return s.openChallenge(ctx, user, model.ChallengeMethodOTP, code, input)
}

func (s *LoginService) openChallenge(ctx context.Context, user *model.User, method model.ChallengeMethod, code string, input LoginInput) (*LoginResult, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate login token: %w", err)
	}

	now := s.now()
	challenge := model.LoginChallenge{
		Token:       token,
		UserID:      user.ID,
		Email:       user.Email,
		Method:      method,
		MaxAttempts: config.LoginMaxAttempts,
		IPAddress:   input.IP,
		UserAgent:   input.UserAgent,
		CreatedAt:   now,
		ExpiresAt:   now.Add(config.LoginChallengeTTL),
	}
	if method == model.ChallengeMethodOTP {
		challenge.Code = util.HashToken(code)
	}

	key := rediskeys.LoginChallengeKey(token)
	if err := s.kv.Set(ctx, key, challenge, config.LoginChallengeTTL); err != nil {
		return nil, fmt.Errorf("store login challenge: %w", err)
	}

	result := &LoginResult{LoginToken: token, ExpiresAt: &challenge.ExpiresAt}
	if method == model.ChallengeMethodTOTP {
		result.RequiresTOTP = true
		return result, nil
	}

	if err := s.deliverCode(ctx, key, user, code, challenge.ExpiresAt, input.IP); err != nil {
		return nil, err
	}
	result.RequiresOTP = true
	return result, nil
}

// deliverCode sends code and drops the challenge when delivery fails so no
// unreachable challenge is left behind.
func (s *LoginService) deliverCode(ctx context.Context, key string, user *model.User, code string, expiresAt time.Time, ip string) error {
	if err := s.notifier.Send(ctx, notify.LoginOTP(user.Email, code, expiresAt)); err != nil {
		log.Error().Err(err).Str("userId", user.ID).Msg("failed to deliver login code")
		if _, derr := s.kv.Delete(ctx, key); derr != nil {
			log.Warn().Err(derr).Msg("failed to delete undeliverable login challenge")
		}
		return apperrors.ServiceUnavailable("Could not deliver the sign-in code, please try again")
	}
	audit.Log(ctx, audit.Event{
		Type:      audit.EventOTPSent,
		UserID:    user.ID,
		CompanyID: user.CompanyID,
		IP:        ip,
		Details:   map[string]interface{}{"code": util.MaskCode(code)},
	})
	return nil
}

var (
	errChallengeExpired   = errors.New("login challenge expired")
	errChallengeExhausted = errors.New("login challenge exhausted")
)

// Verify checks the second-factor code of a pending challenge. Every guess
// takes an attempt atomically before it is compared.
func (s *LoginService) Verify(ctx context.Context, input VerifyInput) (*LoginResult, error) {
	if input.LoginToken == "" {
		return nil, apperrors.MissingRequired("loginToken")
	}
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, apperrors.MissingRequired("code")
	}

	key := rediskeys.LoginChallengeKey(input.LoginToken)
	var challenge model.LoginChallenge
	otpMatched, err := s.takeAttempt(ctx, key, &challenge, code)
	if err != nil {
		return nil, err
	}

	ok, usedBackup := otpMatched, false
	if challenge.Method == model.ChallengeMethodTOTP {
		ok, usedBackup, err = s.checkAuthenticatorCode(ctx, challenge.UserID, code)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, s.rejectCode(ctx, key, &challenge, input.IP)
	}

	existed, err := s.kv.Delete(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("consume login challenge: %w", err)
	}
	if !existed {
		return nil, apperrors.SessionExpired(loginResource)
	}

	user, err := s.users.FindByID(ctx, challenge.UserID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil || !user.IsActive {
		return nil, apperrors.Unauthorized("Account is not available")
	}

	if usedBackup {
		companyID := user.CompanyID
		s.guard.recordActivity(ctx, model.CreateActivityParams{
			UserID:    user.ID,
			CompanyID: &companyID,
			Action:    model.ActivityBackupCodeUsed,
			IPAddress: input.IP,
			UserAgent: input.UserAgent,
		})
	}
	return s.completeLogin(ctx, user, input.IP, input.UserAgent, "")
}

// takeAttempt counts one attempt against the challenge at key and leaves the
// updated record in dest. For OTP challenges it also reports whether code
// matches, compared under the same update.
func (s *LoginService) takeAttempt(ctx context.Context, key string, dest *model.LoginChallenge, code string) (bool, error) {
	now := s.now()
	matched := false
	err := s.kv.Update(ctx, key, dest, func() error {
		if dest.Expired(now) {
			return errChallengeExpired
		}
		if dest.RemainingAttempts() == 0 {
			return errChallengeExhausted
		}
		dest.Attempts++
		matched = dest.Method == model.ChallengeMethodOTP &&
			util.IsValidNumericCode(code) &&
			util.ConstantTimeEqual(util.HashToken(code), dest.Code)
		return nil
	}, kvstore.KeepTTL)

	switch {
	case err == nil:
		return matched, nil
	case errors.Is(err, kvstore.ErrNotFound):
		return false, apperrors.SessionExpired(loginResource)
	case errors.Is(err, errChallengeExpired):
		if _, derr := s.kv.Delete(ctx, key); derr != nil {
			log.Warn().Err(derr).Msg("failed to delete expired login challenge")
		}
		return false, apperrors.SessionExpired(loginResource)
	case errors.Is(err, errChallengeExhausted):
		// whoever took the last attempt removes the challenge
		return false, apperrors.SessionExpired(loginResource)
	default:
		return false, fmt.Errorf("update login challenge: %w", err)
	}
}

// checkAuthenticatorCode accepts a TOTP code or an unused backup code. The
// second result reports whether a backup code was spent.
func (s *LoginService) checkAuthenticatorCode(ctx context.Context, userID, code string) (bool, bool, error) {
	if util.IsValidNumericCode(code) {
		ok, err := s.checkTOTP(ctx, userID, code)
		return ok, false, err
	}

	backup := util.NormalizeBackupCode(code)
	if !util.IsValidBackupCode(backup) {
		return false, false, nil
	}
	consumed, err := s.users.ConsumeBackupCode(ctx, userID, util.HashToken(backup))
	if err != nil {
		return false, false, apperrors.Database(err)
	}
	return consumed, consumed, nil
}

func (s *LoginService) checkTOTP(ctx context.Context, userID, code string) (bool, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return false, apperrors.Database(err)
	}
	if user == nil || user.TwoFactorSecret == nil {
		return false, nil
	}
	secret, err := s.box.Open(*user.TwoFactorSecret)
	if err != nil {
		return false, fmt.Errorf("open totp secret: %w", err)
	}
	valid, err := totp.ValidateCustom(code, secret, s.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      config.TOTPLoginSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return false, nil
	}

	fresh, err := s.kv.Reserve(ctx, rediskeys.TOTPUsedKey(userID, code), config.TOTPReplayGuardPeriod)
	if err != nil {
		return false, fmt.Errorf("reserve totp code: %w", err)
	}
	if !fresh {
		log.Warn().Str("userId", userID).Msg("rejected replayed totp code")
	}
	return fresh, nil
}

// rejectCode reports a wrong code. challenge already carries the attempt
// taken for it; the last attempt drops the challenge.
func (s *LoginService) rejectCode(ctx context.Context, key string, challenge *model.LoginChallenge, ip string) error {
	remaining := challenge.RemainingAttempts()
	audit.Log(ctx, audit.Event{
		Type:    audit.EventOTPFailure,
		UserID:  challenge.UserID,
		Email:   challenge.Email,
		IP:      ip,
		Details: map[string]interface{}{"method": string(challenge.Method), "remaining_attempts": remaining},
	})

	if remaining == 0 {
		if _, err := s.kv.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Msg("failed to delete exhausted login challenge")
		}
		return apperrors.InvalidCode("Invalid code. No attempts remaining, please sign in again").
			WithDetails(map[string]int{"remainingAttempts": 0})
	}
	return apperrors.InvalidCode(fmt.Sprintf("Invalid code. %d attempt(s) remaining", remaining)).
		WithDetails(map[string]int{"remainingAttempts": remaining})
}

// Resend issues a fresh code for an OTP challenge and restarts its attempts and expiry.
func (s *LoginService) Resend(ctx context.Context, loginToken string) (*LoginResult, error) {
	if loginToken == "" {
		return nil, apperrors.MissingRequired("loginToken")
	}
	if s.notifier == nil {
		return nil, apperrors.ServiceUnavailable("Second-factor delivery is not available, please try again later")
	}

	code, err := util.GenerateNumericCode(config.OTPLength)
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	key := rediskeys.LoginChallengeKey(loginToken)
	now := s.now()
	var challenge model.LoginChallenge
	err = s.kv.Update(ctx, key, &challenge, func() error {
		if challenge.Method != model.ChallengeMethodOTP {
			return apperrors.ValidationError("Codes cannot be resent for authenticator app challenges")
		}
		if challenge.Expired(now) {
			return apperrors.SessionExpired(loginResource)
		}
		challenge.Code = util.HashToken(code)
		challenge.Attempts = 0
		challenge.ExpiresAt = now.Add(config.LoginChallengeTTL)
		return nil
	}, config.LoginChallengeTTL)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, apperrors.SessionExpired(loginResource)
		}
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("update login challenge: %w", err)
	}

	user := &model.User{ID: challenge.UserID, Email: challenge.Email}
	if err := s.deliverCode(ctx, key, user, code, challenge.ExpiresAt, challenge.IPAddress); err != nil {
		return nil, err
	}
	return &LoginResult{RequiresOTP: true, LoginToken: loginToken, ExpiresAt: &challenge.ExpiresAt}, nil
}

// Refresh exchanges a refresh token for a new pair. Each refresh token is
// accepted exactly once.
func (s *LoginService) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*LoginResult, error) {
	if refreshToken == "" {
		return nil, apperrors.MissingRequired("refreshToken")
	}
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	session, err := s.guard.RotateSession(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != claims.UserID {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventRefreshReuse,
			UserID:    claims.UserID,
			IP:        ip,
			UserAgent: userAgent,
			Details:   map[string]interface{}{"jti": claims.ID},
		})
		return nil, apperrors.Unauthorized("Refresh token has been revoked or already used")
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil || !user.IsActive {
		return nil, apperrors.Unauthorized("Account is not available")
	}
	locked, err := s.guard.CheckLock(ctx, user)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, apperrors.AccountLocked()
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, err
	}
	if _, err := s.guard.CreateSession(ctx, user.ID, pair.RefreshToken, ip, userAgent, pair.RefreshExpiresAt); err != nil {
		return nil, err
	}

	companyID := user.CompanyID
	s.guard.recordActivity(ctx, model.CreateActivityParams{
		UserID:    user.ID,
		CompanyID: &companyID,
		Action:    model.ActivityTokenRefresh,
		IPAddress: ip,
		UserAgent: userAgent,
	})
	audit.Log(ctx, audit.Event{Type: audit.EventTokenRefresh, UserID: user.ID, CompanyID: user.CompanyID, IP: ip})

	public := user.Public()
	return &LoginResult{TokenPair: pair, User: &public}, nil
}

// Logout revokes one refresh token. Unknown tokens are not an error.
func (s *LoginService) Logout(ctx context.Context, refreshToken, ip, userAgent string) error {
	if refreshToken == "" {
		return apperrors.MissingRequired("refreshToken")
	}
	existed, err := s.guard.InvalidateSession(ctx, refreshToken)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}

	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil
	}
	s.guard.recordActivity(ctx, model.CreateActivityParams{
		UserID:    claims.UserID,
		Action:    model.ActivityLogout,
		IPAddress: ip,
		UserAgent: userAgent,
	})
	audit.Log(ctx, audit.Event{Type: audit.EventLogout, UserID: claims.UserID, IP: ip})
	return nil
}

// LogoutAll revokes every refresh token of the caller.
func (s *LoginService) LogoutAll(ctx context.Context, caller Caller, ip, userAgent string) (int64, error) {
	n, err := s.guard.InvalidateAllSessions(ctx, caller.UserID)
	if err != nil {
		return 0, err
	}
	companyID := caller.CompanyID
	s.guard.recordActivity(ctx, model.CreateActivityParams{
		UserID:    caller.UserID,
		CompanyID: &companyID,
		Action:    model.ActivityLogoutAll,
		Metadata:  map[string]any{"sessions": n},
		IPAddress: ip,
		UserAgent: userAgent,
	})
	audit.Log(ctx, audit.Event{
		Type:      audit.EventLogout,
		UserID:    caller.UserID,
		CompanyID: caller.CompanyID,
		IP:        ip,
		Details:   map[string]interface{}{"scope": "all", "sessions": n},
	})
	return n, nil
}

func (s *LoginService) completeLogin(ctx context.Context, user *model.User, ip, userAgent, warning string) (*LoginResult, error) {
	if err := s.guard.ClearFailedAttempts(ctx, user.Email); err != nil {
		log.Warn().Err(err).Str("userId", user.ID).Msg("failed to clear failed login attempts")
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, err
	}
	if _, err := s.guard.CreateSession(ctx, user.ID, pair.RefreshToken, ip, userAgent, pair.RefreshExpiresAt); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		log.Warn().Err(err).Str("userId", user.ID).Msg("failed to update last login")
	} else {
		user.LastLoginAt = &now
	}

	companyID := user.CompanyID
	s.guard.recordActivity(ctx, model.CreateActivityParams{
		UserID:    user.ID,
		CompanyID: &companyID,
		Action:    model.ActivityLogin,
		IPAddress: ip,
		UserAgent: userAgent,
	})
	audit.Log(ctx, audit.Event{
		Type:      audit.EventLoginSuccess,
		UserID:    user.ID,
		CompanyID: user.CompanyID,
		Email:     user.Email,
		IP:        ip,
		UserAgent: userAgent,
	})

	public := user.Public()
	return &LoginResult{TokenPair: pair, User: &public, Warning: warning}, nil
}
