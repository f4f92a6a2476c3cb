package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventLoginSuccess          EventType = "login_success"
	EventLoginFailure          EventType = "login_failure"
	EventOTPSent               EventType = "otp_sent"
	EventOTPFailure            EventType = "otp_failure"
	EventSecondFactorSkipped   EventType = "second_factor_skipped"
	EventAccountLocked         EventType = "account_locked"
	EventAccountUnlocked       EventType = "account_unlocked"
	EventLogout                EventType = "logout"
	EventTokenRefresh          EventType = "token_refresh"
	EventRefreshReuse          EventType = "refresh_reuse"
	EventRegistrationStarted   EventType = "registration_started"
	EventCredentialsSet        EventType = "registration_credentials_set"
	EventRegistrationCompleted EventType = "registration_completed"
	EventRateLimitExceed       EventType = "rate_limit_exceeded"
	EventTenantViolation       EventType = "tenant_violation"
	EventAuthFailure           EventType = "auth_failure"
)

type Event struct {
	Type      EventType
	UserID    string
	CompanyID string
	Email     string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}

	builder := logger.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now())

	if event.UserID != "" {
		builder = builder.Str("user_id", event.UserID)
	}
	if event.CompanyID != "" {
		builder = builder.Str("company_id", event.CompanyID)
	}
	if event.Email != "" {
		builder = builder.Str("email", event.Email)
	}
	if event.IP != "" {
		builder = builder.Str("ip", event.IP)
	}
	if event.UserAgent != "" {
		builder = builder.Str("user_agent", event.UserAgent)
	}
	l := builder.Logger()

	logEvent := l.Info()
	if isWarning(event.Type) {
		logEvent = l.Warn()
	}
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func isWarning(t EventType) bool {
	switch t {
	case EventAccountLocked, EventRefreshReuse, EventTenantViolation, EventRateLimitExceed, EventSecondFactorSkipped:
		return true
	}
	return false
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case time.Time:
		return e.Time(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP returns the request's remote address without its port. chi's
// RealIP middleware has already applied X-Forwarded-For / X-Real-IP.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
