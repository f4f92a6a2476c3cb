package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 30 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const (
	CleanupJobInterval   = 5 * time.Minute
	RateLimitSweepPeriod = time.Minute
	KVReapInterval       = time.Minute
)

// Registration
const (
	RegistrationTTL        = 24 * time.Hour
	RegistrationTotalSteps = 3
	RegistrationLockTTL    = 30 * time.Second
	BackupCodeCount        = 10
	IdentifierMaxAttempts  = 5
)

// Login second factor
const (
	LoginChallengeTTL     = 5 * time.Minute
	LoginMaxAttempts      = 3
	OTPLength             = 6
	TOTPRegistrationSkew  = 2
	TOTPLoginSkew         = 1
	TOTPReplayGuardPeriod = 3 * time.Minute
)

// Account lockout
const (
	LockoutWindow        = 15 * time.Minute
	LockoutThreshold     = 5
	FailedAttemptRetains = 24 * time.Hour
)
