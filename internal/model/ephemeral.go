package model

import "time"

// CompanyDraft holds company details collected at registration step 1.
type CompanyDraft struct {
	Name        string `json:"name"`
	ShortName   string `json:"shortName"`
	Identifier  string `json:"identifier"`
	CountryCode string `json:"countryCode"`
	PhoneNumber string `json:"phoneNumber"`
}

type UserDraft struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email"`
	Username     string `json:"username,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty"`
}

// RegistrationSession is the ephemeral state of a multi-step registration.
type RegistrationSession struct {
	Token      string       `json:"token"`
	Step       int          `json:"step"`
	Company    CompanyDraft `json:"company"`
	User       UserDraft    `json:"user"`
	OwnerEmail string       `json:"ownerEmail"`
	TOTPSecret string       `json:"totpSecret,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	ExpiresAt  time.Time    `json:"expiresAt"`
}

// LoginChallenge is a pending second-factor verification.
type LoginChallenge struct {
	Token       string          `json:"token"`
	UserID      string          `json:"userId"`
	Email       string          `json:"email"`
	Method      ChallengeMethod `json:"method"`
	Code        string          `json:"code,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Verified    bool            `json:"verified"`
	IPAddress   string          `json:"ipAddress,omitempty"`
	UserAgent   string          `json:"userAgent,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

func (c *LoginChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c *LoginChallenge) RemainingAttempts() int {
	if r := c.MaxAttempts - c.Attempts; r > 0 {
		return r
	}
	return 0
}
