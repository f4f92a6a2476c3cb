package ratelimit

import "time"

type Policy struct {
	Name   string
	Max    int
	Window time.Duration
	// SkipSuccessful stops responses below 400 from counting.
	SkipSuccessful bool
	// SkipFailed stops responses at or above 400 from counting.
	SkipFailed bool
}

var (
	// AuthPolicy only counts failed login attempts.
	AuthPolicy = Policy{Name: "auth", Max: 10, Window: 15 * time.Minute, SkipSuccessful: true}

	RegistrationPolicy = Policy{Name: "registration", Max: 3, Window: time.Hour}

	OTPPolicy = Policy{Name: "otp", Max: 5, Window: 5 * time.Minute}

	GeneralPolicy = Policy{Name: "general", Max: 100, Window: 15 * time.Minute}
)

// Counts reports whether a response with the given status should stay counted.
func (p Policy) Counts(status int) bool {
	failed := status >= 400
	if failed && p.SkipFailed {
		return false
	}
	if !failed && p.SkipSuccessful {
		return false
	}
	return true
}

func (p Policy) Key(subject string) string {
	return p.Name + ":" + subject
}
