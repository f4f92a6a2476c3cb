// Package notify delivers out-of-band messages such as login codes and
// registration notices.
package notify

import (
	"context"
	"fmt"
	"time"
)

type Kind string

const (
	KindRegistrationStarted   Kind = "registration_started"
	KindCredentialsSet        Kind = "credentials_set"
	KindRegistrationCompleted Kind = "registration_completed"
	KindLoginOTP              Kind = "login_otp"
)

// Data keys with special handling.
const (
	DataCode       = "code"
	DataIdentifier = "identifier"
)

type Message struct {
	Kind    Kind              `json:"kind"`
	To      string            `json:"to"`
	Subject string            `json:"subject"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
	// ExpiresAt, when set, is the point after which delivery is pointless.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Notifier sends a message to its recipient. A nil Notifier means no
// delivery channel is configured.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

func RegistrationStarted(to, identifier string, expiresAt time.Time) Message {
	return Message{
		Kind:    KindRegistrationStarted,
		To:      to,
		Subject: "Your company registration has started",
		Body: fmt.Sprintf("Your company identifier is %s.\n\nFinish registration before %s.",
			identifier, expiresAt.UTC().Format(time.RFC1123)),
		Data: map[string]string{DataIdentifier: identifier},
	}
}

func CredentialsSet(to, username string) Message {
	return Message{
		Kind:    KindCredentialsSet,
		To:      to,
		Subject: "Your login credentials were set",
		Body: fmt.Sprintf("The username %s has been reserved for your account.\n\n"+
			"Scan the provided key with your authenticator app to finish registration.", username),
		Data: map[string]string{"username": username},
	}
}

func RegistrationCompleted(to, companyName, identifier, username string) Message {
	return Message{
		Kind:    KindRegistrationCompleted,
		To:      to,
		Subject: fmt.Sprintf("Welcome to %s", companyName),
		Body: fmt.Sprintf("Registration for %s (%s) is complete.\n\nYou can now sign in as %s.",
			companyName, identifier, username),
		Data: map[string]string{DataIdentifier: identifier, "username": username},
	}
}

func LoginOTP(to, code string, expiresAt time.Time) Message {
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return Message{
		Kind:      KindLoginOTP,
		To:        to,
		Subject:   "Your sign-in code",
		Body:      fmt.Sprintf("Your sign-in code is %s. It expires in %d minutes.", code, minutes),
		Data:      map[string]string{DataCode: code},
		ExpiresAt: expiresAt,
	}
}
