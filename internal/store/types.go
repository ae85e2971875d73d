package store

import (
	"strings"
	"time"
)

type AuthKind string

const (
	AuthPassword AuthKind = "password"
	AuthOAuth2   AuthKind = "oauth2"
	AuthXOAuth2  AuthKind = "xoauth2"
)

type Security string

const (
	SecuritySSL      Security = "ssl"
	SecurityStartTLS Security = "starttls"
	SecurityNone     Security = "none"
)

// Endpoint describes one side of a mail account's transport.
type Endpoint struct {
	Host     string   `json:"host,omitempty"`
	Port     int      `json:"port,omitempty"`
	Security Security `json:"security,omitempty"`
}

// Auth holds the account's credentials. Password, AccessToken, RefreshToken
// and ClientSecret are the sensitive fields: tagged ciphertext on disk,
// plaintext in memory after a read.
type Auth struct {
	Kind         AuthKind `json:"kind,omitempty"`
	Username     string   `json:"username,omitempty"`
	Password     string   `json:"password,omitempty"`
	AccessToken  string   `json:"access_token,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
}

// Account is one configured mail account.
type Account struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Enabled     bool      `json:"enabled"`
	IMAP        Endpoint  `json:"imap"`
	SMTP        Endpoint  `json:"smtp"`
	Auth        Auth      `json:"auth"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// sensitiveFields returns pointers to every field that must never reach disk
// in plaintext.
func (a *Auth) sensitiveFields() map[string]*string {
	return map[string]*string{
		"password":      &a.Password,
		"access_token":  &a.AccessToken,
		"refresh_token": &a.RefreshToken,
		"client_secret": &a.ClientSecret,
	}
}

// Redacted returns a copy of the account with every secret field replaced by
// a placeholder, suitable for display and logging.
func (a Account) Redacted() Account {
	for _, field := range a.Auth.sensitiveFields() {
		if *field != "" {
			*field = "[redacted]"
		}
	}
	return a
}

// AccountID derives the stable identifier for an email address: lower-cased,
// with every character outside [a-z0-9] replaced by '-'. Distinct addresses
// can normalize to the same identifier; that collision resolves as
// last-write-wins and is an accepted limitation.
func AccountID(email string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, email)
}
