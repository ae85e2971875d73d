package store

import "strings"

// Preset supplies endpoint defaults for a known mail provider. Preset values
// fill fields the caller left unset and never override supplied values.
type Preset struct {
	IMAP     Endpoint
	SMTP     Endpoint
	AuthKind AuthKind
}

var presets = map[string]Preset{
	"gmail": {
		IMAP:     Endpoint{Host: "imap.gmail.com", Port: 993, Security: SecuritySSL},
		SMTP:     Endpoint{Host: "smtp.gmail.com", Port: 587, Security: SecurityStartTLS},
		AuthKind: AuthPassword,
	},
	"outlook": {
		IMAP:     Endpoint{Host: "outlook.office365.com", Port: 993, Security: SecuritySSL},
		SMTP:     Endpoint{Host: "smtp.office365.com", Port: 587, Security: SecurityStartTLS},
		AuthKind: AuthPassword,
	},
	"office365": {
		IMAP:     Endpoint{Host: "outlook.office365.com", Port: 993, Security: SecuritySSL},
		SMTP:     Endpoint{Host: "smtp.office365.com", Port: 587, Security: SecurityStartTLS},
		AuthKind: AuthPassword,
	},
	"yahoo": {
		IMAP:     Endpoint{Host: "imap.mail.yahoo.com", Port: 993, Security: SecuritySSL},
		SMTP:     Endpoint{Host: "smtp.mail.yahoo.com", Port: 465, Security: SecuritySSL},
		AuthKind: AuthPassword,
	},
	"icloud": {
		IMAP:     Endpoint{Host: "imap.mail.me.com", Port: 993, Security: SecuritySSL},
		SMTP:     Endpoint{Host: "smtp.mail.me.com", Port: 587, Security: SecurityStartTLS},
		AuthKind: AuthPassword,
	},
	"fastmail": {
		IMAP:     Endpoint{Host: "imap.fastmail.com", Port: 993, Security: SecuritySSL},
		SMTP:     Endpoint{Host: "smtp.fastmail.com", Port: 465, Security: SecuritySSL},
		AuthKind: AuthPassword,
	},
	"zoho": {
		IMAP:     Endpoint{Host: "imap.zoho.com", Port: 993, Security: SecuritySSL},
		SMTP:     Endpoint{Host: "smtp.zoho.com", Port: 465, Security: SecuritySSL},
		AuthKind: AuthPassword,
	},
}

// providerAliases folds alternate provider tags onto their canonical preset.
var providerAliases = map[string]string{
	"googlemail": "gmail",
}

var domainProviders = map[string]string{
	"gmail.com":      "gmail",
	"googlemail.com": "gmail",
	"outlook.com":    "outlook",
	"hotmail.com":    "outlook",
	"live.com":       "outlook",
	"yahoo.com":      "yahoo",
	"icloud.com":     "icloud",
	"me.com":         "icloud",
	"mac.com":        "icloud",
	"fastmail.com":   "fastmail",
	"zoho.com":       "zoho",
}

// LookupPreset returns the preset for a provider tag, resolving aliases.
func LookupPreset(provider string) (Preset, bool) {
	tag := strings.ToLower(provider)
	if canonical, ok := providerAliases[tag]; ok {
		tag = canonical
	}
	p, ok := presets[tag]
	return p, ok
}

// DetectProvider maps an email address to a provider tag by domain, or ""
// when the domain is unknown.
func DetectProvider(email string) string {
	_, domain, found := strings.Cut(email, "@")
	if !found {
		return ""
	}
	return domainProviders[strings.ToLower(domain)]
}

// applyPreset fills unset endpoint and auth fields from the account's
// provider preset.
func applyPreset(acct *Account) {
	preset, ok := LookupPreset(acct.Provider)
	if !ok {
		return
	}

	applyEndpoint(&acct.IMAP, preset.IMAP)
	applyEndpoint(&acct.SMTP, preset.SMTP)
	if acct.Auth.Kind == "" {
		acct.Auth.Kind = preset.AuthKind
	}
}

func applyEndpoint(target *Endpoint, defaults Endpoint) {
	if target.Host == "" {
		target.Host = defaults.Host
	}
	if target.Port == 0 {
		target.Port = defaults.Port
	}
	if target.Security == "" {
		target.Security = defaults.Security
	}
}
