// Package mailconn opens protocol sessions for fully decrypted accounts. It
// is the boundary to the IMAP/SMTP collaborators: the vault hands over
// connection parameters and plaintext credentials, the protocol libraries do
// the rest.
package mailconn

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/artik0din/mcp-mail-manager/internal/store"
)

func endpointAddr(ep store.Endpoint) string {
	return net.JoinHostPort(ep.Host, fmt.Sprintf("%d", ep.Port))
}

func tlsConfigFor(ep store.Endpoint) *tls.Config {
	return &tls.Config{ServerName: ep.Host}
}

// saslFor picks the SASL mechanism matching the account's auth kind, or nil
// when plain password login applies.
func saslFor(acct store.Account) (sasl.Client, error) {
	switch acct.Auth.Kind {
	case store.AuthPassword, "":
		return nil, nil
	case store.AuthOAuth2, store.AuthXOAuth2:
		if acct.Auth.AccessToken == "" {
			return nil, fmt.Errorf("account %q: auth kind %q requires an access token", acct.ID, acct.Auth.Kind)
		}
		return newXOAuth2Client(acct.Auth.Username, acct.Auth.AccessToken), nil
	default:
		return nil, fmt.Errorf("account %q: unknown auth kind %q", acct.ID, acct.Auth.Kind)
	}
}

func validateEndpoint(acct store.Account, ep store.Endpoint, proto string) error {
	if ep.Host == "" || ep.Port == 0 {
		return fmt.Errorf("account %q: %s endpoint is not configured", acct.ID, proto)
	}
	return nil
}

func dialTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 15 * time.Second
	}
	return timeout
}
