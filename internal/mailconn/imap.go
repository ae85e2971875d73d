package mailconn

import (
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"

	"github.com/artik0din/mcp-mail-manager/internal/store"
)

// DialIMAP opens and authenticates an IMAP session for the account. The
// caller owns the returned client and must Logout.
func DialIMAP(acct store.Account, timeout time.Duration) (*client.Client, error) {
	if err := validateEndpoint(acct, acct.IMAP, "imap"); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: dialTimeout(timeout)}
	addr := endpointAddr(acct.IMAP)

	var (
		c   *client.Client
		err error
	)
	switch acct.IMAP.Security {
	case store.SecuritySSL, "":
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfigFor(acct.IMAP))
	case store.SecurityStartTLS:
		c, err = client.DialWithDialer(dialer, addr)
		if err == nil {
			err = c.StartTLS(tlsConfigFor(acct.IMAP))
		}
	case store.SecurityNone:
		c, err = client.DialWithDialer(dialer, addr)
	default:
		return nil, fmt.Errorf("account %q: unknown imap security %q", acct.ID, acct.IMAP.Security)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}

	if err := loginIMAP(c, acct); err != nil {
		_ = c.Logout()
		return nil, err
	}
	return c, nil
}

func loginIMAP(c *client.Client, acct store.Account) error {
	mech, err := saslFor(acct)
	if err != nil {
		return err
	}
	if mech != nil {
		if err := c.Authenticate(mech); err != nil {
			return fmt.Errorf("imap authenticate %q: %w", acct.ID, err)
		}
		return nil
	}

	if err := c.Login(acct.Auth.Username, acct.Auth.Password); err != nil {
		return fmt.Errorf("imap login %q: %w", acct.ID, err)
	}
	return nil
}

// VerifyIMAP proves the stored credentials open a mailbox session, then
// closes it.
func VerifyIMAP(acct store.Account, timeout time.Duration) error {
	c, err := DialIMAP(acct, timeout)
	if err != nil {
		return err
	}
	return c.Logout()
}
