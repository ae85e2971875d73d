package mailconn

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/artik0din/mcp-mail-manager/internal/store"
)

// deadlineCapConn bounds every deadline set on the connection by a fixed
// session deadline, including attempts to clear it.
type deadlineCapConn struct {
	net.Conn
	max time.Time
}

func (c deadlineCapConn) SetDeadline(t time.Time) error {
	if t.IsZero() || t.After(c.max) {
		t = c.max
	}
	return c.Conn.SetDeadline(t)
}

// VerifySMTP proves the stored credentials authenticate against the
// account's submission endpoint, then quits. The timeout bounds the whole
// session: dial, greeting, auth and quit.
func VerifySMTP(acct store.Account, timeout time.Duration) error {
	if err := validateEndpoint(acct, acct.SMTP, "smtp"); err != nil {
		return err
	}

	addr := endpointAddr(acct.SMTP)
	deadline := time.Now().Add(dialTimeout(timeout))
	dialer := &net.Dialer{Deadline: deadline}

	var (
		conn net.Conn
		err  error
	)
	switch acct.SMTP.Security {
	case store.SecuritySSL:
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfigFor(acct.SMTP))
	case store.SecurityStartTLS, "", store.SecurityNone:
		conn, err = dialer.Dial("tcp", addr)
	default:
		return fmt.Errorf("account %q: unknown smtp security %q", acct.ID, acct.SMTP.Security)
	}
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return fmt.Errorf("dial smtp %s: set deadline: %w", addr, err)
	}
	// The smtp client resets the connection deadline around every command;
	// cap those resets so the session deadline above keeps holding.
	conn = deadlineCapConn{Conn: conn, max: deadline}

	var c *smtp.Client
	switch acct.SMTP.Security {
	case store.SecurityStartTLS, "":
		c, err = smtp.NewClientStartTLS(conn, tlsConfigFor(acct.SMTP))
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("smtp starttls %s: %w", addr, err)
		}
	default:
		c = smtp.NewClient(conn)
	}
	defer func() { _ = c.Close() }()

	mech, err := saslFor(acct)
	if err != nil {
		return err
	}
	if mech == nil {
		mech = sasl.NewPlainClient("", acct.Auth.Username, acct.Auth.Password)
	}
	if err := c.Auth(mech); err != nil {
		return fmt.Errorf("smtp auth %q: %w", acct.ID, err)
	}

	return c.Quit()
}
