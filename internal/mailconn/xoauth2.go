package mailconn

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the XOAUTH2 SASL mechanism used by Gmail and
// Outlook for OAuth bearer tokens.
type xoauth2Client struct {
	username string
	token    string
	failed   bool
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	resp := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", resp, nil
}

func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	// A challenge after the initial response carries a JSON error blob. The
	// protocol wants one empty reply before the server fails the exchange.
	if !c.failed {
		c.failed = true
		return []byte{}, nil
	}
	return nil, fmt.Errorf("xoauth2 authentication failed: %s", challenge)
}
