package audit

import (
	"errors"
	"time"
)

// ErrChainBroken marks a failed hash-chain verification.
var ErrChainBroken = errors.New("audit chain broken")

const (
	ActionAccountCreate = "account.create"
	ActionAccountUpdate = "account.update"
	ActionAccountRemove = "account.remove"
	ActionAccountReveal = "account.reveal"
	ActionAccountVerify = "account.verify"
	ActionKeyGenerate   = "key.generate"
)

// Event is one recorded vault operation. Details never include secret
// material; the target is the account identifier only.
type Event struct {
	ID          string
	Timestamp   time.Time
	Action      string
	TargetID    string
	Result      string
	DetailsJSON string
	PrevHash    string
	EventHash   string
}

type Filter struct {
	Action   string
	TargetID string
	Limit    int
}

type VerifyResult struct {
	Valid      bool
	EventCount int
	ChainTip   string
	Error      string
}
