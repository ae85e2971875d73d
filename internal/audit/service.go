package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultRecordResult = "success"

// Service appends vault operations to an HMAC chain. The MAC key is an HKDF
// subkey of the master key, so the chain can only be extended or verified by
// a holder of the vault's master secret.
type Service struct {
	store  *Store
	macKey []byte

	mu       sync.Mutex
	chainTip string
}

func NewService(store *Store, macKey []byte) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("new audit service: store is nil")
	}
	if len(macKey) == 0 {
		return nil, fmt.Errorf("new audit service: mac key is empty")
	}

	tip, err := store.ChainTip(context.Background())
	if err != nil {
		return nil, fmt.Errorf("new audit service: %w", err)
	}

	return &Service{
		store:    store,
		macKey:   append([]byte(nil), macKey...),
		chainTip: tip,
	}, nil
}

// Record appends one event. It satisfies the store package's EventRecorder.
func (s *Service) Record(ctx context.Context, action, targetID string, details map[string]any) error {
	if strings.TrimSpace(action) == "" {
		return fmt.Errorf("record audit event: action is required")
	}

	detailsJSON := ""
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("record audit event: encode details: %w", err)
		}
		detailsJSON = string(data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event := Event{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Action:      action,
		TargetID:    targetID,
		Result:      defaultRecordResult,
		DetailsJSON: detailsJSON,
		PrevHash:    s.chainTip,
	}
	event.EventHash = s.chainHash(s.chainTip, event)

	if err := s.store.Append(ctx, event, event.EventHash); err != nil {
		return err
	}
	s.chainTip = event.EventHash
	return nil
}

// Verify replays the full chain and reports the first break.
func (s *Service) Verify(ctx context.Context) (*VerifyResult, error) {
	events, err := s.store.List(ctx, Filter{})
	if err != nil {
		return nil, fmt.Errorf("verify audit chain: %w", err)
	}

	prev := ""
	for _, event := range events {
		expected := s.chainHash(prev, event)
		if subtle.ConstantTimeCompare([]byte(event.PrevHash), []byte(prev)) != 1 ||
			subtle.ConstantTimeCompare([]byte(event.EventHash), []byte(expected)) != 1 {
			return &VerifyResult{
				Valid:      false,
				EventCount: len(events),
				ChainTip:   prev,
				Error:      fmt.Sprintf("hash mismatch at event %s", event.ID),
			}, nil
		}
		prev = event.EventHash
	}

	storedTip, err := s.store.ChainTip(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify audit chain: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(storedTip), []byte(prev)) != 1 {
		return &VerifyResult{
			Valid:      false,
			EventCount: len(events),
			ChainTip:   prev,
			Error:      "hash mismatch at chain tip",
		}, nil
	}

	return &VerifyResult{
		Valid:      true,
		EventCount: len(events),
		ChainTip:   prev,
	}, nil
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Event, error) {
	return s.store.List(ctx, filter)
}

// chainHash computes HMAC-SHA256(macKey, prev || canonical payload). The
// payload marshals a fixed-field struct, so encoding is deterministic.
func (s *Service) chainHash(prev string, event Event) string {
	payload, _ := json.Marshal(struct {
		ID        string `json:"id"`
		Timestamp string `json:"ts"`
		Action    string `json:"action"`
		TargetID  string `json:"target_id"`
		Result    string `json:"result"`
		Details   string `json:"details"`
	}{
		ID:        event.ID,
		Timestamp: fmtTime(event.Timestamp),
		Action:    event.Action,
		TargetID:  event.TargetID,
		Result:    event.Result,
		Details:   event.DetailsJSON,
	})

	mac := hmac.New(sha256.New, s.macKey)
	mac.Write([]byte(prev))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}
