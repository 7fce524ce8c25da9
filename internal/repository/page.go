package repository

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Page selects a window of a conversation log by sequence number. With
// After set the window starts right after it (catch-up); otherwise it is
// the newest Limit messages before Before (or the tail of the log).
// Results are always ordered oldest first.
type Page struct {
	Before uint64
	After  uint64
	Limit  int
}

// Normalized clamps a client supplied limit.
func (p Page) Normalized() Page {
	if p.Limit <= 0 || p.Limit > MaxPageLimit {
		p.Limit = DefaultPageLimit
	}
	return p
}

// WithDefaultLimit only fills in a missing limit. Drivers use it so a
// caller may ask for one row past a full page to detect more history.
func (p Page) WithDefaultLimit() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	return p
}

type cursorPayload struct {
	Seq uint64 `json:"seq"`
}

// EncodeCursor turns a sequence number into an opaque client cursor.
func EncodeCursor(seq uint64) string {
	if seq == 0 {
		return ""
	}
	b, _ := json.Marshal(cursorPayload{Seq: seq})
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(cursor string) (uint64, error) {
	if cursor == "" {
		return 0, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("decode cursor: %w", err)
	}
	var cp cursorPayload
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, fmt.Errorf("decode cursor JSON: %w", err)
	}
	return cp.Seq, nil
}
