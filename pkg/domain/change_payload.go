package domain

import (
	"encoding/json"
	"fmt"
)

// ChangePayload is an immutable JSON snapshot of an entity captured in a
// Change. Rules decode it with DecodePayload.
type ChangePayload struct {
	raw json.RawMessage
}

// PayloadOf snapshots value as JSON.
func PayloadOf(value any) (ChangePayload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ChangePayload{}, fmt.Errorf("snapshot change payload: %w", err)
	}
	return ChangePayload{raw: raw}, nil
}

// MustPayload snapshots value and panics when it cannot be encoded. Domain
// entities are plain data so a failure is a programming error.
func MustPayload(value any) ChangePayload {
	p, err := PayloadOf(value)
	if err != nil {
		panic(err)
	}
	return p
}

// Empty reports whether the payload holds no snapshot (creates have no
// before image, deletes no after image).
func (p ChangePayload) Empty() bool {
	return len(p.raw) == 0
}

// Raw returns a copy of the JSON bytes.
func (p ChangePayload) Raw() json.RawMessage {
	if len(p.raw) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(p.raw))
	copy(out, p.raw)
	return out
}

// MarshalJSON embeds the snapshot verbatim.
func (p ChangePayload) MarshalJSON() ([]byte, error) {
	if len(p.raw) == 0 {
		return []byte("null"), nil
	}
	return p.Raw(), nil
}

// DecodePayload decodes p into T. ok is false for empty or mismatched payloads.
func DecodePayload[T any](p ChangePayload) (T, bool) {
	var out T
	if p.Empty() {
		return out, false
	}
	if err := json.Unmarshal(p.raw, &out); err != nil {
		return out, false
	}
	return out, true
}
