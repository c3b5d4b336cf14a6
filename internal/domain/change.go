package domain

import (
	"encoding/json"
	"fmt"
)

// ChangeOperation enumerates the operations carried by change notifications.
type ChangeOperation string

const (
	OpInsert    ChangeOperation = "INSERT"
	OpUpdate    ChangeOperation = "UPDATE"
	OpDelete    ChangeOperation = "DELETE"
	OpReload    ChangeOperation = "RELOAD"
	OpReloadAll ChangeOperation = "RELOAD_ALL"
)

// Known reports whether the operation is one the handlers understand.
// Unrecognized operations are ignored, not errors.
func (op ChangeOperation) Known() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete, OpReload, OpReloadAll:
		return true
	}
	return false
}

// ChangeEvent is the decoded payload of a NOTIFY message. Payloads carry
// entity scalar fields as well, but handlers re-fetch by id so only the
// operation and id are retained.
type ChangeEvent struct {
	Operation ChangeOperation `json:"operation"`
	ID        int64           `json:"id"`
}

// ParseChangeEvent decodes a notification payload. RELOAD_ALL payloads may
// omit the id; every other operation requires one.
func ParseChangeEvent(payload string) (ChangeEvent, error) {
	var raw struct {
		Operation ChangeOperation `json:"operation"`
		ID        json.Number     `json:"id"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change payload: %w", err)
	}
	if raw.Operation == "" {
		return ChangeEvent{}, fmt.Errorf("change payload missing operation")
	}
	ev := ChangeEvent{Operation: raw.Operation}
	if raw.ID != "" {
		id, err := raw.ID.Int64()
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("change payload id %q: %w", raw.ID, err)
		}
		ev.ID = id
	}
	if ev.ID == 0 && raw.Operation != OpReloadAll {
		return ChangeEvent{}, fmt.Errorf("change payload missing id for %s", raw.Operation)
	}
	return ev, nil
}
