package domain

import (
	"maps"
	"slices"
	"time"
)

// Status is the lifecycle state of a locally tracked transaction.
type Status string

const (
	StatusCreated   Status = "created"
	StatusReady     Status = "ready"
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Rank orders statuses along the lifecycle. Both terminal states share the highest rank.
func (s Status) Rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusReady:
		return 1
	case StatusPending:
		return 2
	case StatusSucceeded, StatusFailed:
		return 3
	default:
		return -1
	}
}

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// Group places a record in an ordered pipeline of dependent transactions.
type Group struct {
	Key   string `json:"key"`
	ID    string `json:"id"`
	Index int    `json:"index"`
}

// TransactionError is one entry of a record's append-only error history.
type TransactionError struct {
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	At      time.Time `json:"at"`
}

// TransactionRecord is a locally tracked chain operation.
type TransactionRecord struct {
	ID         string             `json:"id"`
	Context    string             `json:"context"`
	MethodName string             `json:"method_name"`
	Params     map[string]any     `json:"params,omitempty"`
	Options    map[string]any     `json:"options,omitempty"`
	From       string             `json:"from"`
	Identifier string             `json:"identifier,omitempty"`
	Lifecycle  map[string]string  `json:"lifecycle,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	Multisig   map[string]any     `json:"multisig,omitempty"`
	Status     Status             `json:"status"`
	Hash       string             `json:"hash,omitempty"`
	Receipt    map[string]any     `json:"receipt,omitempty"`
	EventData  map[string]any     `json:"event_data,omitempty"`
	Properties map[string]any     `json:"properties,omitempty"`
	Errors     []TransactionError `json:"errors"`
	Group      *Group             `json:"group,omitempty"`
}

// IsMultisig reports whether the record is the multi-party variant.
func (r TransactionRecord) IsMultisig() bool {
	return r.Multisig != nil
}

// Clone returns a copy that shares no mutable top-level state with r. Nested values inside the
// property bags are shared; they are treated as immutable once stored.
func (r TransactionRecord) Clone() TransactionRecord {
	out := r
	out.Params = maps.Clone(r.Params)
	out.Options = maps.Clone(r.Options)
	out.Lifecycle = maps.Clone(r.Lifecycle)
	out.Multisig = maps.Clone(r.Multisig)
	out.Receipt = maps.Clone(r.Receipt)
	out.EventData = maps.Clone(r.EventData)
	out.Properties = maps.Clone(r.Properties)
	out.Errors = slices.Clone(r.Errors)
	if r.Group != nil {
		group := *r.Group
		out.Group = &group
	}
	return out
}

// GasPrices is the process-wide gas price snapshot.
type GasPrices map[string]any
