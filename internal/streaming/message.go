package streaming

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"colonyledger/internal/domain"
	"colonyledger/internal/ledger"
)

var (
	ErrMissingType  = errors.New("message type is missing")
	ErrUnknownType  = errors.New("unknown message type")
	ErrInvalidGroup = errors.New("invalid group field")
)

// CommandMessage is the wire envelope for a ledger command.
type CommandMessage struct {
	Type    ledger.CommandType `json:"type"`
	ID      string             `json:"id,omitempty"`
	TraceID string             `json:"trace_id,omitempty"`
	Payload json.RawMessage    `json:"payload,omitempty"`
}

type createPayload struct {
	ID         string            `json:"id"`
	Context    string            `json:"context"`
	MethodName string            `json:"method_name"`
	From       string            `json:"from"`
	Identifier string            `json:"identifier"`
	Params     map[string]any    `json:"params"`
	Options    map[string]any    `json:"options"`
	Lifecycle  map[string]string `json:"lifecycle"`
	CreatedAt  *time.Time        `json:"created_at"`
	Multisig   map[string]any    `json:"multisig"`
	Status     domain.Status     `json:"status"`
	Group      *groupPayload     `json:"group"`
}

// groupPayload names group id components either by record field or as resolved values. Values
// follow fields.
type groupPayload struct {
	Key    string   `json:"key"`
	Index  int      `json:"index"`
	Fields []string `json:"fields"`
	Values []string `json:"values"`
}

type propertiesPayload struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

type gasPayload struct {
	ID      string         `json:"id"`
	Options map[string]any `json:"options"`
}

type sentPayload struct {
	ID   string `json:"id"`
	Hash string `json:"hash"`
}

type receiptPayload struct {
	ID      string         `json:"id"`
	Receipt map[string]any `json:"receipt"`
}

type succeededPayload struct {
	ID        string         `json:"id"`
	EventData map[string]any `json:"event_data"`
}

type errorPayload struct {
	ID    string `json:"id"`
	Error struct {
		Message string     `json:"message"`
		Code    string     `json:"code"`
		At      *time.Time `json:"at"`
	} `json:"error"`
}

type gasPricesPayload struct {
	Prices domain.GasPrices `json:"prices"`
}

// DecodeCommand parses a command envelope. The envelope id, when set, overrides an empty
// payload id.
func DecodeCommand(raw []byte) (ledger.Command, CommandMessage, error) {
	var msg CommandMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, CommandMessage{}, err
	}
	if msg.Type == "" {
		return nil, msg, ErrMissingType
	}
	cmd, err := msg.Command()
	if err != nil {
		return nil, msg, err
	}
	return cmd, msg, nil
}

// Command converts the payload into the ledger command named by Type.
func (m CommandMessage) Command() (ledger.Command, error) {
	payload := []byte(m.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	switch m.Type {
	case ledger.TypeCreate, ledger.TypeCreateMultisig:
		var p createPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		create, err := p.toCreate(m.ID)
		if err != nil {
			return nil, err
		}
		if m.Type == ledger.TypeCreateMultisig {
			return ledger.CreateMultisig{CreatePayload: create}, nil
		}
		return ledger.Create{CreatePayload: create}, nil
	case ledger.TypeAddProperties, ledger.TypeMultisigRefresh:
		var p propertiesPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		id := pick(p.ID, m.ID)
		if m.Type == ledger.TypeMultisigRefresh {
			return ledger.MultisigRefresh{ID: id, Properties: p.Properties}, nil
		}
		return ledger.AddProperties{ID: id, Properties: p.Properties}, nil
	case ledger.TypeGasUpdate:
		var p gasPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return ledger.GasUpdate{ID: pick(p.ID, m.ID), Options: p.Options}, nil
	case ledger.TypeSent:
		var p sentPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return ledger.Sent{ID: pick(p.ID, m.ID), Hash: p.Hash}, nil
	case ledger.TypeReceiptReceived:
		var p receiptPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return ledger.ReceiptReceived{ID: pick(p.ID, m.ID), Receipt: p.Receipt}, nil
	case ledger.TypeSucceeded:
		var p succeededPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return ledger.Succeeded{ID: pick(p.ID, m.ID), EventData: p.EventData}, nil
	case ledger.TypeError:
		var p errorPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		txErr := domain.TransactionError{Message: p.Error.Message, Code: p.Error.Code}
		if p.Error.At != nil {
			txErr.At = p.Error.At.UTC()
		}
		return ledger.Errored{ID: pick(p.ID, m.ID), Error: txErr}, nil
	case ledger.TypeCancel:
		var p struct {
			ID string `json:"id"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return ledger.Cancel{ID: pick(p.ID, m.ID)}, nil
	case ledger.TypeGasPricesUpdate:
		var p gasPricesPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return ledger.GasPricesUpdate{Prices: p.Prices}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

func decodePayload(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func pick(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func (p createPayload) toCreate(envelopeID string) (ledger.CreatePayload, error) {
	create := ledger.CreatePayload{
		ID:         pick(p.ID, envelopeID),
		Context:    p.Context,
		MethodName: p.MethodName,
		From:       p.From,
		Identifier: p.Identifier,
		Params:     p.Params,
		Options:    p.Options,
		Lifecycle:  p.Lifecycle,
		Multisig:   p.Multisig,
		Status:     p.Status,
	}
	if p.CreatedAt != nil {
		create.CreatedAt = p.CreatedAt.UTC()
	}
	if p.Group != nil {
		group, err := p.Group.spec()
		if err != nil {
			return ledger.CreatePayload{}, err
		}
		create.Group = group
	}
	return create, nil
}

func (g groupPayload) spec() (*ledger.GroupSpec, error) {
	fields := make([]ledger.GroupField, 0, len(g.Fields)+len(g.Values))
	for _, name := range g.Fields {
		field, err := groupField(name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	fields = append(fields, ledger.ValueFields(g.Values...)...)
	return &ledger.GroupSpec{Key: g.Key, Index: g.Index, Fields: fields}, nil
}

// groupField maps "identifier", "from", "method_name" and "params.<name>" to record fields.
func groupField(name string) (ledger.GroupField, error) {
	switch name {
	case "identifier":
		return ledger.FieldIdentifier, nil
	case "from":
		return ledger.FieldFrom, nil
	case "method_name":
		return ledger.FieldMethodName, nil
	}
	if param, ok := strings.CutPrefix(name, "params."); ok && param != "" {
		return ledger.FieldParam(param), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidGroup, name)
}

// RecordEvent is published for every command that changed the ledger.
type RecordEvent struct {
	Type      ledger.CommandType         `json:"type"`
	TraceID   string                     `json:"trace_id,omitempty"`
	At        time.Time                  `json:"at"`
	Updated   []domain.TransactionRecord `json:"updated,omitempty"`
	Removed   []string                   `json:"removed,omitempty"`
	GasPrices domain.GasPrices           `json:"gas_prices,omitempty"`
}

func NewRecordEvent(effect ledger.Effect, traceID string, at time.Time) RecordEvent {
	return RecordEvent{
		Type:      effect.Command,
		TraceID:   traceID,
		At:        at.UTC(),
		Updated:   effect.Updated,
		Removed:   effect.Removed,
		GasPrices: effect.GasPrices,
	}
}

func EncodeRecordEvent(event RecordEvent) ([]byte, error) {
	if event.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(event)
}

func DecodeRecordEvent(payload []byte) (RecordEvent, error) {
	var event RecordEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return RecordEvent{}, err
	}
	if event.Type == "" {
		return RecordEvent{}, ErrMissingType
	}
	return event, nil
}
