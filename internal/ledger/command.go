package ledger

import (
	"time"

	"colonyledger/internal/domain"
)

// CommandType names a command on the wire and in logs.
type CommandType string

const (
	TypeCreate          CommandType = "TRANSACTION_CREATED"
	TypeCreateMultisig  CommandType = "MULTISIG_TRANSACTION_CREATED"
	TypeAddProperties   CommandType = "TRANSACTION_ADD_PROPERTIES"
	TypeMultisigRefresh CommandType = "MULTISIG_TRANSACTION_REFRESHED"
	TypeGasUpdate       CommandType = "TRANSACTION_GAS_UPDATE"
	TypeSent            CommandType = "TRANSACTION_SENT"
	TypeReceiptReceived CommandType = "TRANSACTION_RECEIPT_RECEIVED"
	TypeSucceeded       CommandType = "TRANSACTION_SUCCEEDED"
	TypeError           CommandType = "TRANSACTION_ERROR"
	TypeCancel          CommandType = "TRANSACTION_CANCEL"
	TypeGasPricesUpdate CommandType = "GAS_PRICES_UPDATE"
)

// Command is the closed set of lifecycle commands. Only types in this package implement it.
type Command interface {
	Type() CommandType
	// TransactionID is empty for commands that do not address a record.
	TransactionID() string
	sealed()
}

// CreatePayload describes a new transaction record.
type CreatePayload struct {
	ID         string
	Context    string
	MethodName string
	From       string
	Identifier string
	Params     map[string]any
	Options    map[string]any
	Lifecycle  map[string]string
	CreatedAt  time.Time
	Multisig   map[string]any
	// Status may be left empty; anything other than created is rejected.
	Status domain.Status
	Group  *GroupSpec
}

type Create struct{ CreatePayload }

type CreateMultisig struct{ CreatePayload }

type AddProperties struct {
	ID         string
	Properties map[string]any
}

type MultisigRefresh struct {
	ID         string
	Properties map[string]any
}

type GasUpdate struct {
	ID      string
	Options map[string]any
}

type Sent struct {
	ID   string
	Hash string
}

type ReceiptReceived struct {
	ID      string
	Receipt map[string]any
}

type Succeeded struct {
	ID        string
	EventData map[string]any
}

// Errored records one failure cause for a transaction.
type Errored struct {
	ID    string
	Error domain.TransactionError
}

type Cancel struct {
	ID string
}

type GasPricesUpdate struct {
	Prices domain.GasPrices
}

func (Create) Type() CommandType          { return TypeCreate }
func (CreateMultisig) Type() CommandType  { return TypeCreateMultisig }
func (AddProperties) Type() CommandType   { return TypeAddProperties }
func (MultisigRefresh) Type() CommandType { return TypeMultisigRefresh }
func (GasUpdate) Type() CommandType       { return TypeGasUpdate }
func (Sent) Type() CommandType            { return TypeSent }
func (ReceiptReceived) Type() CommandType { return TypeReceiptReceived }
func (Succeeded) Type() CommandType       { return TypeSucceeded }
func (Errored) Type() CommandType         { return TypeError }
func (Cancel) Type() CommandType          { return TypeCancel }
func (GasPricesUpdate) Type() CommandType { return TypeGasPricesUpdate }

func (c Create) TransactionID() string          { return c.ID }
func (c CreateMultisig) TransactionID() string  { return c.ID }
func (c AddProperties) TransactionID() string   { return c.ID }
func (c MultisigRefresh) TransactionID() string { return c.ID }
func (c GasUpdate) TransactionID() string       { return c.ID }
func (c Sent) TransactionID() string            { return c.ID }
func (c ReceiptReceived) TransactionID() string { return c.ID }
func (c Succeeded) TransactionID() string       { return c.ID }
func (c Errored) TransactionID() string         { return c.ID }
func (c Cancel) TransactionID() string          { return c.ID }
func (GasPricesUpdate) TransactionID() string   { return "" }

func (Create) sealed()          {}
func (CreateMultisig) sealed()  {}
func (AddProperties) sealed()   {}
func (MultisigRefresh) sealed() {}
func (GasUpdate) sealed()       {}
func (Sent) sealed()            {}
func (ReceiptReceived) sealed() {}
func (Succeeded) sealed()       {}
func (Errored) sealed()         {}
func (Cancel) sealed()          {}
func (GasPricesUpdate) sealed() {}
