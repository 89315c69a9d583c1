package ledger

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"colonyledger/internal/domain"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("transaction id already exists")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrMissingID            = errors.New("transaction id is required")
	ErrUnknownCommand       = errors.New("unknown command")
)

// Effect describes what one applied command changed.
type Effect struct {
	Command CommandType
	// Updated holds the post-command copy of every inserted or modified record.
	Updated []domain.TransactionRecord
	// Removed holds ids deleted by a cancellation.
	Removed []string
	// GasPrices is the merged snapshot after a GasPricesUpdate, nil otherwise.
	GasPrices domain.GasPrices
}

// Empty reports whether the command left the store unchanged.
func (e Effect) Empty() bool {
	return len(e.Updated) == 0 && len(e.Removed) == 0 && e.GasPrices == nil
}

// Apply runs one command against the store. Every check happens before the first write, so a
// failed command leaves the store exactly as it was.
func Apply(s *Store, cmd Command) (Effect, error) {
	switch c := cmd.(type) {
	case Create:
		return applyCreate(s, c.Type(), c.CreatePayload, false)
	case CreateMultisig:
		return applyCreate(s, c.Type(), c.CreatePayload, true)
	case AddProperties:
		return s.update(c.Type(), c.ID, domain.StatusReady, func(r *domain.TransactionRecord) {
			r.Properties = merge(r.Properties, c.Properties)
		})
	case MultisigRefresh:
		return s.update(c.Type(), c.ID, "", func(r *domain.TransactionRecord) {
			r.Multisig = merge(r.Multisig, c.Properties)
		})
	case GasUpdate:
		return s.update(c.Type(), c.ID, "", func(r *domain.TransactionRecord) {
			r.Options = merge(r.Options, c.Options)
		})
	case Sent:
		return s.update(c.Type(), c.ID, domain.StatusPending, func(r *domain.TransactionRecord) {
			r.Hash = c.Hash
		})
	case ReceiptReceived:
		return s.update(c.Type(), c.ID, "", func(r *domain.TransactionRecord) {
			r.Receipt = maps.Clone(c.Receipt)
		})
	case Succeeded:
		return s.update(c.Type(), c.ID, domain.StatusSucceeded, func(r *domain.TransactionRecord) {
			r.EventData = maps.Clone(c.EventData)
		})
	case Errored:
		return s.update(c.Type(), c.ID, domain.StatusFailed, func(r *domain.TransactionRecord) {
			r.Errors = append(r.Errors, c.Error)
		})
	case Cancel:
		return applyCancel(s, c)
	case GasPricesUpdate:
		s.gasPrices = merge(s.gasPrices, c.Prices)
		return Effect{Command: c.Type(), GasPrices: maps.Clone(s.gasPrices)}, nil
	default:
		return Effect{}, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

func applyCreate(s *Store, typ CommandType, p CreatePayload, multisig bool) (Effect, error) {
	if p.ID == "" {
		return Effect{}, ErrMissingID
	}
	if _, exists := s.records[p.ID]; exists {
		return Effect{}, fmt.Errorf("%w: %s", ErrDuplicateTransaction, p.ID)
	}
	if p.Status != "" && p.Status != domain.StatusCreated {
		return Effect{}, fmt.Errorf("%w: create with status %q", ErrInvalidTransition, p.Status)
	}

	record := domain.TransactionRecord{
		ID:         p.ID,
		Context:    p.Context,
		MethodName: p.MethodName,
		Params:     maps.Clone(p.Params),
		Options:    maps.Clone(p.Options),
		From:       p.From,
		Identifier: p.Identifier,
		Lifecycle:  maps.Clone(p.Lifecycle),
		CreatedAt:  p.CreatedAt,
		Multisig:   maps.Clone(p.Multisig),
		Status:     domain.StatusCreated,
		Errors:     []domain.TransactionError{},
	}
	if multisig && record.Multisig == nil {
		record.Multisig = map[string]any{}
	}
	record.Group = resolveGroup(p.Group, record)

	s.records[record.ID] = record
	return Effect{Command: typ, Updated: []domain.TransactionRecord{record.Clone()}}, nil
}

// update applies mutate to a copy of the record and stores it. An empty target leaves the status
// alone.
func (s *Store) update(typ CommandType, id string, target domain.Status, mutate func(*domain.TransactionRecord)) (Effect, error) {
	if id == "" {
		return Effect{}, ErrMissingID
	}
	current, ok := s.records[id]
	if !ok {
		return Effect{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	if target != "" {
		if err := checkTransition(current.Status, target); err != nil {
			return Effect{}, fmt.Errorf("%s on %s: %w", typ, id, err)
		}
	}

	next := current.Clone()
	mutate(&next)
	if target != "" {
		next.Status = target
	}
	s.records[id] = next
	return Effect{Command: typ, Updated: []domain.TransactionRecord{next.Clone()}}, nil
}

// transitions lists the status changes the lifecycle allows besides staying put.
var transitions = map[domain.Status][]domain.Status{
	domain.StatusCreated: {domain.StatusReady, domain.StatusFailed},
	domain.StatusReady:   {domain.StatusPending, domain.StatusFailed},
	domain.StatusPending: {domain.StatusSucceeded, domain.StatusFailed},
}

// checkTransition accepts the lifecycle edges plus any status repeating itself, which is how errors
// accumulate on a failed record and a later Succeeded replaces the event data.
func checkTransition(from, to domain.Status) error {
	if from == to || slices.Contains(transitions[from], to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func applyCancel(s *Store, c Cancel) (Effect, error) {
	if c.ID == "" {
		return Effect{}, ErrMissingID
	}
	target, ok := s.records[c.ID]
	if !ok || target.Status.Terminal() {
		return Effect{Command: c.Type()}, nil
	}
	removed := cancellationTail(s.records, target)
	for _, id := range removed {
		delete(s.records, id)
	}
	return Effect{Command: c.Type(), Removed: removed}, nil
}

func merge[M ~map[string]any](dst, src M) M {
	out := make(M, len(dst)+len(src))
	maps.Copy(out, dst)
	maps.Copy(out, src)
	return out
}
