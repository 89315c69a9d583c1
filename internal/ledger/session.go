package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"colonyledger/internal/domain"

	"github.com/google/uuid"
)

var ErrSessionClosed = errors.New("ledger session is closed")

// Observer is told about every command that changed the store, in application order.
type Observer interface {
	Observe(ctx context.Context, effect Effect)
}

type ObserverFunc func(ctx context.Context, effect Effect)

func (f ObserverFunc) Observe(ctx context.Context, effect Effect) {
	f(ctx, effect)
}

type Option func(*Session)

func WithObserver(observer Observer) Option {
	return func(s *Session) {
		if observer != nil {
			s.observers = append(s.observers, observer)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Session) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithState seeds the store, typically from a repository at startup.
func WithState(records []domain.TransactionRecord, gasPrices domain.GasPrices) Option {
	return func(s *Session) {
		for _, record := range records {
			if record.ID == "" {
				continue
			}
			s.store.records[record.ID] = record.Clone()
		}
		if gasPrices != nil {
			s.store.gasPrices = merge(s.store.gasPrices, gasPrices)
		}
	}
}

// Session owns the transaction store for one application session. Commands are applied one at a
// time; readers always see a fully applied state.
type Session struct {
	mu       sync.RWMutex
	notifyMu sync.Mutex
	store    *Store
	closed   bool

	observers []Observer
	now       func() time.Time
	newID     func() string
}

func NewSession(opts ...Option) *Session {
	s := &Session{
		store: NewStore(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch applies cmd and notifies observers. Create commands without an id get one assigned;
// the returned effect carries it.
func (s *Session) Dispatch(ctx context.Context, cmd Command) (Effect, error) {
	cmd = s.prepare(cmd)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Effect{}, ErrSessionClosed
	}
	effect, err := Apply(s.store, cmd)
	if err != nil {
		s.mu.Unlock()
		return Effect{}, err
	}
	// Take the notify lock before releasing the store so observers see effects in apply order.
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if !effect.Empty() {
		for _, observer := range s.observers {
			observer.Observe(ctx, effect)
		}
	}
	return effect, nil
}

func (s *Session) prepare(cmd Command) Command {
	switch c := cmd.(type) {
	case Create:
		c.CreatePayload = s.preparePayload(c.CreatePayload)
		return c
	case CreateMultisig:
		c.CreatePayload = s.preparePayload(c.CreatePayload)
		return c
	case Errored:
		if c.Error.At.IsZero() {
			c.Error.At = s.now().UTC()
		}
		return c
	default:
		return cmd
	}
}

func (s *Session) preparePayload(p CreatePayload) CreatePayload {
	if p.ID == "" {
		p.ID = s.newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	return p
}

func (s *Session) Get(id string) (domain.TransactionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Get(id)
}

func (s *Session) List(filter ListFilter) []domain.TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.List(filter)
}

// FindByHash returns the most recently created record carrying hash.
func (s *Session) FindByHash(hash string) (domain.TransactionRecord, bool) {
	if hash == "" {
		return domain.TransactionRecord{}, false
	}
	records := s.List(ListFilter{Hash: hash})
	if len(records) == 0 {
		return domain.TransactionRecord{}, false
	}
	return records[len(records)-1], true
}

func (s *Session) GasPrices() domain.GasPrices {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.GasPrices()
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Len()
}

// Close ends the session. Later dispatches fail with ErrSessionClosed; reads keep working.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
