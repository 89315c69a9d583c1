package ledger

import (
	"maps"
	"slices"
	"sort"
	"strings"

	"colonyledger/internal/domain"
)

// Store holds the locally known transactions and the gas price snapshot. It performs no I/O and no
// locking; Session owns one and serialises access to it.
type Store struct {
	records   map[string]domain.TransactionRecord
	gasPrices domain.GasPrices
}

func NewStore() *Store {
	return &Store{
		records:   make(map[string]domain.TransactionRecord),
		gasPrices: make(domain.GasPrices),
	}
}

func (s *Store) Len() int {
	return len(s.records)
}

func (s *Store) Get(id string) (domain.TransactionRecord, bool) {
	record, ok := s.records[id]
	if !ok {
		return domain.TransactionRecord{}, false
	}
	return record.Clone(), true
}

// List returns copies ordered by creation time, then id.
func (s *Store) List(filter ListFilter) []domain.TransactionRecord {
	out := make([]domain.TransactionRecord, 0, len(s.records))
	for _, record := range s.records {
		if !filter.match(record) {
			continue
		}
		out = append(out, record.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

func (s *Store) GasPrices() domain.GasPrices {
	return maps.Clone(s.gasPrices)
}

// ListFilter narrows List. Zero values match everything; hashes compare case-insensitively.
type ListFilter struct {
	Identifier string
	Hash       string
	GroupID    string
	Statuses   []domain.Status
}

func (f ListFilter) match(record domain.TransactionRecord) bool {
	if f.Identifier != "" && record.Identifier != f.Identifier {
		return false
	}
	if f.Hash != "" && !strings.EqualFold(record.Hash, f.Hash) {
		return false
	}
	if f.GroupID != "" && (record.Group == nil || record.Group.ID != f.GroupID) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, record.Status) {
		return false
	}
	return true
}
