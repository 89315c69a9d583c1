package ledger

import (
	"fmt"
	"sort"
	"strings"

	"colonyledger/internal/domain"
)

// GroupField resolves one component of a group id from the record being created.
type GroupField func(domain.TransactionRecord) string

// GroupSpec declares pipeline membership at Create time.
type GroupSpec struct {
	Key    string
	Index  int
	Fields []GroupField
}

func FieldIdentifier(r domain.TransactionRecord) string { return r.Identifier }

func FieldFrom(r domain.TransactionRecord) string { return r.From }

func FieldMethodName(r domain.TransactionRecord) string { return r.MethodName }

// FieldParam reads a top-level call parameter. Missing parameters resolve to "".
func FieldParam(name string) GroupField {
	return func(r domain.TransactionRecord) string {
		value, ok := r.Params[name]
		if !ok || value == nil {
			return ""
		}
		return fmt.Sprint(value)
	}
}

// ValueField is a component that was resolved before the command was built, e.g. by a remote
// producer.
func ValueField(value string) GroupField {
	return func(domain.TransactionRecord) string { return value }
}

// ValueFields turns resolved values into fields, preserving order.
func ValueFields(values ...string) []GroupField {
	fields := make([]GroupField, 0, len(values))
	for _, value := range values {
		fields = append(fields, ValueField(value))
	}
	return fields
}

// groupEscaper percent-encodes the separator inside components so distinct key and value lists
// never produce the same id.
var groupEscaper = strings.NewReplacer("%", "%25", "-", "%2D")

// GroupID is key followed by each resolved value, dash separated.
func GroupID(key string, values ...string) string {
	var b strings.Builder
	b.WriteString(groupEscaper.Replace(key))
	for _, value := range values {
		b.WriteByte('-')
		b.WriteString(groupEscaper.Replace(value))
	}
	return b.String()
}

func resolveGroup(spec *GroupSpec, record domain.TransactionRecord) *domain.Group {
	if spec == nil {
		return nil
	}
	values := make([]string, 0, len(spec.Fields))
	for _, field := range spec.Fields {
		if field == nil {
			continue
		}
		values = append(values, field(record))
	}
	return &domain.Group{
		Key:   spec.Key,
		ID:    GroupID(spec.Key, values...),
		Index: spec.Index,
	}
}

// cancellationTail returns the ids removed when target is cancelled: target itself, plus every
// record in the same group with an index at or above target's. Records without a group, records
// whose group id differs, and lower indices in the same group are kept.
func cancellationTail(records map[string]domain.TransactionRecord, target domain.TransactionRecord) []string {
	if target.Group == nil {
		return []string{target.ID}
	}
	var ids []string
	for id, record := range records {
		if record.Group == nil {
			continue
		}
		if record.Group.ID != target.Group.ID {
			continue
		}
		if record.Group.Index < target.Group.Index {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
