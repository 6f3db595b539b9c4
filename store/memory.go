package store

import (
	"context"
	"fmt"
	"sync"
)

// KeySchema describes a table's primary key attribute names, which the
// in-memory Gateway needs in order to compute a composite storage key from
// an arbitrary Item. Every table in this system has both a partition and a
// sort key.
type KeySchema struct {
	PartitionKey string
	SortKey      string
}

// MemoryGateway is a deterministic, single-process implementation of
// Gateway. It exists so the token-accounting state machines can be unit
// tested against the exact conditional semantics a real table enforces,
// without a network dependency. It does not reclaim TTL-expired rows on
// its own, mirroring DynamoDB's asynchronous TTL sweep: callers that care
// about expiration must filter on the expiration attribute themselves, the
// same as against the real table.
type MemoryGateway struct {
	mu      sync.Mutex
	schemas map[string]KeySchema
	tables  map[string]map[string]Item
}

// NewMemoryGateway constructs an empty in-memory Gateway. schemas maps
// table name to its partition/sort key attribute names.
func NewMemoryGateway(schemas map[string]KeySchema) *MemoryGateway {
	return &MemoryGateway{
		schemas: schemas,
		tables:  make(map[string]map[string]Item),
	}
}

func (m *MemoryGateway) table(name string) map[string]Item {
	t, ok := m.tables[name]
	if !ok {
		t = make(map[string]Item)
		m.tables[name] = t
	}
	return t
}

func (m *MemoryGateway) pk(table string, item Item) (string, error) {
	schema, ok := m.schemas[table]
	if !ok {
		return "", fmt.Errorf("store: no key schema registered for table %q", table)
	}
	return keyString(item, schema.PartitionKey, schema.SortKey), nil
}

func (m *MemoryGateway) ConditionalUpdate(_ context.Context, in UpdateRequest) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk, err := m.pk(in.Table, in.Key)
	if err != nil {
		return nil, &Error{Op: "ConditionalUpdate", Err: err}
	}

	t := m.table(in.Table)
	row, exists := t[pk]
	if !exists {
		row = copyItem(in.Key)
	} else {
		row = copyItem(row)
	}

	if !evaluate(in.Condition, row) {
		return nil, ErrPreconditionFailed
	}

	for attr, delta := range in.Adds {
		current, _ := asFloat(row[attr])
		row[attr] = current + delta
	}
	for attr, value := range in.Sets {
		row[attr] = value
	}
	for k, v := range in.Key {
		if _, ok := row[k]; !ok {
			row[k] = v
		}
	}

	t[pk] = row
	return copyItem(row), nil
}

func (m *MemoryGateway) ConditionalPut(_ context.Context, in PutRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk, err := m.pk(in.Table, in.Item)
	if err != nil {
		return &Error{Op: "ConditionalPut", Err: err}
	}

	t := m.table(in.Table)
	existing, exists := t[pk]
	var row Item
	if exists {
		row = existing
	} else {
		row = Item{}
	}

	if !evaluate(in.Condition, row) {
		return ErrPreconditionFailed
	}

	t[pk] = copyItem(in.Item)
	return nil
}

func (m *MemoryGateway) Query(_ context.Context, in QueryRequest) (QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(in.Table)
	want := fmt.Sprintf("%v", in.PartitionKeyValue)

	var matched []Item
	for _, row := range t {
		if fmt.Sprintf("%v", row[in.PartitionKeyName]) != want {
			continue
		}
		if !evaluate(in.Filter, row) {
			continue
		}
		matched = append(matched, copyItem(row))
		if in.Limit > 0 && int32(len(matched)) >= in.Limit {
			break
		}
	}

	if in.CountOnly {
		return QueryResult{Count: len(matched)}, nil
	}
	return QueryResult{Count: len(matched), Items: matched}, nil
}

func (m *MemoryGateway) Delete(_ context.Context, table string, key Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk, err := m.pk(table, key)
	if err != nil {
		return &Error{Op: "Delete", Err: err}
	}
	delete(m.table(table), pk)
	return nil
}

func (m *MemoryGateway) BatchWrite(_ context.Context, in BatchWriteRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(in.Table)
	for _, item := range in.Puts {
		pk, err := m.pk(in.Table, item)
		if err != nil {
			return &Error{Op: "BatchWrite", Err: err}
		}
		t[pk] = copyItem(item)
	}
	for _, key := range in.Deletes {
		pk, err := m.pk(in.Table, key)
		if err != nil {
			return &Error{Op: "BatchWrite", Err: err}
		}
		delete(t, pk)
	}
	return nil
}
