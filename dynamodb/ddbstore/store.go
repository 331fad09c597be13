// Package ddbstore is a DynamoDB-compatible store backed by BadgerDB. It
// implements ddbiface.AWSDynamoClientV2 so code written against the AWS SDK
// client runs unchanged in tests and local development.
package ddbstore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/acksell/ddbmodel/dynamodb/ddbiface"
	"github.com/acksell/ddbmodel/dynamodb/ddbstore/eval"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

var _ ddbiface.AWSDynamoClientV2 = (*Store)(nil)

// Limits enforced by DynamoDB per request.
const (
	maxBatchGetKeys      = 100
	maxBatchWriteItems   = 25
	maxTransactItems     = 100
	maxConflictRetries   = 10
	conditionFailedMsg   = "The conditional request failed"
	transactionCancelMsg = "Transaction cancelled, please refer cancellation reasons for specific reasons"
)

// Store is a DynamoDB-compatible store backed by BadgerDB. It is safe for
// concurrent use.
type Store struct {
	db     *badger.DB
	tables map[string]*tableSchema
	log    *zap.Logger

	unprocessedEvery int64
	requests         atomic.Int64

	mu     sync.Mutex
	tokens map[string]bool
}

type tableSchema struct {
	definition table.TableDefinition
	indexes    []table.IndexDefinition
}

// StoreOptions configures the BadgerDB store.
type StoreOptions struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger receives the store's and BadgerDB's diagnostics. Nil disables logging.
	Logger *zap.Logger
	// UnprocessedEvery makes every n-th batch request element come back
	// unprocessed. Zero disables it. Meant for exercising batch retries.
	UnprocessedEvery int
}

// New opens a store serving the given tables.
func New(opts StoreOptions, defs ...table.TableDefinition) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	tables := make(map[string]*tableSchema, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("table %q: %w", def.Name, err)
		}
		if _, dup := tables[def.Name]; dup {
			return nil, fmt.Errorf("table %q defined twice", def.Name)
		}
		schema := &tableSchema{definition: def}
		schema.indexes = append(schema.indexes, def.GSIs...)
		schema.indexes = append(schema.indexes, def.LSIs...)
		tables[def.Name] = schema
	}

	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{opts.Logger.Named("badger").Sugar()})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	log.Debug("store opened", zap.String("path", opts.Path), zap.Int("tables", len(tables)))

	return &Store{
		db:               db,
		tables:           tables,
		log:              log,
		unprocessedEvery: int64(opts.UnprocessedEvery),
		tokens:           map[string]bool{},
	}, nil
}

// NewInMemory is shorthand for an in-memory store.
func NewInMemory(defs ...table.TableDefinition) (*Store, error) {
	return New(StoreOptions{InMemory: true}, defs...)
}

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger adapts zap to badger.Logger, which spells Warn as Warningf.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

func (s *Store) getTable(tableName *string) (*tableSchema, error) {
	if tableName == nil || *tableName == "" {
		return nil, validationErr("table name is required")
	}
	schema, ok := s.tables[*tableName]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: table " + *tableName)}
	}
	return schema, nil
}

func validationErr(format string, args ...any) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: fmt.Sprintf(format, args...),
		Fault:   smithy.FaultClient,
	}
}

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("transaction conflict, retrying", zap.Int("attempt", i+1))
	}
	return err
}

// unprocessed reports whether the next batch element should be skipped.
func (s *Store) unprocessed() bool {
	if s.unprocessedEvery <= 0 {
		return false
	}
	return s.requests.Add(1)%s.unprocessedEvery == 0
}

func (t *tableSchema) index(name *string) (*table.IndexDefinition, error) {
	if name == nil || *name == "" {
		return nil, nil
	}
	for i := range t.indexes {
		if t.indexes[i].Name == *name {
			return &t.indexes[i], nil
		}
	}
	return nil, validationErr("the table does not have the specified index: %s", *name)
}

// keyOf encodes the table entry key of item.
func (t *tableSchema) keyOf(item map[string]types.AttributeValue) ([]byte, error) {
	suffix, err := keySuffix(t.definition.KeyDefinitions, item)
	if err != nil {
		return nil, validationErr("one or more parameter values were invalid: %v", err)
	}
	return append(tablePrefix(t.definition.Name), suffix...), nil
}

// keyFromRequest validates a Key parameter: exactly the table's key
// attributes, with the right types.
func (t *tableSchema) keyFromRequest(key map[string]types.AttributeValue) ([]byte, error) {
	names := t.definition.KeyDefinitions.AttributeNames()
	if len(key) != len(names) {
		return nil, validationErr("the provided key element does not match the schema")
	}
	for _, name := range names {
		if _, ok := key[name]; !ok {
			return nil, validationErr("the provided key element does not match the schema")
		}
	}
	return t.keyOf(key)
}

// indexKeyOf encodes the index entry key of item, or returns nil when the
// item does not carry every key attribute of the index.
func (t *tableSchema) indexKeyOf(idx table.IndexDefinition, item map[string]types.AttributeValue) ([]byte, error) {
	for _, name := range idx.KeyDefinitions.AttributeNames() {
		if _, ok := item[name]; !ok {
			return nil, nil
		}
	}
	suffix, err := keySuffix(idx.KeyDefinitions, item)
	if err != nil {
		return nil, err
	}
	main, err := keySuffix(t.definition.KeyDefinitions, item)
	if err != nil {
		return nil, err
	}
	key := append(indexPrefix(t.definition.Name, idx.Name), suffix...)
	key = append(key, keySeparator)
	return append(key, main...), nil
}

// validateItem checks the key attributes of an item about to be written.
func (t *tableSchema) validateItem(item map[string]types.AttributeValue) error {
	check := func(def table.KeyDef, required bool) error {
		v, ok := item[def.Name]
		if !ok {
			if required {
				return validationErr("one or more parameter values were invalid: missing the key %s in the item", def.Name)
			}
			return nil
		}
		if eval.TypeName(v) != string(def.Kind) {
			return validationErr("one or more parameter values were invalid: type mismatch for key %s expected: %s actual: %s",
				def.Name, def.Kind, eval.TypeName(v))
		}
		switch kv := v.(type) {
		case *types.AttributeValueMemberS:
			if kv.Value == "" {
				return validationErr("one or more parameter values are not valid: the attribute value for key %s cannot contain an empty string value", def.Name)
			}
		case *types.AttributeValueMemberB:
			if len(kv.Value) == 0 {
				return validationErr("one or more parameter values are not valid: the attribute value for key %s cannot contain an empty binary value", def.Name)
			}
		}
		return nil
	}
	keys := t.definition.KeyDefinitions
	if err := check(keys.PartitionKey, true); err != nil {
		return err
	}
	if keys.HasSortKey() {
		if err := check(keys.SortKey, true); err != nil {
			return err
		}
	}
	for _, idx := range t.indexes {
		if err := check(idx.KeyDefinitions.PartitionKey, false); err != nil {
			return err
		}
		if idx.KeyDefinitions.HasSortKey() {
			if err := check(idx.KeyDefinitions.SortKey, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// load reads the item stored under key, or nil when there is none.
func load(txn *badger.Txn, key []byte) (map[string]types.AttributeValue, error) {
	entry, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var item map[string]types.AttributeValue
	err = entry.Value(func(val []byte) error {
		item, err = deserializeItem(val)
		return err
	})
	return item, err
}

// write stores item under key and moves its index entries from old to item.
func (t *tableSchema) write(txn *badger.Txn, key []byte, old, item map[string]types.AttributeValue) error {
	if err := t.dropIndexEntries(txn, old); err != nil {
		return err
	}
	data, err := serializeItem(item)
	if err != nil {
		return fmt.Errorf("serialize item: %w", err)
	}
	if err := txn.Set(key, data); err != nil {
		return err
	}
	for _, idx := range t.indexes {
		ikey, err := t.indexKeyOf(idx, item)
		if err != nil {
			return fmt.Errorf("index %s: %w", idx.Name, err)
		}
		if ikey == nil {
			continue
		}
		if err := txn.Set(ikey, key); err != nil {
			return err
		}
	}
	return nil
}

// remove deletes the item under key along with its index entries.
func (t *tableSchema) remove(txn *badger.Txn, key []byte, old map[string]types.AttributeValue) error {
	if old == nil {
		return nil
	}
	if err := t.dropIndexEntries(txn, old); err != nil {
		return err
	}
	return txn.Delete(key)
}

func (t *tableSchema) dropIndexEntries(txn *badger.Txn, old map[string]types.AttributeValue) error {
	if old == nil {
		return nil
	}
	for _, idx := range t.indexes {
		ikey, err := t.indexKeyOf(idx, old)
		if err != nil || ikey == nil {
			continue
		}
		if err := txn.Delete(ikey); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) condition(src *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	ok, err := eval.Check(src, eval.Input{Names: names, Values: values}, item)
	if err != nil {
		return false, validationErr("invalid ConditionExpression: %v", err)
	}
	return ok, nil
}

func conditionFailed(old map[string]types.AttributeValue, rv types.ReturnValuesOnConditionCheckFailure) error {
	ccf := &types.ConditionalCheckFailedException{Message: aws.String(conditionFailedMsg)}
	if rv == types.ReturnValuesOnConditionCheckFailureAllOld {
		ccf.Item = old
	}
	return ccf
}

func projectItems(src *string, names map[string]string, items ...map[string]types.AttributeValue) error {
	if err := eval.Project(src, names, items...); err != nil {
		return validationErr("invalid ProjectionExpression: %v", err)
	}
	return nil
}
