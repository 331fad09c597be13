package table

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrMissingField is wrapped by keyers when a field needed to build a key is
// absent from the document.
var ErrMissingField = errors.New("missing key field")

type PrimaryKeyDefinition struct {
	PartitionKey KeyDef
	// SortKey is optional, an empty Name means the key has no sort component.
	SortKey KeyDef
}

type KeyDef struct {
	Name string
	Kind KeyKind
}

type KeyKind string

const (
	KeyKindS KeyKind = "S"
	KeyKindN KeyKind = "N"
	KeyKindB KeyKind = "B"
)

func (k KeyKind) valid() bool {
	return k == KeyKindS || k == KeyKindN || k == KeyKindB
}

func (k PrimaryKeyDefinition) HasSortKey() bool {
	return k.SortKey.Name != ""
}

// AttributeNames returns the partition key name followed by the sort key name, if any.
func (k PrimaryKeyDefinition) AttributeNames() []string {
	if !k.HasSortKey() {
		return []string{k.PartitionKey.Name}
	}
	return []string{k.PartitionKey.Name, k.SortKey.Name}
}

func (k PrimaryKeyDefinition) Validate() error {
	if k.PartitionKey.Name == "" {
		return ddberr.Validationf("partition key name is required")
	}
	if !k.PartitionKey.Kind.valid() {
		return ddberr.Validationf("partition key %q has invalid kind %q", k.PartitionKey.Name, k.PartitionKey.Kind)
	}
	if !k.HasSortKey() {
		return nil
	}
	if k.SortKey.Name == k.PartitionKey.Name {
		return ddberr.Validationf("sort key and partition key share the name %q", k.SortKey.Name)
	}
	if !k.SortKey.Kind.valid() {
		return ddberr.Validationf("sort key %q has invalid kind %q", k.SortKey.Name, k.SortKey.Kind)
	}
	return nil
}

// PrimaryKeyValues holds the raw key values. Values can be strings, any Go
// number type, or []byte. N values may also be given as numeric strings.
type PrimaryKeyValues struct {
	PartitionKey any
	SortKey      any
}

type PrimaryKey struct {
	Definition PrimaryKeyDefinition
	Values     PrimaryKeyValues
}

// NewKey is shorthand for a PrimaryKey with both values set.
func NewKey(def PrimaryKeyDefinition, partition, sort any) PrimaryKey {
	return PrimaryKey{Definition: def, Values: PrimaryKeyValues{PartitionKey: partition, SortKey: sort}}
}

// Item renders the key as the attribute map sent to the store.
func (k PrimaryKey) Item() (map[string]types.AttributeValue, error) {
	pk, err := keyAttribute(k.Definition.PartitionKey, k.Values.PartitionKey)
	if err != nil {
		return nil, err
	}
	if !k.Definition.HasSortKey() {
		return map[string]types.AttributeValue{
			k.Definition.PartitionKey.Name: pk,
		}, nil
	}
	if k.Values.SortKey == nil {
		return nil, ddberr.Validationf("sort key %q is required but got nil", k.Definition.SortKey.Name)
	}
	sk, err := keyAttribute(k.Definition.SortKey, k.Values.SortKey)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		k.Definition.PartitionKey.Name: pk,
		k.Definition.SortKey.Name:      sk,
	}, nil
}

// String formats the key for logs and error messages.
func (k PrimaryKey) String() string {
	if !k.Definition.HasSortKey() {
		return fmt.Sprintf("%s=%v", k.Definition.PartitionKey.Name, k.Values.PartitionKey)
	}
	return fmt.Sprintf("%s=%v,%s=%v", k.Definition.PartitionKey.Name, k.Values.PartitionKey, k.Definition.SortKey.Name, k.Values.SortKey)
}

// AttributeValue converts v to an attribute value of the key's kind. N keys
// also accept numeric strings.
func (d KeyDef) AttributeValue(v any) (types.AttributeValue, error) {
	return keyAttribute(d, v)
}

func keyAttribute(def KeyDef, v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, ddberr.Validationf("key %q is required but got nil", def.Name)
	}
	if s, ok := v.(string); ok && def.Kind == KeyKindN {
		if !numberRegex.MatchString(s) {
			return nil, ddberr.Validationf("key %q: %q is not a number", def.Name, s)
		}
		return &types.AttributeValueMemberN{Value: s}, nil
	}
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return nil, ddberr.Validationf("key %q: failed to marshal %T: %w", def.Name, v, err)
	}
	if err := attributeMatchesDefinition(def.Kind, av); err != nil {
		return nil, ddberr.Validationf("key %q kind does not match value: %w", def.Name, err)
	}
	if n, ok := av.(*types.AttributeValueMemberN); ok && !numberRegex.MatchString(n.Value) {
		return nil, ddberr.Validationf("key %q: %v is not a finite number", def.Name, v)
	}
	return av, nil
}

// numberRegex matches the decimal numbers the store accepts. NaN, infinities
// and hex floats are not among them.
var numberRegex = regexp.MustCompile(`^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][+-]?[0-9]+)?$`)

func attributeMatchesDefinition(want KeyKind, v types.AttributeValue) error {
	var got KeyKind
	switch v.(type) {
	case *types.AttributeValueMemberS:
		got = KeyKindS
	case *types.AttributeValueMemberN:
		got = KeyKindN
	case *types.AttributeValueMemberB:
		got = KeyKindB
	default:
		return fmt.Errorf("unexpected key attribute type %T", v)
	}
	if got != want {
		return fmt.Errorf("got KeyKind %q want %q", got, want)
	}
	return nil
}

func keyValueFromAV(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return v.Value, nil
	case *types.AttributeValueMemberB:
		return v.Value, nil
	default:
		return nil, fmt.Errorf("unsupported attribute value %T for keys", v)
	}
}

// AttributeValuesEqual compares scalar key attribute values.
func AttributeValuesEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		if bv, ok := b.(*types.AttributeValueMemberS); ok {
			return av.Value == bv.Value
		}
	case *types.AttributeValueMemberN:
		if bv, ok := b.(*types.AttributeValueMemberN); ok {
			return av.Value == bv.Value
		}
	case *types.AttributeValueMemberB:
		if bv, ok := b.(*types.AttributeValueMemberB); ok {
			return bytes.Equal(av.Value, bv.Value)
		}
	}
	return false
}

// FullKey is every key attribute an entity writes: its primary key plus the
// keys of each secondary index it participates in.
type FullKey struct {
	Primary PrimaryKey
	Indexes []PrimaryKey
}

// Item merges all keys into one attribute map. Two keys that assign different
// values to the same attribute are rejected.
func (f FullKey) Item() (map[string]types.AttributeValue, error) {
	out, err := f.Primary.Item()
	if err != nil {
		return nil, fmt.Errorf("primary key: %w", err)
	}
	for _, idx := range f.Indexes {
		attrs, err := idx.Item()
		if err != nil {
			return nil, fmt.Errorf("index key %s: %w", idx, err)
		}
		for name, v := range attrs {
			if existing, ok := out[name]; ok && !AttributeValuesEqual(existing, v) {
				return nil, ddberr.Validationf("key attribute %q assigned conflicting values", name)
			}
			out[name] = v
		}
	}
	return out, nil
}
