package table

import (
	"fmt"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultEntityTypeAttribute is the discriminant attribute used when a table
// does not name its own.
const DefaultEntityTypeAttribute = "entity_type"

type TableDefinition struct {
	Name           string
	KeyDefinitions PrimaryKeyDefinition
	TimeToLiveKey  string
	// EntityTypeAttribute names the attribute holding each item's entity type.
	// Defaults to DefaultEntityTypeAttribute.
	EntityTypeAttribute string
	GSIs                []IndexDefinition
	LSIs                []IndexDefinition
}

type IndexKind string

const (
	IndexGlobal IndexKind = "global"
	IndexLocal  IndexKind = "local"
)

// IndexDefinition describes a secondary index. For local indexes the
// partition key must be the table's partition key.
type IndexDefinition struct {
	Name           string
	Kind           IndexKind
	KeyDefinitions PrimaryKeyDefinition
}

// ExtractPrimaryKey extracts the index key values from a document.
func (i IndexDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return i.KeyDefinitions.ExtractPrimaryKey(doc)
}

func (t TableDefinition) EntityTypeAttr() string {
	if t.EntityTypeAttribute == "" {
		return DefaultEntityTypeAttribute
	}
	return t.EntityTypeAttribute
}

func (t TableDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return t.KeyDefinitions.ExtractPrimaryKey(doc)
}

// Index looks up a secondary index by name.
func (t TableDefinition) Index(name string) (IndexDefinition, bool) {
	for _, idx := range t.GSIs {
		if idx.Name == name {
			return idx, true
		}
	}
	for _, idx := range t.LSIs {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDefinition{}, false
}

// KeyDefinitionsFor returns the key definition used to query the table, or
// the named index when indexName is not empty.
func (t TableDefinition) KeyDefinitionsFor(indexName string) (PrimaryKeyDefinition, error) {
	if indexName == "" {
		return t.KeyDefinitions, nil
	}
	idx, ok := t.Index(indexName)
	if !ok {
		return PrimaryKeyDefinition{}, ddberr.Validationf("table %q has no index %q", t.Name, indexName)
	}
	return idx.KeyDefinitions, nil
}

// KeyAttributes lists every attribute name used by the table's or its indexes' keys.
func (t TableDefinition) KeyAttributes() []string {
	seen := map[string]bool{}
	var out []string
	add := func(def PrimaryKeyDefinition) {
		for _, name := range def.AttributeNames() {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	add(t.KeyDefinitions)
	for _, idx := range t.GSIs {
		add(idx.KeyDefinitions)
	}
	for _, idx := range t.LSIs {
		add(idx.KeyDefinitions)
	}
	return out
}

// Validate checks the definition is internally consistent.
func (t TableDefinition) Validate() error {
	if t.Name == "" {
		return ddberr.Validationf("table name is required")
	}
	if err := t.KeyDefinitions.Validate(); err != nil {
		return fmt.Errorf("table %q: %w", t.Name, err)
	}
	kinds := map[string]KeyKind{}
	record := func(def KeyDef) error {
		if def.Name == "" {
			return nil
		}
		if k, ok := kinds[def.Name]; ok && k != def.Kind {
			return ddberr.Validationf("table %q: attribute %q used with kinds %q and %q", t.Name, def.Name, k, def.Kind)
		}
		kinds[def.Name] = def.Kind
		return nil
	}
	if err := record(t.KeyDefinitions.PartitionKey); err != nil {
		return err
	}
	if err := record(t.KeyDefinitions.SortKey); err != nil {
		return err
	}

	names := map[string]bool{}
	check := func(idx IndexDefinition, want IndexKind) error {
		if idx.Name == "" {
			return ddberr.Validationf("table %q: index name is required", t.Name)
		}
		if names[idx.Name] {
			return ddberr.Validationf("table %q: duplicate index name %q", t.Name, idx.Name)
		}
		names[idx.Name] = true
		if idx.Kind != "" && idx.Kind != want {
			return ddberr.Validationf("table %q: index %q declared as %s, listed as %s", t.Name, idx.Name, idx.Kind, want)
		}
		if err := idx.KeyDefinitions.Validate(); err != nil {
			return fmt.Errorf("table %q index %q: %w", t.Name, idx.Name, err)
		}
		if err := record(idx.KeyDefinitions.PartitionKey); err != nil {
			return err
		}
		return record(idx.KeyDefinitions.SortKey)
	}
	for _, idx := range t.GSIs {
		if err := check(idx, IndexGlobal); err != nil {
			return err
		}
	}
	for _, idx := range t.LSIs {
		if err := check(idx, IndexLocal); err != nil {
			return err
		}
		if idx.KeyDefinitions.PartitionKey != t.KeyDefinitions.PartitionKey {
			return ddberr.Validationf("table %q: local index %q must use the table partition key %q", t.Name, idx.Name, t.KeyDefinitions.PartitionKey.Name)
		}
		if !idx.KeyDefinitions.HasSortKey() {
			return ddberr.Validationf("table %q: local index %q requires a sort key", t.Name, idx.Name)
		}
	}
	return nil
}

func (k PrimaryKeyDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	part, ok := doc[k.PartitionKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("partition key %q not found", k.PartitionKey.Name)
	}
	if err := attributeMatchesDefinition(k.PartitionKey.Kind, part); err != nil {
		return PrimaryKey{}, fmt.Errorf("document key %q kind does not match definition: %w", k.PartitionKey.Name, err)
	}
	pv, err := keyValueFromAV(part)
	if err != nil {
		return PrimaryKey{}, err
	}
	pk := PrimaryKey{
		Definition: k,
		Values:     PrimaryKeyValues{PartitionKey: pv},
	}
	if !k.HasSortKey() {
		return pk, nil
	}
	sort, ok := doc[k.SortKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("sort key %q not found on document", k.SortKey.Name)
	}
	if err := attributeMatchesDefinition(k.SortKey.Kind, sort); err != nil {
		return PrimaryKey{}, fmt.Errorf("sort key %q kind does not match definition: %w", k.SortKey.Name, err)
	}
	sv, err := keyValueFromAV(sort)
	if err != nil {
		return PrimaryKey{}, err
	}
	pk.Values.SortKey = sv
	return pk, nil
}

// KeyOf copies the key attributes of def out of item.
func KeyOf(def PrimaryKeyDefinition, item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, 2)
	for _, name := range def.AttributeNames() {
		if v, ok := item[name]; ok {
			out[name] = v
		}
	}
	return out
}
