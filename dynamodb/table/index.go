package table

import (
	"errors"
	"fmt"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Entity is a typed record stored in a table. EntityType is the discriminant
// written to the table's entity type attribute; it must not depend on the
// receiver's field values.
type Entity interface {
	EntityType() string
	FullKey() (FullKey, error)
}

// Primary indexes operates on the underlying table's keys.
// The index definition contains "Keyers" which construct the primary key.
type PrimaryIndexDefinition struct {
	Table          TableDefinition
	PartitionKeyer Keyer
	SortKeyer      Keyer
}

func (i *PrimaryIndexDefinition) PrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return deriveKey(i.Table.KeyDefinitions, i.PartitionKeyer, i.SortKeyer, doc)
}

// SecondaryIndexDefinition describes the keys an entity writes for one index.
// Global indexes are sparse: an entity whose document lacks the fields needed
// for the index keys is simply left out of the index.
type SecondaryIndexDefinition struct {
	Index          IndexDefinition
	PartitionKeyer Keyer
	SortKeyer      Keyer
}

func (i *SecondaryIndexDefinition) PrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	pkKeyer := i.PartitionKeyer
	if i.Index.Kind == IndexLocal && pkKeyer == nil {
		return PrimaryKey{}, ddberr.Validationf("local index %q needs the table partition keyer", i.Index.Name)
	}
	return deriveKey(i.Index.KeyDefinitions, pkKeyer, i.SortKeyer, doc)
}

func deriveKey(def PrimaryKeyDefinition, partKeyer, sortKeyer Keyer, doc map[string]types.AttributeValue) (PrimaryKey, error) {
	if partKeyer == nil {
		return PrimaryKey{}, ddberr.Validationf("no keyer for partition key %q", def.PartitionKey.Name)
	}
	part, err := partKeyer.Key(doc)
	if err != nil {
		return PrimaryKey{}, fmt.Errorf("failed to get partition key: %w", err)
	}
	if err := attributeMatchesDefinition(def.PartitionKey.Kind, part); err != nil {
		return PrimaryKey{}, ddberr.Validationf("partition key kind does not match table definition: %w", err)
	}
	pv, err := keyValueFromAV(part)
	if err != nil {
		return PrimaryKey{}, ddberr.Validationf("partition key: %w", err)
	}
	pk := PrimaryKey{
		Definition: def,
		Values:     PrimaryKeyValues{PartitionKey: pv},
	}
	if !def.HasSortKey() {
		return pk, nil
	}
	if sortKeyer == nil {
		return PrimaryKey{}, ddberr.Validationf("no keyer for sort key %q", def.SortKey.Name)
	}
	sort, err := sortKeyer.Key(doc)
	if err != nil {
		return PrimaryKey{}, fmt.Errorf("failed to get sort key: %w", err)
	}
	if err := attributeMatchesDefinition(def.SortKey.Kind, sort); err != nil {
		return PrimaryKey{}, ddberr.Validationf("sort key kind does not match table definition: %w", err)
	}
	sv, err := keyValueFromAV(sort)
	if err != nil {
		return PrimaryKey{}, ddberr.Validationf("sort key: %w", err)
	}
	pk.Values.SortKey = sv
	return pk, nil
}

// EntityKeys bundles the keyers of an entity type, so that an entity can
// implement FullKey as
//
//	func (u User) FullKey() (table.FullKey, error) { return userKeys.FullKey(u) }
type EntityKeys struct {
	Primary   PrimaryIndexDefinition
	Secondary []SecondaryIndexDefinition
}

// FullKey marshals v and derives every key from the resulting document.
func (k EntityKeys) FullKey(v any) (FullKey, error) {
	doc, err := attributevalue.MarshalMap(v)
	if err != nil {
		return FullKey{}, ddberr.Validationf("failed to marshal %T for key derivation: %w", v, err)
	}
	return k.FullKeyFromDoc(doc)
}

func (k EntityKeys) FullKeyFromDoc(doc map[string]types.AttributeValue) (FullKey, error) {
	primary, err := k.Primary.PrimaryKey(doc)
	if err != nil {
		return FullKey{}, fmt.Errorf("primary key: %w", err)
	}
	fk := FullKey{Primary: primary}
	for i := range k.Secondary {
		sec := &k.Secondary[i]
		key, err := sec.PrimaryKey(doc)
		if err != nil {
			if sec.Index.Kind != IndexLocal && errors.Is(err, ErrMissingField) {
				continue
			}
			return FullKey{}, fmt.Errorf("index %q: %w", sec.Index.Name, err)
		}
		fk.Indexes = append(fk.Indexes, key)
	}
	return fk, nil
}
