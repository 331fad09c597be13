package table

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultSchemaFile is the file name FindSchemaFile looks for.
const DefaultSchemaFile = "ddb.yaml"

// Schema is the YAML representation of one or more table definitions:
//
//	tables:
//	  - name: sessions
//	    partitionKey: {name: PK, kind: S}
//	    sortKey: {name: SK, kind: S}
//	    timeToLive: ttl
//	    entityTypeAttribute: et
//	    gsis:
//	      - name: GSI1
//	        partitionKey: {name: GSI1PK, kind: S}
//	        sortKey: {name: GSI1SK, kind: S}
//	    entities:
//	      - type: session
//	        partitionKeyPattern: "SESSION#{session_id}"
//	        sortKeyPattern: "SESSION#{session_id}"
type Schema struct {
	Tables []TableSchema `yaml:"tables" validate:"required,min=1,dive"`
}

type TableSchema struct {
	Name                string         `yaml:"name" validate:"required"`
	PartitionKey        KeySchema      `yaml:"partitionKey" validate:"required"`
	SortKey             *KeySchema     `yaml:"sortKey,omitempty" validate:"omitempty"`
	TimeToLive          string         `yaml:"timeToLive,omitempty"`
	EntityTypeAttribute string         `yaml:"entityTypeAttribute,omitempty"`
	GSIs                []IndexSchema  `yaml:"gsis,omitempty" validate:"dive"`
	LSIs                []IndexSchema  `yaml:"lsis,omitempty" validate:"dive"`
	Entities            []EntitySchema `yaml:"entities,omitempty" validate:"dive"`
}

type KeySchema struct {
	Name string `yaml:"name" validate:"required"`
	Kind string `yaml:"kind" validate:"required,oneof=S N B"`
}

// IndexSchema describes a secondary index. PartitionKey may be omitted for
// local indexes, which always use the table partition key.
type IndexSchema struct {
	Name         string     `yaml:"name" validate:"required"`
	PartitionKey *KeySchema `yaml:"partitionKey,omitempty" validate:"omitempty"`
	SortKey      *KeySchema `yaml:"sortKey,omitempty" validate:"omitempty"`
}

// EntitySchema describes how an entity type builds its keys, using
// PatternKeyer patterns.
type EntitySchema struct {
	Type                string             `yaml:"type" validate:"required"`
	PartitionKeyPattern string             `yaml:"partitionKeyPattern" validate:"required"`
	SortKeyPattern      string             `yaml:"sortKeyPattern,omitempty"`
	Indexes             []EntityIndexSchema `yaml:"indexes,omitempty" validate:"dive"`
}

type EntityIndexSchema struct {
	Index            string `yaml:"index" validate:"required"`
	PartitionPattern string `yaml:"partitionPattern,omitempty"`
	SortPattern      string `yaml:"sortPattern,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadSchema reads and validates a YAML schema file.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema: %w", err)
	}
	return ParseSchema(data)
}

// ParseSchema decodes and validates a YAML schema.
func ParseSchema(data []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, ddberr.Validationf("decode schema: %w", err)
	}
	if err := validate.Struct(s); err != nil {
		return Schema{}, ddberr.Validationf("invalid schema: %w", err)
	}
	for _, t := range s.Tables {
		def := t.Definition()
		if err := def.Validate(); err != nil {
			return Schema{}, err
		}
		for _, e := range t.Entities {
			if _, err := t.EntityKeys(e.Type); err != nil {
				return Schema{}, err
			}
		}
	}
	return s, nil
}

// Table returns the schema of the named table.
func (s Schema) Table(name string) (TableSchema, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}

// Definitions converts every table in the schema.
func (s Schema) Definitions() []TableDefinition {
	defs := make([]TableDefinition, 0, len(s.Tables))
	for _, t := range s.Tables {
		defs = append(defs, t.Definition())
	}
	return defs
}

func (k *KeySchema) def() KeyDef {
	if k == nil {
		return KeyDef{}
	}
	return KeyDef{Name: k.Name, Kind: KeyKind(k.Kind)}
}

func (t TableSchema) Definition() TableDefinition {
	def := TableDefinition{
		Name: t.Name,
		KeyDefinitions: PrimaryKeyDefinition{
			PartitionKey: t.PartitionKey.def(),
			SortKey:      t.SortKey.def(),
		},
		TimeToLiveKey:       t.TimeToLive,
		EntityTypeAttribute: t.EntityTypeAttribute,
	}
	for _, g := range t.GSIs {
		def.GSIs = append(def.GSIs, IndexDefinition{
			Name: g.Name,
			Kind: IndexGlobal,
			KeyDefinitions: PrimaryKeyDefinition{
				PartitionKey: g.PartitionKey.def(),
				SortKey:      g.SortKey.def(),
			},
		})
	}
	for _, l := range t.LSIs {
		pk := def.KeyDefinitions.PartitionKey
		if l.PartitionKey != nil {
			pk = l.PartitionKey.def()
		}
		def.LSIs = append(def.LSIs, IndexDefinition{
			Name: l.Name,
			Kind: IndexLocal,
			KeyDefinitions: PrimaryKeyDefinition{
				PartitionKey: pk,
				SortKey:      l.SortKey.def(),
			},
		})
	}
	return def
}

// EntityKeys builds the keyers declared for an entity type.
func (t TableSchema) EntityKeys(entityType string) (EntityKeys, error) {
	def := t.Definition()
	for _, e := range t.Entities {
		if e.Type != entityType {
			continue
		}
		pk, err := ParsePattern(e.PartitionKeyPattern)
		if err != nil {
			return EntityKeys{}, ddberr.Validationf("entity %q partition key pattern: %w", e.Type, err)
		}
		keys := EntityKeys{Primary: PrimaryIndexDefinition{Table: def, PartitionKeyer: pk}}
		if e.SortKeyPattern != "" {
			sk, err := ParsePattern(e.SortKeyPattern)
			if err != nil {
				return EntityKeys{}, ddberr.Validationf("entity %q sort key pattern: %w", e.Type, err)
			}
			keys.Primary.SortKeyer = sk
		} else if def.KeyDefinitions.HasSortKey() {
			return EntityKeys{}, ddberr.Validationf("entity %q needs a sort key pattern for table %q", e.Type, t.Name)
		}
		for _, ix := range e.Indexes {
			idx, ok := def.Index(ix.Index)
			if !ok {
				return EntityKeys{}, ddberr.Validationf("entity %q references unknown index %q", e.Type, ix.Index)
			}
			sec := SecondaryIndexDefinition{Index: idx}
			partPattern := ix.PartitionPattern
			if idx.Kind == IndexLocal {
				partPattern = e.PartitionKeyPattern
			}
			if partPattern == "" {
				return EntityKeys{}, ddberr.Validationf("entity %q index %q needs a partition pattern", e.Type, ix.Index)
			}
			if sec.PartitionKeyer, err = ParsePattern(partPattern); err != nil {
				return EntityKeys{}, ddberr.Validationf("entity %q index %q: %w", e.Type, ix.Index, err)
			}
			if idx.KeyDefinitions.HasSortKey() {
				if ix.SortPattern == "" {
					return EntityKeys{}, ddberr.Validationf("entity %q index %q needs a sort pattern", e.Type, ix.Index)
				}
				if sec.SortKeyer, err = ParsePattern(ix.SortPattern); err != nil {
					return EntityKeys{}, ddberr.Validationf("entity %q index %q: %w", e.Type, ix.Index, err)
				}
			}
			keys.Secondary = append(keys.Secondary, sec)
		}
		return keys, nil
	}
	return EntityKeys{}, ddberr.Validationf("table %q has no entity %q", t.Name, entityType)
}

// FindSchemaFile searches for name starting from dir and walking up to the
// filesystem root. Returns "" if not found.
func FindSchemaFile(dir, name string) string {
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
