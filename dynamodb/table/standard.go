package table

import "fmt"

// Standard single-table layout: string keys named PK and SK, global indexes
// GSI1..GSI20 keyed by GSInPK/GSInSK and local indexes LSI1..LSI5 keyed by
// PK/LSInSK.
const (
	StandardPartitionKey = "PK"
	StandardSortKey      = "SK"

	MaxGlobalIndexes = 20
	MaxLocalIndexes  = 5
)

var StandardPrimaryKey = PrimaryKeyDefinition{
	PartitionKey: KeyDef{Name: StandardPartitionKey, Kind: KeyKindS},
	SortKey:      KeyDef{Name: StandardSortKey, Kind: KeyKindS},
}

// GSI returns the standard definition of global index n. Panics if n is not
// in 1..MaxGlobalIndexes.
func GSI(n int) IndexDefinition {
	if n < 1 || n > MaxGlobalIndexes {
		panic(fmt.Sprintf("table.GSI: index number %d out of range 1..%d", n, MaxGlobalIndexes))
	}
	return IndexDefinition{
		Name: fmt.Sprintf("GSI%d", n),
		Kind: IndexGlobal,
		KeyDefinitions: PrimaryKeyDefinition{
			PartitionKey: KeyDef{Name: fmt.Sprintf("GSI%dPK", n), Kind: KeyKindS},
			SortKey:      KeyDef{Name: fmt.Sprintf("GSI%dSK", n), Kind: KeyKindS},
		},
	}
}

// LSI returns the standard definition of local index n. Panics if n is not
// in 1..MaxLocalIndexes.
func LSI(n int) IndexDefinition {
	if n < 1 || n > MaxLocalIndexes {
		panic(fmt.Sprintf("table.LSI: index number %d out of range 1..%d", n, MaxLocalIndexes))
	}
	return IndexDefinition{
		Name: fmt.Sprintf("LSI%d", n),
		Kind: IndexLocal,
		KeyDefinitions: PrimaryKeyDefinition{
			PartitionKey: StandardPrimaryKey.PartitionKey,
			SortKey:      KeyDef{Name: fmt.Sprintf("LSI%dSK", n), Kind: KeyKindS},
		},
	}
}

// StandardTable is a table definition using the standard layout with the
// first gsis global and lsis local indexes.
func StandardTable(name string, gsis, lsis int) TableDefinition {
	def := TableDefinition{
		Name:           name,
		KeyDefinitions: StandardPrimaryKey,
	}
	for i := 1; i <= gsis; i++ {
		def.GSIs = append(def.GSIs, GSI(i))
	}
	for i := 1; i <= lsis; i++ {
		def.LSIs = append(def.LSIs, LSI(i))
	}
	return def
}
