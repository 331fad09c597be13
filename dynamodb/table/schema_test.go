package table

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionSchema = `
tables:
  - name: sessions
    partitionKey: {name: PK, kind: S}
    sortKey: {name: SK, kind: S}
    timeToLive: ttl
    entityTypeAttribute: et
    gsis:
      - name: GSI1
        partitionKey: {name: GSI1PK, kind: S}
        sortKey: {name: GSI1SK, kind: S}
    lsis:
      - name: LSI1
        sortKey: {name: LSI1SK, kind: S}
    entities:
      - type: session
        partitionKeyPattern: "SESSION#{session_id}"
        sortKeyPattern: "SESSION#{session_id}"
        indexes:
          - index: GSI1
            partitionPattern: "USER#{user}"
            sortPattern: "SESSION#{session_id}"
          - index: LSI1
            sortPattern: "USER#{user}"
`

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema([]byte(sessionSchema))
	require.NoError(t, err)

	ts, ok := s.Table("sessions")
	require.True(t, ok)
	def := ts.Definition()
	require.NoError(t, def.Validate())
	assert.Equal(t, "ttl", def.TimeToLiveKey)
	assert.Equal(t, "et", def.EntityTypeAttr())
	assert.Equal(t, StandardPrimaryKey, def.KeyDefinitions)
	assert.Equal(t, GSI(1), def.GSIs[0])
	assert.Equal(t, LSI(1), def.LSIs[0])
	assert.Len(t, s.Definitions(), 1)

	keys, err := ts.EntityKeys("session")
	require.NoError(t, err)
	fk, err := keys.FullKeyFromDoc(map[string]types.AttributeValue{
		"session_id": &types.AttributeValueMemberS{Value: "s1"},
		"user":       &types.AttributeValueMemberS{Value: "u1"},
	})
	require.NoError(t, err)
	item, err := fk.Item()
	require.NoError(t, err)
	assert.Equal(t, map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: "SESSION#s1"},
		"SK":     &types.AttributeValueMemberS{Value: "SESSION#s1"},
		"GSI1PK": &types.AttributeValueMemberS{Value: "USER#u1"},
		"GSI1SK": &types.AttributeValueMemberS{Value: "SESSION#s1"},
		"LSI1SK": &types.AttributeValueMemberS{Value: "USER#u1"},
	}, item)

	_, err = ts.EntityKeys("nope")
	assert.ErrorIs(t, err, ddberr.ErrValidation)
	_, ok = s.Table("nope")
	assert.False(t, ok)
}

func TestParseSchema_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "not yaml", yaml: "tables: [:"},
		{name: "no tables", yaml: "tables: []"},
		{name: "bad key kind", yaml: `
tables:
  - name: t
    partitionKey: {name: PK, kind: X}
`},
		{name: "missing table name", yaml: `
tables:
  - partitionKey: {name: PK, kind: S}
`},
		{name: "unknown index", yaml: `
tables:
  - name: t
    partitionKey: {name: PK, kind: S}
    entities:
      - type: e
        partitionKeyPattern: "E#{id}"
        indexes:
          - index: GSI9
            partitionPattern: "X#{id}"
`},
		{name: "missing sort pattern", yaml: `
tables:
  - name: t
    partitionKey: {name: PK, kind: S}
    sortKey: {name: SK, kind: S}
    entities:
      - type: e
        partitionKeyPattern: "E#{id}"
`},
		{name: "local index without sort key", yaml: `
tables:
  - name: t
    partitionKey: {name: PK, kind: S}
    lsis:
      - name: LSI1
`},
		{name: "bad pattern", yaml: `
tables:
  - name: t
    partitionKey: {name: PK, kind: S}
    entities:
      - type: e
        partitionKeyPattern: "E#{}"
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchema([]byte(tt.yaml))
			require.ErrorIs(t, err, ddberr.ErrValidation)
		})
	}
}

func TestLoadSchema_FindSchemaFile(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultSchemaFile), []byte(sessionSchema), 0o644))

	path := FindSchemaFile(nested, DefaultSchemaFile)
	require.Equal(t, filepath.Join(root, DefaultSchemaFile), path)

	s, err := LoadSchema(path)
	require.NoError(t, err)
	require.Len(t, s.Tables, 1)

	assert.Equal(t, "", FindSchemaFile(nested, "missing.yaml"))

	_, err = LoadSchema(filepath.Join(root, "missing.yaml"))
	assert.Error(t, err)
}
