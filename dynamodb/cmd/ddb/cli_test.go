package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/acksell/ddbmodel/dynamodb/ddbstore"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionsSchema = `tables:
  - name: sessions
    partitionKey: {name: pk, kind: S}
    sortKey: {name: sk, kind: S}
    gsis:
      - name: by-user
        partitionKey: {name: user_id, kind: S}
        sortKey: {name: created, kind: N}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// seedSessions writes three sessions of user u1 into a BadgerDB store in a
// new directory and returns the schema file and data directory.
func seedSessions(t *testing.T) (schemaFile, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	schemaFile = writeFile(t, dir, table.DefaultSchemaFile, sessionsSchema)
	dataDir = filepath.Join(dir, "data")

	s, err := table.LoadSchema(schemaFile)
	require.NoError(t, err)
	store, err := ddbstore.New(ddbstore.StoreOptions{Path: dataDir}, s.Definitions()...)
	require.NoError(t, err)

	for i, id := range []string{"a", "b", "c"} {
		_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
			TableName: aws.String("sessions"),
			Item: map[string]types.AttributeValue{
				"pk":      &types.AttributeValueMemberS{Value: "user#u1"},
				"sk":      &types.AttributeValueMemberS{Value: "session#" + id},
				"user_id": &types.AttributeValueMemberS{Value: "u1"},
				"created": &types.AttributeValueMemberN{Value: []string{"100", "300", "200"}[i]},
				"device":  &types.AttributeValueMemberS{Value: "phone-" + id},
			},
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())
	return schemaFile, dataDir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func lines(out string) []string {
	return strings.Split(strings.TrimRight(out, "\n"), "\n")
}

type pageOutput struct {
	Items  []map[string]any `json:"items"`
	Count  int              `json:"count"`
	Cursor map[string]any   `json:"cursor"`
}

func decodePages(t *testing.T, out string) []pageOutput {
	t.Helper()
	var pages []pageOutput
	for _, line := range lines(out) {
		var p pageOutput
		require.NoError(t, json.Unmarshal([]byte(line), &p), line)
		pages = append(pages, p)
	}
	return pages
}

func TestRun_Get(t *testing.T) {
	schema, data := seedSessions(t)

	t.Run("prints the item", func(t *testing.T) {
		out, err := runCLI(t, "get", "--file", schema, "--db", data, "--pk", "user#u1", "--sk", "session#b")
		require.NoError(t, err)
		assert.JSONEq(t, `{"pk":"user#u1","sk":"session#b","user_id":"u1","created":300,"device":"phone-b"}`, out)
	})

	t.Run("projection", func(t *testing.T) {
		out, err := runCLI(t, "get", "--file", schema, "--db", data, "--pk", "user#u1", "--sk", "session#a", "--attrs", "device, created")
		require.NoError(t, err)
		assert.JSONEq(t, `{"created":100,"device":"phone-a"}`, out)
	})

	t.Run("missing item", func(t *testing.T) {
		_, err := runCLI(t, "get", "--file", schema, "--db", data, "--pk", "user#u1", "--sk", "session#z")
		assert.ErrorContains(t, err, "no item")
	})

	t.Run("flag errors", func(t *testing.T) {
		tests := map[string][]string{
			"no pk":             {"get", "--file", schema, "--db", data},
			"no sk":             {"get", "--file", schema, "--db", data, "--pk", "user#u1"},
			"memory and db":     {"get", "--file", schema, "--db", data, "--memory", "--pk", "x", "--sk", "y"},
			"unknown table":     {"get", "--file", schema, "--db", data, "--table", "nope", "--pk", "x", "--sk", "y"},
			"missing schema":    {"get", "--file", filepath.Join(t.TempDir(), "none.yaml"), "--memory", "--pk", "x", "--sk", "y"},
			"undefined flag":    {"get", "--nope"},
			"negative page cap": {"query", "--file", schema, "--db", data, "--pk", "x", "--max-pages", "-1"},
		}
		for name, args := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := runCLI(t, args...)
				assert.Error(t, err)
			})
		}
	})
}

func TestRun_Query(t *testing.T) {
	schema, data := seedSessions(t)

	t.Run("one line per page", func(t *testing.T) {
		out, err := runCLI(t, "query", "--file", schema, "--db", data, "--pk", "user#u1", "--sk-prefix", "session#", "--limit", "2")
		require.NoError(t, err)
		pages := decodePages(t, out)
		require.Len(t, pages, 2)
		assert.Equal(t, 2, pages[0].Count)
		assert.Equal(t, "session#b", pages[0].Cursor["sk"])
		assert.Len(t, pages[1].Items, 1)
		assert.Nil(t, pages[1].Cursor)
	})

	t.Run("descending and capped", func(t *testing.T) {
		out, err := runCLI(t, "query", "--file", schema, "--db", data, "--pk", "user#u1", "--desc", "--limit", "1", "--max-pages", "1")
		require.NoError(t, err)
		pages := decodePages(t, out)
		require.Len(t, pages, 1)
		require.Len(t, pages[0].Items, 1)
		assert.Equal(t, "session#c", pages[0].Items[0]["sk"])
	})

	t.Run("secondary index", func(t *testing.T) {
		out, err := runCLI(t, "query", "--file", schema, "--db", data, "--index", "by-user", "--pk", "u1", "--attrs", "device")
		require.NoError(t, err)
		pages := decodePages(t, out)
		require.Len(t, pages, 1)
		var devices []any
		for _, it := range pages[0].Items {
			devices = append(devices, it["device"])
		}
		assert.Equal(t, []any{"phone-a", "phone-c", "phone-b"}, devices, "ordered by created")
	})

	t.Run("unknown index", func(t *testing.T) {
		_, err := runCLI(t, "query", "--file", schema, "--db", data, "--index", "nope", "--pk", "u1")
		assert.ErrorContains(t, err, "no index")
	})
}

func TestRun_Scan(t *testing.T) {
	schema, data := seedSessions(t)

	out, err := runCLI(t, "scan", "--file", schema, "--db", data)
	require.NoError(t, err)
	pages := decodePages(t, out)
	require.Len(t, pages, 1)
	assert.Equal(t, 3, pages[0].Count)

	var total int
	for seg := 0; seg < 2; seg++ {
		out, err := runCLI(t, "scan", "--file", schema, "--db", data, "--segment", []string{"0", "1"}[seg], "--segments", "2")
		require.NoError(t, err)
		for _, p := range decodePages(t, out) {
			total += len(p.Items)
		}
	}
	assert.Equal(t, 3, total)
}

func TestRun_MemoryStoreIsEmpty(t *testing.T) {
	schema := writeFile(t, t.TempDir(), table.DefaultSchemaFile, sessionsSchema)
	out, err := runCLI(t, "scan", "--file", schema, "--memory")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[],"count":0}`, out)
}

func TestRun_Schema(t *testing.T) {
	schema := writeFile(t, t.TempDir(), table.DefaultSchemaFile, sessionsSchema)

	out, err := runCLI(t, "schema", "--file", schema)
	require.NoError(t, err)
	assert.Contains(t, out, "name: sessions")
	assert.Contains(t, out, "name: by-user")

	_, err = runCLI(t, "schema", "--file", schema, "--table", "orders")
	assert.ErrorContains(t, err, `"orders"`)

	bad := writeFile(t, t.TempDir(), table.DefaultSchemaFile, "tables:\n  - name: x\n")
	_, err = runCLI(t, "schema", "--file", bad)
	assert.Error(t, err)
}

func TestRun_SchemaAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, filepath.Join("svc", table.DefaultSchemaFile), sessionsSchema)
	chdir(t, dir)

	out, err := runCLI(t, "schema", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "(1 tables)")

	writeFile(t, dir, filepath.Join("broken", table.DefaultSchemaFile), "tables: []\n")
	out, err = runCLI(t, "schema", "--all")
	require.ErrorContains(t, err, "1 of 2")
	assert.Contains(t, out, "FAIL")
}

func TestRun_Commands(t *testing.T) {
	_, err := runCLI(t, "frobnicate")
	assert.ErrorIs(t, err, errUnknownCommand)

	_, err = runCLI(t)
	assert.ErrorIs(t, err, errUnknownCommand)

	_, err = runCLI(t, "get", "--help")
	assert.NoError(t, err)
}

func TestPrimaryKey(t *testing.T) {
	def := table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "id", Kind: table.KeyKindB},
		SortKey:      table.KeyDef{Name: "version", Kind: table.KeyKindN},
	}

	key, err := primaryKey(def, "aGVsbG8=", "7")
	require.NoError(t, err)
	item, err := key.Item()
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberB{Value: []byte("hello")}, item["id"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "7"}, item["version"])

	_, err = primaryKey(def, "not base64!", "7")
	assert.Error(t, err)
	_, err = primaryKey(def, "aGVsbG8=", "seven")
	assert.Error(t, err)

	noSort := table.PrimaryKeyDefinition{PartitionKey: table.KeyDef{Name: "id", Kind: table.KeyKindS}}
	_, err = primaryKey(noSort, "x", "y")
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
