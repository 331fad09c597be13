package ddbstore

import (
	"context"
	"errors"
	"testing"

	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var singleTableDesign = table.TableDefinition{
	Name: "test-table",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
	},
	GSIs: []table.IndexDefinition{
		{
			Name: "gsi1",
			Kind: table.IndexGlobal,
			KeyDefinitions: table.PrimaryKeyDefinition{
				PartitionKey: table.KeyDef{Name: "gsi1pk", Kind: table.KeyKindS},
				SortKey:      table.KeyDef{Name: "gsi1sk", Kind: table.KeyKindS},
			},
		},
	},
	LSIs: []table.IndexDefinition{
		{
			Name: "lsi1",
			Kind: table.IndexLocal,
			KeyDefinitions: table.PrimaryKeyDefinition{
				PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
				SortKey:      table.KeyDef{Name: "lsi1sk", Kind: table.KeyKindS},
			},
		},
	},
}

var numericSortKeyTable = table.TableDefinition{
	Name: "numeric-sk-table",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindN},
	},
}

var noSortKeyTable = table.TableDefinition{
	Name: "no-sk-table",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
	},
}

func newTestStore(t *testing.T, defs ...table.TableDefinition) *Store {
	store, err := New(StoreOptions{InMemory: true}, defs...)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": s(pk), "sk": s(sk)}
}

func item(pk, sk string, attrs ...any) map[string]types.AttributeValue {
	out := key(pk, sk)
	for i := 0; i+1 < len(attrs); i += 2 {
		out[attrs[i].(string)] = attrs[i+1].(types.AttributeValue)
	}
	return out
}

func put(t *testing.T, store *Store, tableName string, items ...map[string]types.AttributeValue) {
	t.Helper()
	for _, it := range items {
		_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{TableName: aws.String(tableName), Item: it})
		require.NoError(t, err)
	}
}

func get(t *testing.T, store *Store, k map[string]types.AttributeValue) map[string]types.AttributeValue {
	t.Helper()
	out, err := store.GetItem(context.Background(), &dynamodb.GetItemInput{TableName: &singleTableDesign.Name, Key: k})
	require.NoError(t, err)
	return out.Item
}

func requireAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr smithy.APIError
	require.True(t, errors.As(err, &apiErr), "expected API error, got %v", err)
	assert.Equal(t, code, apiErr.ErrorCode())
}

func TestNew(t *testing.T) {
	t.Run("rejects invalid definitions", func(t *testing.T) {
		_, err := NewInMemory(table.TableDefinition{Name: "x"})
		require.Error(t, err)
	})

	t.Run("rejects duplicate tables", func(t *testing.T) {
		_, err := NewInMemory(noSortKeyTable, noSortKeyTable)
		require.Error(t, err)
	})

	t.Run("unknown table", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		_, err := store.GetItem(context.Background(), &dynamodb.GetItemInput{TableName: aws.String("nope"), Key: key("a", "b")})
		var rnf *types.ResourceNotFoundException
		require.ErrorAs(t, err, &rnf)
	})
}

func TestStore_GetItem(t *testing.T) {
	store := newTestStore(t, singleTableDesign)
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		assert.Nil(t, get(t, store, key("nonexistent", "nonexistent")))
	})

	t.Run("found after put", func(t *testing.T) {
		put(t, store, singleTableDesign.Name, item("user#123", "profile", "title", s("hello")))
		got := get(t, store, key("user#123", "profile"))
		assert.Equal(t, item("user#123", "profile", "title", s("hello")), got)
	})

	t.Run("projection", func(t *testing.T) {
		out, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:                &singleTableDesign.Name,
			Key:                      key("user#123", "profile"),
			ProjectionExpression:     aws.String("#t"),
			ExpressionAttributeNames: map[string]string{"#t": "title"},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]types.AttributeValue{"title": s("hello")}, out.Item)
	})

	t.Run("key must match the schema", func(t *testing.T) {
		_, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: &singleTableDesign.Name,
			Key:       map[string]types.AttributeValue{"pk": s("user#123")},
		})
		requireAPIError(t, err, "ValidationException")

		_, err = store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: &singleTableDesign.Name,
			Key:       item("user#123", "profile", "extra", s("x")),
		})
		requireAPIError(t, err, "ValidationException")

		_, err = store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: &singleTableDesign.Name,
			Key:       map[string]types.AttributeValue{"pk": s("user#123"), "sk": n("1")},
		})
		requireAPIError(t, err, "ValidationException")
	})

	t.Run("returned item is a copy", func(t *testing.T) {
		got := get(t, store, key("user#123", "profile"))
		got["title"] = s("changed")
		assert.Equal(t, s("hello"), get(t, store, key("user#123", "profile"))["title"])
	})
}

func TestStore_PutItem(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces existing item", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		put(t, store, singleTableDesign.Name, item("a", "1", "version", n("1"), "title", s("x")))
		put(t, store, singleTableDesign.Name, item("a", "1", "version", n("2")))
		assert.Equal(t, item("a", "1", "version", n("2")), get(t, store, key("a", "1")))
	})

	t.Run("caller mutations do not leak into the store", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		it := item("a", "1", "title", s("x"))
		put(t, store, singleTableDesign.Name, it)
		it["title"] = s("y")
		assert.Equal(t, s("x"), get(t, store, key("a", "1"))["title"])
	})

	t.Run("return old values", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		put(t, store, singleTableDesign.Name, item("a", "1", "version", n("1")))
		out, err := store.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:    &singleTableDesign.Name,
			Item:         item("a", "1", "version", n("2")),
			ReturnValues: types.ReturnValueAllOld,
		})
		require.NoError(t, err)
		assert.Equal(t, item("a", "1", "version", n("1")), out.Attributes)

		_, err = store.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:    &singleTableDesign.Name,
			Item:         item("a", "1"),
			ReturnValues: types.ReturnValueAllNew,
		})
		requireAPIError(t, err, "ValidationException")
	})

	t.Run("condition failure", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		put(t, store, singleTableDesign.Name, item("a", "1", "version", n("1")))

		_, err := store.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                           &singleTableDesign.Name,
			Item:                                item("a", "1", "version", n("2")),
			ConditionExpression:                 aws.String("attribute_not_exists(pk)"),
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		})
		var ccf *types.ConditionalCheckFailedException
		require.ErrorAs(t, err, &ccf)
		assert.Equal(t, item("a", "1", "version", n("1")), ccf.Item)
		assert.Equal(t, n("1"), get(t, store, key("a", "1"))["version"])
	})

	t.Run("condition success", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		put(t, store, singleTableDesign.Name, item("a", "1", "version", n("1")))
		_, err := store.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 &singleTableDesign.Name,
			Item:                      item("a", "1", "version", n("2")),
			ConditionExpression:       aws.String("version = :v"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": n("1")},
		})
		require.NoError(t, err)
		assert.Equal(t, n("2"), get(t, store, key("a", "1"))["version"])
	})

	t.Run("invalid items", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		tests := map[string]map[string]types.AttributeValue{
			"missing sort key":   {"pk": s("a")},
			"wrong key type":     {"pk": s("a"), "sk": n("1")},
			"empty key":          {"pk": s(""), "sk": s("1")},
			"wrong index type":   item("a", "1", "gsi1pk", n("1")),
			"unparsable express": item("a", "1"),
		}
		for name, it := range tests {
			t.Run(name, func(t *testing.T) {
				in := &dynamodb.PutItemInput{TableName: &singleTableDesign.Name, Item: it}
				if name == "unparsable express" {
					in.ConditionExpression = aws.String("attribute_exists(")
				}
				_, err := store.PutItem(ctx, in)
				requireAPIError(t, err, "ValidationException")
			})
		}
	})
}

func TestStore_UpdateItem(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing item from key", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		out, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 &singleTableDesign.Name,
			Key:                       key("a", "1"),
			UpdateExpression:          aws.String("SET title = :t ADD score :one"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":t": s("x"), ":one": n("1")},
			ReturnValues:              types.ReturnValueAllNew,
		})
		require.NoError(t, err)
		assert.Equal(t, item("a", "1", "title", s("x"), "score", n("1")), out.Attributes)
	})

	t.Run("return values", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		put(t, store, singleTableDesign.Name, item("a", "1", "score", n("5"), "title", s("x")))
		update := func(rv types.ReturnValue) map[string]types.AttributeValue {
			out, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:                 &singleTableDesign.Name,
				Key:                       key("a", "1"),
				UpdateExpression:          aws.String("SET score = score + :one"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":one": n("1")},
				ReturnValues:              rv,
			})
			require.NoError(t, err)
			return out.Attributes
		}
		assert.Nil(t, update(types.ReturnValueNone))
		assert.Equal(t, map[string]types.AttributeValue{"score": n("6")}, update(types.ReturnValueUpdatedOld))
		assert.Equal(t, map[string]types.AttributeValue{"score": n("8")}, update(types.ReturnValueUpdatedNew))
		assert.Equal(t, item("a", "1", "score", n("8"), "title", s("x")), update(types.ReturnValueAllOld))
		assert.Equal(t, item("a", "1", "score", n("10"), "title", s("x")), update(types.ReturnValueAllNew))
	})

	t.Run("cannot update key attributes", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 &singleTableDesign.Name,
			Key:                       key("a", "1"),
			UpdateExpression:          aws.String("SET sk = :v"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": s("2")},
		})
		requireAPIError(t, err, "ValidationException")
	})

	t.Run("condition failure leaves item unchanged", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		put(t, store, singleTableDesign.Name, item("a", "1", "version", n("3")))
		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 &singleTableDesign.Name,
			Key:                       key("a", "1"),
			UpdateExpression:          aws.String("SET version = :next"),
			ConditionExpression:       aws.String("version = :prev"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":next": n("5"), ":prev": n("4")},
		})
		var ccf *types.ConditionalCheckFailedException
		require.ErrorAs(t, err, &ccf)
		assert.Nil(t, ccf.Item)
		assert.Equal(t, n("3"), get(t, store, key("a", "1"))["version"])
	})

	t.Run("moves index entries", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		put(t, store, singleTableDesign.Name, item("a", "1", "gsi1pk", s("old"), "gsi1sk", s("x")))
		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 &singleTableDesign.Name,
			Key:                       key("a", "1"),
			UpdateExpression:          aws.String("SET gsi1pk = :new"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":new": s("new")},
		})
		require.NoError(t, err)

		count := func(partition string) int32 {
			out, err := store.Query(ctx, &dynamodb.QueryInput{
				TableName:                 &singleTableDesign.Name,
				IndexName:                 aws.String("gsi1"),
				KeyConditionExpression:    aws.String("gsi1pk = :p"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":p": s(partition)},
			})
			require.NoError(t, err)
			return out.Count
		}
		assert.Equal(t, int32(0), count("old"))
		assert.Equal(t, int32(1), count("new"))
	})
}

func TestStore_DeleteItem(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, singleTableDesign)
	put(t, store, singleTableDesign.Name, item("a", "1", "gsi1pk", s("g"), "gsi1sk", s("x")))

	t.Run("condition failure", func(t *testing.T) {
		_, err := store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           &singleTableDesign.Name,
			Key:                 key("a", "1"),
			ConditionExpression: aws.String("attribute_not_exists(gsi1pk)"),
		})
		var ccf *types.ConditionalCheckFailedException
		require.ErrorAs(t, err, &ccf)
		assert.NotNil(t, get(t, store, key("a", "1")))
	})

	t.Run("returns old item and drops index entries", func(t *testing.T) {
		out, err := store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:    &singleTableDesign.Name,
			Key:          key("a", "1"),
			ReturnValues: types.ReturnValueAllOld,
		})
		require.NoError(t, err)
		assert.Equal(t, s("g"), out.Attributes["gsi1pk"])
		assert.Nil(t, get(t, store, key("a", "1")))

		scan, err := store.Scan(ctx, &dynamodb.ScanInput{TableName: &singleTableDesign.Name, IndexName: aws.String("gsi1")})
		require.NoError(t, err)
		assert.Empty(t, scan.Items)
	})

	t.Run("missing item is not an error", func(t *testing.T) {
		out, err := store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:    &singleTableDesign.Name,
			Key:          key("a", "1"),
			ReturnValues: types.ReturnValueAllOld,
		})
		require.NoError(t, err)
		assert.Nil(t, out.Attributes)
	})
}

func TestStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := New(StoreOptions{Path: dir}, singleTableDesign)
	require.NoError(t, err)
	put(t, store, singleTableDesign.Name, item("a", "1", "title", s("kept")))
	require.NoError(t, store.Close())

	store, err = New(StoreOptions{Path: dir}, singleTableDesign)
	require.NoError(t, err)
	defer store.Close()
	out, err := store.GetItem(ctx, &dynamodb.GetItemInput{TableName: &singleTableDesign.Name, Key: key("a", "1")})
	require.NoError(t, err)
	assert.Equal(t, s("kept"), out.Item["title"])
}

func TestStore_NoSortKeyTable(t *testing.T) {
	store := newTestStore(t, noSortKeyTable)
	ctx := context.Background()
	k := map[string]types.AttributeValue{"pk": s("a")}

	_, err := store.PutItem(ctx, &dynamodb.PutItemInput{TableName: &noSortKeyTable.Name, Item: map[string]types.AttributeValue{"pk": s("a"), "title": s("x")}})
	require.NoError(t, err)
	out, err := store.GetItem(ctx, &dynamodb.GetItemInput{TableName: &noSortKeyTable.Name, Key: k})
	require.NoError(t, err)
	assert.Equal(t, s("x"), out.Item["title"])
}
