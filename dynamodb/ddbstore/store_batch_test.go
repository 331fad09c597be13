package ddbstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putRequest(it map[string]types.AttributeValue) types.WriteRequest {
	return types.WriteRequest{PutRequest: &types.PutRequest{Item: it}}
}

func deleteRequest(k map[string]types.AttributeValue) types.WriteRequest {
	return types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}}
}

func TestStore_BatchWriteItem(t *testing.T) {
	ctx := context.Background()

	t.Run("puts and deletes across tables", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign, noSortKeyTable)
		put(t, store, singleTableDesign.Name, item("a", "gone"))

		out, err := store.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				singleTableDesign.Name: {
					putRequest(item("a", "1", "title", s("x"))),
					putRequest(item("a", "2", "gsi1pk", s("g"), "gsi1sk", s("1"))),
					deleteRequest(key("a", "gone")),
				},
				noSortKeyTable.Name: {
					putRequest(map[string]types.AttributeValue{"pk": s("solo")}),
				},
			},
		})
		require.NoError(t, err)
		assert.Empty(t, out.UnprocessedItems)

		assert.NotNil(t, get(t, store, key("a", "1")))
		assert.NotNil(t, get(t, store, key("a", "2")))
		assert.Nil(t, get(t, store, key("a", "gone")))

		idx, err := store.Query(ctx, &dynamodb.QueryInput{
			TableName:                 &singleTableDesign.Name,
			IndexName:                 aws.String("gsi1"),
			KeyConditionExpression:    aws.String("gsi1pk = :g"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":g": s("g")},
		})
		require.NoError(t, err)
		assert.Equal(t, int32(1), idx.Count)
	})

	t.Run("rejects invalid batches", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		var tooMany []types.WriteRequest
		for i := 0; i < 26; i++ {
			tooMany = append(tooMany, putRequest(item("a", fmt.Sprint(i))))
		}
		tests := map[string][]types.WriteRequest{
			"too many":      tooMany,
			"duplicate key": {putRequest(item("a", "1")), deleteRequest(key("a", "1"))},
			"empty request": {{}},
			"both put and delete": {{
				PutRequest:    &types.PutRequest{Item: item("a", "1")},
				DeleteRequest: &types.DeleteRequest{Key: key("a", "1")},
			}},
			"invalid item": {putRequest(map[string]types.AttributeValue{"pk": s("a")})},
		}
		for name, reqs := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := store.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
					RequestItems: map[string][]types.WriteRequest{singleTableDesign.Name: reqs},
				})
				requireAPIError(t, err, "ValidationException")
			})
		}
		assert.Nil(t, get(t, store, key("a", "1")))
	})

	t.Run("unprocessed items", func(t *testing.T) {
		store, err := New(StoreOptions{InMemory: true, UnprocessedEvery: 2}, singleTableDesign)
		require.NoError(t, err)
		defer store.Close()

		var reqs []types.WriteRequest
		for i := 0; i < 4; i++ {
			reqs = append(reqs, putRequest(item("a", fmt.Sprint(i))))
		}
		out, err := store.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{singleTableDesign.Name: reqs},
		})
		require.NoError(t, err)
		unprocessed := out.UnprocessedItems[singleTableDesign.Name]
		require.Len(t, unprocessed, 2)

		// resubmitting eventually drains everything
		for len(unprocessed) > 0 {
			out, err = store.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{singleTableDesign.Name: unprocessed},
			})
			require.NoError(t, err)
			unprocessed = out.UnprocessedItems[singleTableDesign.Name]
		}
		for i := 0; i < 4; i++ {
			assert.NotNil(t, get(t, store, key("a", fmt.Sprint(i))), "item %d", i)
		}
	})
}

func TestStore_BatchGetItem(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, singleTableDesign)
	put(t, store, singleTableDesign.Name,
		item("a", "1", "title", s("one"), "qty", n("1")),
		item("a", "2", "title", s("two"), "qty", n("2")),
	)

	t.Run("skips missing items", func(t *testing.T) {
		out, err := store.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				singleTableDesign.Name: {
					Keys:                 []map[string]types.AttributeValue{key("a", "1"), key("a", "2"), key("a", "3")},
					ProjectionExpression: aws.String("title"),
				},
			},
		})
		require.NoError(t, err)
		assert.Empty(t, out.UnprocessedKeys)
		assert.ElementsMatch(t, []map[string]types.AttributeValue{
			{"title": s("one")},
			{"title": s("two")},
		}, out.Responses[singleTableDesign.Name])
	})

	t.Run("rejects invalid batches", func(t *testing.T) {
		var tooMany []map[string]types.AttributeValue
		for i := 0; i < 101; i++ {
			tooMany = append(tooMany, key("a", fmt.Sprint(i)))
		}
		tests := map[string][]map[string]types.AttributeValue{
			"too many":  tooMany,
			"duplicate": {key("a", "1"), key("a", "1")},
			"empty":     nil,
			"bad key":   {{"pk": s("a")}},
		}
		for name, keys := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := store.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
					RequestItems: map[string]types.KeysAndAttributes{singleTableDesign.Name: {Keys: keys}},
				})
				requireAPIError(t, err, "ValidationException")
			})
		}
	})

	t.Run("unprocessed keys keep request options", func(t *testing.T) {
		flaky, err := New(StoreOptions{InMemory: true, UnprocessedEvery: 2}, singleTableDesign)
		require.NoError(t, err)
		defer flaky.Close()
		put(t, flaky, singleTableDesign.Name, item("a", "1", "title", s("one")), item("a", "2", "title", s("two")))

		out, err := flaky.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				singleTableDesign.Name: {
					Keys:                 []map[string]types.AttributeValue{key("a", "1"), key("a", "2")},
					ProjectionExpression: aws.String("title"),
				},
			},
		})
		require.NoError(t, err)
		assert.Len(t, out.Responses[singleTableDesign.Name], 1)
		left := out.UnprocessedKeys[singleTableDesign.Name]
		assert.Len(t, left.Keys, 1)
		assert.Equal(t, aws.String("title"), left.ProjectionExpression)
	})
}
