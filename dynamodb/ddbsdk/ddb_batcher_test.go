package ddbsdk

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/ddbstore"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	dynamodbv2 "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchWrite_PutsAndDeletes(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	require.NoError(t, c.PutItem(ctx, NewPut(testUser{ID: "old"})))

	batch := NewBatchWrite().
		Put(testUser{ID: "1"}, testUser{ID: "2"}).
		PutWithTTL(testUser{ID: "3"}, time.Unix(1_900_000_000, 0)).
		Delete(userKey("old"))
	assert.Equal(t, 4, batch.Len())
	require.NoError(t, c.BatchWrite(ctx, batch))

	for _, id := range []string{"1", "2", "3"} {
		item, err := c.GetItem(ctx, NewGet(userKey(id)))
		require.NoError(t, err)
		assert.NotNil(t, item, id)
	}
	item, err := c.GetItem(ctx, NewGet(userKey("3")))
	require.NoError(t, err)
	assert.Equal(t, n("1900000000"), item["ttl"])

	gone, err := c.GetItem(ctx, NewGet(userKey("old")))
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestBatchWrite_Chunks(t *testing.T) {
	var sizes []int
	fake := &fakeDynamo{batchWrite: func(in *dynamodbv2.BatchWriteItemInput) (*dynamodbv2.BatchWriteItemOutput, error) {
		sizes = append(sizes, len(in.RequestItems[clientTestTable.Name]))
		return &dynamodbv2.BatchWriteItemOutput{}, nil
	}}
	c := newClient(t, fake)

	batch := NewBatchWrite()
	for i := 0; i < 30; i++ {
		batch.Put(testUser{ID: fmt.Sprint(i)})
	}
	require.NoError(t, c.BatchWrite(context.Background(), batch))
	assert.Equal(t, []int{25, 5}, sizes)
}

func TestBatchWrite_RejectsDuplicates(t *testing.T) {
	c := newTestClient(t)
	err := c.BatchWrite(context.Background(), NewBatchWrite().Put(testUser{ID: "1"}).Delete(userKey("1")))
	requireValidation(t, err)
}

func TestBatchWrite_RetriesUnprocessed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, ddbstore.StoreOptions{UnprocessedEvery: 3})
	reg := prometheus.NewRegistry()
	c := newClient(t, store, WithMetrics(reg), WithBatchRetry(10, NoBackoff))

	batch := NewBatchWrite()
	for i := 0; i < 40; i++ {
		batch.Put(testUser{ID: fmt.Sprint(i)})
	}
	require.NoError(t, c.BatchWrite(ctx, batch))

	keys := make([]table.PrimaryKey, 40)
	for i := range keys {
		keys[i] = userKey(fmt.Sprint(i))
	}
	items, err := c.BatchGet(ctx, NewBatchGet(keys...))
	require.NoError(t, err)
	assert.Len(t, items, 40)
	assert.Positive(t, testutil.ToFloat64(c.metrics.retries.WithLabelValues("BatchWriteItem", clientTestTable.Name)))
}

func TestBatchWrite_RetryExhaustion(t *testing.T) {
	fake := &fakeDynamo{batchWrite: func(in *dynamodbv2.BatchWriteItemInput) (*dynamodbv2.BatchWriteItemOutput, error) {
		reqs := in.RequestItems[clientTestTable.Name]
		// apply one write per call
		return &dynamodbv2.BatchWriteItemOutput{
			UnprocessedItems: map[string][]types.WriteRequest{clientTestTable.Name: reqs[1:]},
		}, nil
	}}
	c := newClient(t, fake, WithBatchRetry(2, NoBackoff))

	batch := NewBatchWrite()
	for i := 0; i < 30; i++ {
		batch.Put(testUser{ID: fmt.Sprint(i)})
	}
	err := c.BatchWrite(context.Background(), batch)
	require.ErrorIs(t, err, ddberr.ErrBatchIncomplete)

	var incomplete *ddberr.BatchIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 3, fake.calls, "one request plus two retries")
	assert.Equal(t, 2, incomplete.Retries)
	assert.Equal(t, 22+5, incomplete.Unprocessed(), "unsent chunks are reported too")
}

func TestBatchWrite_ChunkFailure(t *testing.T) {
	fake := &fakeDynamo{batchWrite: func(in *dynamodbv2.BatchWriteItemInput) (*dynamodbv2.BatchWriteItemOutput, error) {
		if len(in.RequestItems[clientTestTable.Name]) == 5 {
			return nil, &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
		}
		return &dynamodbv2.BatchWriteItemOutput{}, nil
	}}
	c := newClient(t, fake)

	batch := NewBatchWrite()
	for i := 0; i < 30; i++ {
		batch.Put(testUser{ID: fmt.Sprint(i)})
	}
	err := c.BatchWrite(context.Background(), batch)
	require.ErrorIs(t, err, ddberr.ErrThrottled)
	require.ErrorIs(t, err, ddberr.ErrBatchIncomplete)
	assert.Equal(t, 2, fake.calls)

	var incomplete *ddberr.BatchIncompleteError
	require.ErrorAs(t, err, &incomplete)
	left := incomplete.UnprocessedWrites[clientTestTable.Name]
	require.Len(t, left, 5, "the failed chunk is reported, the applied one is not")
	assert.Equal(t, s("25"), left[0].PutRequest.Item["id"])
	assert.Equal(t, s("29"), left[4].PutRequest.Item["id"])
}

func TestBatchWrite_FailedChunkReportsUnsentChunks(t *testing.T) {
	fake := &fakeDynamo{batchWrite: func(*dynamodbv2.BatchWriteItemInput) (*dynamodbv2.BatchWriteItemOutput, error) {
		return nil, errors.New("boom")
	}}
	c := newClient(t, fake)

	batch := NewBatchWrite()
	for i := 0; i < 60; i++ {
		batch.Put(testUser{ID: fmt.Sprint(i)})
	}
	err := c.BatchWrite(context.Background(), batch)
	require.ErrorIs(t, err, ddberr.ErrTransport)

	var incomplete *ddberr.BatchIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, 60, incomplete.Unprocessed())
}

func TestBatchWrite_TransportError(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeDynamo{batchWrite: func(*dynamodbv2.BatchWriteItemInput) (*dynamodbv2.BatchWriteItemOutput, error) {
		return nil, boom
	}}
	c := newClient(t, fake)
	err := c.BatchWrite(context.Background(), NewBatchWrite().Put(testUser{ID: "1"}))
	require.ErrorIs(t, err, ddberr.ErrTransport)
	assert.Equal(t, 1, fake.calls, "transport errors are not retried")
}

func TestBatchWrite_ContextCanceledDuringBackoff(t *testing.T) {
	fake := &fakeDynamo{batchWrite: func(in *dynamodbv2.BatchWriteItemInput) (*dynamodbv2.BatchWriteItemOutput, error) {
		return &dynamodbv2.BatchWriteItemOutput{UnprocessedItems: in.RequestItems}, nil
	}}
	c := newClient(t, fake, WithBatchRetry(5, func(int) time.Duration { return time.Hour }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.BatchWrite(ctx, NewBatchWrite().Put(testUser{ID: "1"}))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, fake.calls)
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(10*time.Millisecond, 2, 50*time.Millisecond)
	for attempt := 0; attempt < 10; attempt++ {
		d := b(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 50*time.Millisecond)
	}
	assert.Less(t, b(0), 10*time.Millisecond)
	assert.Zero(t, ExponentialBackoff(0, 2, time.Second)(3))
}
