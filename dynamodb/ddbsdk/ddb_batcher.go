package ddbsdk

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/table"
	dynamodbv2 "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// BatchWrite puts and deletes items without conditions or atomicity. Writes
// go out in chunks of MaxBatchWriteItems, one chunk at a time.
type BatchWrite struct {
	once
	writes []batchWrite
}

type batchWrite struct {
	put *Put
	del *table.PrimaryKey
}

// NewBatchWrite starts an empty batch.
func NewBatchWrite() *BatchWrite {
	return &BatchWrite{}
}

// Put adds entities to the batch.
func (b *BatchWrite) Put(entities ...table.Entity) *BatchWrite {
	for _, e := range entities {
		b.writes = append(b.writes, batchWrite{put: NewPut(e)})
	}
	return b
}

// PutWithTTL adds an entity that expires at expiry.
func (b *BatchWrite) PutWithTTL(entity table.Entity, expiry time.Time) *BatchWrite {
	b.writes = append(b.writes, batchWrite{put: NewPut(entity).WithTTL(expiry)})
	return b
}

// Delete adds keys to remove.
func (b *BatchWrite) Delete(keys ...table.PrimaryKey) *BatchWrite {
	for i := range keys {
		b.writes = append(b.writes, batchWrite{del: &keys[i]})
	}
	return b
}

// Len is the number of writes added so far.
func (b *BatchWrite) Len() int {
	return len(b.writes)
}

// requests renders every write. Two writes to the same item are rejected.
func (b *BatchWrite) requests(def table.TableDefinition) ([]types.WriteRequest, error) {
	reqs := make([]types.WriteRequest, 0, len(b.writes))
	seen := make(map[string]bool, len(b.writes))
	for i, w := range b.writes {
		var (
			req types.WriteRequest
			key Item
		)
		if w.put != nil {
			item, err := w.put.item(def)
			if err != nil {
				return nil, fmt.Errorf("batch write %d: %w", i, err)
			}
			req = types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}
			key = table.KeyOf(def.KeyDefinitions, item)
		} else {
			k, err := keyItem(def, *w.del)
			if err != nil {
				return nil, fmt.Errorf("batch write %d: %w", i, err)
			}
			req = types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}}
			key = k
		}
		id := keyID(key)
		if seen[id] {
			return nil, ddberr.Validationf("batch write %d: duplicate write for the same item", i)
		}
		seen[id] = true
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// BatchWrite executes b. Unprocessed writes are re-submitted with backoff up
// to the client's retry budget. When the budget runs out or a chunk fails,
// the call returns a ddberr.BatchIncompleteError holding every write not
// known to be applied, including chunks never sent. A chunk failure is
// wrapped, so errors.Is still matches its cause.
func (c *Client) BatchWrite(ctx context.Context, b *BatchWrite) error {
	if err := b.claim(); err != nil {
		return err
	}
	reqs, err := b.requests(c.def)
	if err != nil {
		return err
	}
	for start := 0; start < len(reqs); start += MaxBatchWriteItems {
		end := min(start+MaxBatchWriteItems, len(reqs))
		left, retries, err := c.writeChunk(ctx, reqs[start:end])
		if err != nil || len(left) > 0 {
			left = append(left, reqs[end:]...)
			return &ddberr.BatchIncompleteError{
				Op:                "BatchWriteItem",
				Retries:           retries,
				UnprocessedWrites: map[string][]types.WriteRequest{c.def.Name: left},
				Err:               err,
			}
		}
	}
	return nil
}

// writeChunk sends one chunk and re-submits its unprocessed writes. It
// returns whatever is left once the retry budget is spent or a request
// fails.
func (c *Client) writeChunk(ctx context.Context, chunk []types.WriteRequest) ([]types.WriteRequest, int, error) {
	ctx, call := c.begin(ctx, "BatchWriteItem", "", emptyExpression)
	pending := chunk
	for attempt := 0; ; attempt++ {
		out, err := c.awsddb.BatchWriteItem(ctx, &dynamodbv2.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{c.def.Name: pending},
		})
		if err != nil {
			return pending, attempt, call.end(err)
		}
		pending = out.UnprocessedItems[c.def.Name]
		if len(pending) == 0 {
			return nil, attempt, call.end(nil)
		}
		if attempt >= c.retry.maxRetries {
			call.end(&ddberr.BatchIncompleteError{Op: "BatchWriteItem", Retries: attempt})
			return pending, attempt, nil
		}
		call.retried(attempt+1, len(pending))
		if err := c.wait(ctx, attempt); err != nil {
			return pending, attempt, call.end(err)
		}
	}
}

// BackoffFunc returns the duration to wait before retry attempt n.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff returns a capped exponential backoff with full jitter.
// Wait time is: rand(0, min(cap, base * multiplier^attempt))
// https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
func ExponentialBackoff(base time.Duration, multiplier float64, cap time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		factor := 1.0
		for i := 0; i < attempt; i++ {
			factor *= multiplier
		}
		backoff := time.Duration(float64(base) * factor)
		if backoff > cap {
			backoff = cap
		}
		if backoff <= 0 {
			return 0
		}
		// Full jitter: random duration between 0 and backoff
		return time.Duration(rand.Int63n(int64(backoff)))
	}
}

// DefaultBackoff is [ExponentialBackoff] with 50ms base, 2x multiplier, 5s cap.
var DefaultBackoff = ExponentialBackoff(50*time.Millisecond, 2.0, 5*time.Second)

// NoBackoff retries immediately.
func NoBackoff(int) time.Duration { return 0 }
