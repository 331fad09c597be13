package ddbsdk

import (
	"context"
	"fmt"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/expr"
	"github.com/acksell/ddbmodel/dynamodb/table"
	dynamodbv2 "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// BatchGet reads many items by key. The store returns them in no particular
// order and skips missing ones.
type BatchGet struct {
	once
	keys       []table.PrimaryKey
	projection []string
	consistent bool
}

// NewBatchGet reads keys. Duplicate keys are read once.
func NewBatchGet(keys ...table.PrimaryKey) *BatchGet {
	return &BatchGet{keys: keys}
}

func (b *BatchGet) Add(keys ...table.PrimaryKey) *BatchGet {
	b.keys = append(b.keys, keys...)
	return b
}

func (b *BatchGet) WithProjection(attrs ...string) *BatchGet {
	b.projection = append(b.projection, attrs...)
	return b
}

func (b *BatchGet) WithConsistentRead() *BatchGet {
	b.consistent = true
	return b
}

// BatchGet executes b in chunks of MaxBatchGetItems. Unprocessed keys are
// re-submitted with backoff up to the client's retry budget. When the budget
// runs out or a chunk fails, the items read so far are returned with a
// ddberr.BatchIncompleteError holding the keys not read, including chunks
// never sent.
func (c *Client) BatchGet(ctx context.Context, b *BatchGet) ([]Item, error) {
	if err := b.claim(); err != nil {
		return nil, err
	}
	if len(b.keys) == 0 {
		return nil, nil
	}
	keys := make([]Item, 0, len(b.keys))
	seen := make(map[string]bool, len(b.keys))
	for i, k := range b.keys {
		key, err := keyItem(c.def, k)
		if err != nil {
			return nil, fmt.Errorf("batch get %d: %w", i, err)
		}
		id := keyID(key)
		if seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, key)
	}
	e, err := expr.NewBuilder().Projection(b.projection...).Build()
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}

	var items []Item
	for start := 0; start < len(keys); start += MaxBatchGetItems {
		end := min(start+MaxBatchGetItems, len(keys))
		ka := types.KeysAndAttributes{
			Keys:                     keys[start:end],
			ProjectionExpression:     e.Projection,
			ExpressionAttributeNames: e.Names,
			ConsistentRead:           ptr(b.consistent),
		}
		got, left, retries, err := c.getChunk(ctx, ka, e)
		items = append(items, got...)
		if err != nil || len(left.Keys) > 0 {
			left.Keys = append(left.Keys, keys[end:]...)
			return items, &ddberr.BatchIncompleteError{
				Op:              "BatchGetItem",
				Retries:         retries,
				UnprocessedKeys: map[string]types.KeysAndAttributes{c.def.Name: left},
				Err:             err,
			}
		}
	}
	return items, nil
}

func (c *Client) getChunk(ctx context.Context, ka types.KeysAndAttributes, e expr.Expression) ([]Item, types.KeysAndAttributes, int, error) {
	ctx, call := c.begin(ctx, "BatchGetItem", "", e)
	var items []Item
	pending := ka
	for attempt := 0; ; attempt++ {
		out, err := c.awsddb.BatchGetItem(ctx, &dynamodbv2.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{c.def.Name: pending},
		})
		if err != nil {
			return items, pending, attempt, call.end(err)
		}
		items = append(items, out.Responses[c.def.Name]...)
		pending = out.UnprocessedKeys[c.def.Name]
		if len(pending.Keys) == 0 {
			return items, types.KeysAndAttributes{}, attempt, call.end(nil)
		}
		if attempt >= c.retry.maxRetries {
			call.end(&ddberr.BatchIncompleteError{Op: "BatchGetItem", Retries: attempt})
			return items, pending, attempt, nil
		}
		call.retried(attempt+1, len(pending.Keys))
		if err := c.wait(ctx, attempt); err != nil {
			return items, pending, attempt, call.end(err)
		}
	}
}

// TransactGet reads up to MaxTransactItems items as one consistent snapshot.
type TransactGet struct {
	once
	gets []*Get
}

// NewTransactGet reads every get atomically. Options other than projection
// are ignored on the gets.
func NewTransactGet(gets ...*Get) *TransactGet {
	return &TransactGet{gets: gets}
}

func (t *TransactGet) Add(gets ...*Get) *TransactGet {
	t.gets = append(t.gets, gets...)
	return t
}

// TransactGet executes t. Items are returned in request order with nil for
// missing ones.
func (c *Client) TransactGet(ctx context.Context, t *TransactGet) ([]Item, error) {
	if err := t.claim(); err != nil {
		return nil, err
	}
	if len(t.gets) == 0 || len(t.gets) > MaxTransactItems {
		return nil, ddberr.Validationf("transact get needs 1 to %d items, got %d", MaxTransactItems, len(t.gets))
	}
	in := make([]types.TransactGetItem, len(t.gets))
	for i, g := range t.gets {
		tgi, err := g.toTransactGetItem(c.def)
		if err != nil {
			return nil, fmt.Errorf("transact get %d: %w", i, err)
		}
		in[i] = tgi
	}
	ctx, call := c.begin(ctx, "TransactGetItems", "", emptyExpression)
	out, err := c.awsddb.TransactGetItems(ctx, &dynamodbv2.TransactGetItemsInput{TransactItems: in})
	if err = call.end(err); err != nil {
		return nil, err
	}
	items := make([]Item, len(t.gets))
	for i := range items {
		if i < len(out.Responses) && len(out.Responses[i].Item) > 0 {
			items[i] = out.Responses[i].Item
		}
	}
	return items, nil
}
