package ddbsdk

import (
	"context"
	"fmt"

	"github.com/acksell/ddbmodel/dynamodb/expr"
	"github.com/acksell/ddbmodel/dynamodb/projection"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dynamodbv2 "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Get reads one item by primary key.
type Get struct {
	once
	key        table.PrimaryKey
	projection []string
	consistent bool
}

// NewGet reads the item at key.
func NewGet(key table.PrimaryKey) *Get {
	return &Get{key: key}
}

// WithProjection limits the returned attributes.
func (g *Get) WithProjection(attrs ...string) *Get {
	g.projection = append(g.projection, attrs...)
	return g
}

// WithConsistentRead makes the read strongly consistent.
func (g *Get) WithConsistentRead() *Get {
	g.consistent = true
	return g
}

// GetItem executes g. A missing item is (nil, nil).
func (c *Client) GetItem(ctx context.Context, g *Get) (Item, error) {
	if err := g.claim(); err != nil {
		return nil, err
	}
	key, e, err := g.render(c.def)
	if err != nil {
		return nil, err
	}
	ctx, call := c.begin(ctx, "GetItem", "", e)
	out, err := c.awsddb.GetItem(ctx, &dynamodbv2.GetItemInput{
		TableName:                &c.def.Name,
		Key:                      key,
		ConsistentRead:           ptr(g.consistent),
		ProjectionExpression:     e.Projection,
		ExpressionAttributeNames: e.Names,
	})
	if err = call.end(err); err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func (g *Get) render(def table.TableDefinition) (Item, expr.Expression, error) {
	key, err := keyItem(def, g.key)
	if err != nil {
		return nil, expr.Expression{}, err
	}
	e, err := expr.NewBuilder().Projection(g.projection...).Build()
	if err != nil {
		return nil, expr.Expression{}, fmt.Errorf("get %s: %w", g.key, err)
	}
	return key, e, nil
}

func (g *Get) toTransactGetItem(def table.TableDefinition) (types.TransactGetItem, error) {
	key, e, err := g.render(def)
	if err != nil {
		return types.TransactGetItem{}, err
	}
	return types.TransactGetItem{
		Get: &types.Get{
			TableName:                &def.Name,
			Key:                      key,
			ProjectionExpression:     e.Projection,
			ExpressionAttributeNames: e.Names,
		},
	}, nil
}

// GetEntity executes g and unmarshals the item into T. The bool reports
// whether the item exists.
func GetEntity[T any](ctx context.Context, c *Client, g *Get) (T, bool, error) {
	var out T
	item, err := c.GetItem(ctx, g)
	if err != nil || item == nil {
		return out, false, err
	}
	if err := attributevalue.UnmarshalMap(item, &out); err != nil {
		return out, false, fmt.Errorf("unmarshal %s into %T: %w", g.key, out, err)
	}
	return out, true, nil
}

// GetProjection executes g and decodes the item through r.
func GetProjection[V any](ctx context.Context, c *Client, r *projection.Registry[V], g *Get) (V, bool, error) {
	var out V
	item, err := c.GetItem(ctx, g)
	if err != nil || item == nil {
		return out, false, err
	}
	out, err = r.Decode(item)
	if err != nil {
		return out, false, err
	}
	return out, true, nil
}
