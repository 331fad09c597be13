package ddbsdk

import (
	"context"
	"fmt"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/expr"
	"github.com/acksell/ddbmodel/dynamodb/projection"
	"github.com/acksell/ddbmodel/dynamodb/table"
	dynamodbv2 "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Page is one response of a Query or Scan. Cursor is the store's
// LastEvaluatedKey and is nil on the last page.
type Page struct {
	Items []Item
	Count int
	// Cursor resumes the read with WithStartKey.
	Cursor Item
}

// readOptions are shared by Query and Scan.
type readOptions struct {
	index      string
	filter     expr.Condition
	limit      int32
	consistent bool
	projection []string
	start      Item
	sel        types.Select
}

func (o readOptions) indexName() *string {
	if o.index == "" {
		return nil
	}
	return &o.index
}

func (o readOptions) limitPtr() *int32 {
	if o.limit <= 0 {
		return nil
	}
	return &o.limit
}

func (o readOptions) validate(def table.TableDefinition) error {
	if o.limit < 0 {
		return ddberr.Validationf("limit must not be negative, got %d", o.limit)
	}
	if o.index != "" {
		if _, ok := def.Index(o.index); !ok {
			return ddberr.Validationf("table %q has no index %q", def.Name, o.index)
		}
	}
	return nil
}

// Query reads the items of one partition, in sort key order.
type Query struct {
	once
	kc         expr.KeyCondition
	opts       readOptions
	descending bool
}

// NewQuery reads the items matching kc in sort key order.
func NewQuery(kc expr.KeyCondition) *Query {
	return &Query{kc: kc}
}

// OnIndex queries a secondary index instead of the table.
func (q *Query) OnIndex(name string) *Query {
	q.opts.index = name
	return q
}

// WithFilter ANDs c onto the filter. Filters apply after Limit.
func (q *Query) WithFilter(c expr.Condition) *Query {
	q.opts.filter = q.opts.filter.And(c)
	return q
}

// WithLimit caps how many items each request evaluates.
func (q *Query) WithLimit(n int32) *Query {
	q.opts.limit = n
	return q
}

func (q *Query) WithConsistentRead() *Query {
	q.opts.consistent = true
	return q
}

// Descending reverses the sort key order.
func (q *Query) Descending() *Query {
	q.descending = true
	return q
}

func (q *Query) WithProjection(attrs ...string) *Query {
	q.opts.projection = append(q.opts.projection, attrs...)
	return q
}

// WithStartKey resumes from the Cursor of an earlier page.
func (q *Query) WithStartKey(cursor Item) *Query {
	q.opts.start = cursor
	return q
}

func (q *Query) WithSelect(sel types.Select) *Query {
	q.opts.sel = sel
	return q
}

func (q *Query) render(def table.TableDefinition) (*dynamodbv2.QueryInput, expr.Expression, error) {
	if err := q.opts.validate(def); err != nil {
		return nil, expr.Expression{}, err
	}
	keyDef, err := def.KeyDefinitionsFor(q.opts.index)
	if err != nil {
		return nil, expr.Expression{}, err
	}
	e, err := expr.NewBuilder().
		KeyCondition(keyDef, q.kc).
		Filter(q.opts.filter).
		Projection(q.opts.projection...).
		Build()
	if err != nil {
		return nil, expr.Expression{}, fmt.Errorf("query: %w", err)
	}
	return &dynamodbv2.QueryInput{
		TableName:                 &def.Name,
		IndexName:                 q.opts.indexName(),
		KeyConditionExpression:    e.KeyCondition,
		FilterExpression:          e.Filter,
		ProjectionExpression:      e.Projection,
		ExpressionAttributeNames:  e.Names,
		ExpressionAttributeValues: e.Values,
		ConsistentRead:            ptr(q.opts.consistent),
		Limit:                     q.opts.limitPtr(),
		ScanIndexForward:          ptr(!q.descending),
		ExclusiveStartKey:         q.opts.start,
		Select:                    q.opts.sel,
	}, e, nil
}

// Query executes one request of q.
func (c *Client) Query(ctx context.Context, q *Query) (Page, error) {
	p := c.NewQueryPaginator(q)
	return p.NextPage(ctx)
}

// NewQueryPaginator pages through every result of q. The paginator owns q.
func (c *Client) NewQueryPaginator(q *Query) *Paginator {
	if err := q.claim(); err != nil {
		return &Paginator{err: err}
	}
	in, e, err := q.render(c.def)
	if err != nil {
		return &Paginator{err: err}
	}
	return &Paginator{
		cursor: in.ExclusiveStartKey,
		fetch: func(ctx context.Context, cursor Item) (Page, error) {
			in.ExclusiveStartKey = cursor
			ctx, call := c.begin(ctx, "Query", q.opts.index, e)
			out, err := c.awsddb.Query(ctx, in)
			if err = call.end(err); err != nil {
				return Page{}, err
			}
			return Page{Items: out.Items, Count: int(out.Count), Cursor: out.LastEvaluatedKey}, nil
		},
	}
}

// Paginator is a caller-driven loop over the pages of a Query or Scan. It is
// not safe for concurrent use.
type Paginator struct {
	fetch   func(ctx context.Context, cursor Item) (Page, error)
	cursor  Item
	started bool
	err     error
}

// HasMorePages reports whether NextPage would make another request.
func (p *Paginator) HasMorePages() bool {
	if p.err != nil {
		return !p.started
	}
	return !p.started || len(p.cursor) > 0
}

// NextPage fetches the next page. After an error the paginator is spent.
func (p *Paginator) NextPage(ctx context.Context) (Page, error) {
	if p.err != nil {
		p.started = true
		return Page{}, p.err
	}
	if p.started && len(p.cursor) == 0 {
		return Page{}, ddberr.Validationf("no more pages")
	}
	p.started = true
	page, err := p.fetch(ctx, p.cursor)
	if err != nil {
		p.err = err
		return Page{}, err
	}
	p.cursor = page.Cursor
	return page, nil
}

// All reads the remaining pages and concatenates their items in order.
func (p *Paginator) All(ctx context.Context) ([]Item, error) {
	var items []Item
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return items, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// Each calls fn for every remaining page, stopping at the first error.
func (p *Paginator) Each(ctx context.Context, fn func(Page) error) error {
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

// QueryAggregate reads every page of q and folds each item into agg through r.
func QueryAggregate[V any](ctx context.Context, c *Client, q *Query, r *projection.Registry[V], agg projection.Aggregate[V]) error {
	return c.NewQueryPaginator(q).Each(ctx, func(page Page) error {
		return projection.Reduce(r, agg, page.Items)
	})
}
