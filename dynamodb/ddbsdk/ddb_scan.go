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

// Scan reads every item of the table or an index. A parallel scan splits the
// work into segments, each read by its own Scan.
type Scan struct {
	once
	opts     readOptions
	segment  int32
	segments int32
}

// NewScan reads every item of the table.
func NewScan() *Scan {
	return &Scan{}
}

// OnIndex scans a secondary index instead of the table.
func (s *Scan) OnIndex(name string) *Scan {
	s.opts.index = name
	return s
}

// WithFilter ANDs c onto the filter. Filters apply after Limit.
func (s *Scan) WithFilter(c expr.Condition) *Scan {
	s.opts.filter = s.opts.filter.And(c)
	return s
}

func (s *Scan) WithLimit(n int32) *Scan {
	s.opts.limit = n
	return s
}

func (s *Scan) WithConsistentRead() *Scan {
	s.opts.consistent = true
	return s
}

func (s *Scan) WithProjection(attrs ...string) *Scan {
	s.opts.projection = append(s.opts.projection, attrs...)
	return s
}

// WithStartKey resumes after a cursor from a previous page.
func (s *Scan) WithStartKey(cursor Item) *Scan {
	s.opts.start = cursor
	return s
}

func (s *Scan) WithSelect(sel types.Select) *Scan {
	s.opts.sel = sel
	return s
}

// WithSegment reads only segment of total.
func (s *Scan) WithSegment(segment, total int32) *Scan {
	s.segment, s.segments = segment, total
	return s
}

func (s *Scan) render(def table.TableDefinition) (*dynamodbv2.ScanInput, expr.Expression, error) {
	if err := s.opts.validate(def); err != nil {
		return nil, expr.Expression{}, err
	}
	in := &dynamodbv2.ScanInput{
		TableName:         &def.Name,
		IndexName:         s.opts.indexName(),
		ConsistentRead:    ptr(s.opts.consistent),
		Limit:             s.opts.limitPtr(),
		ExclusiveStartKey: s.opts.start,
		Select:            s.opts.sel,
	}
	if s.segments != 0 {
		if s.segments < 0 || s.segment < 0 || s.segment >= s.segments {
			return nil, expr.Expression{}, ddberr.Validationf("scan segment %d of %d out of range", s.segment, s.segments)
		}
		in.Segment, in.TotalSegments = ptr(s.segment), ptr(s.segments)
	}
	e, err := expr.NewBuilder().
		Filter(s.opts.filter).
		Projection(s.opts.projection...).
		Build()
	if err != nil {
		return nil, expr.Expression{}, fmt.Errorf("scan: %w", err)
	}
	in.FilterExpression = e.Filter
	in.ProjectionExpression = e.Projection
	in.ExpressionAttributeNames = e.Names
	in.ExpressionAttributeValues = e.Values
	return in, e, nil
}

// Scan executes one request of s.
func (c *Client) Scan(ctx context.Context, s *Scan) (Page, error) {
	return c.NewScanPaginator(s).NextPage(ctx)
}

// NewScanPaginator pages through every result of s. The paginator owns s.
func (c *Client) NewScanPaginator(s *Scan) *Paginator {
	if err := s.claim(); err != nil {
		return &Paginator{err: err}
	}
	in, e, err := s.render(c.def)
	if err != nil {
		return &Paginator{err: err}
	}
	return &Paginator{
		cursor: in.ExclusiveStartKey,
		fetch: func(ctx context.Context, cursor Item) (Page, error) {
			in.ExclusiveStartKey = cursor
			ctx, call := c.begin(ctx, "Scan", s.opts.index, e)
			out, err := c.awsddb.Scan(ctx, in)
			if err = call.end(err); err != nil {
				return Page{}, err
			}
			return Page{Items: out.Items, Count: int(out.Count), Cursor: out.LastEvaluatedKey}, nil
		},
	}
}

// ScanAggregate reads every page of s and folds each item into agg through r.
func ScanAggregate[V any](ctx context.Context, c *Client, s *Scan, r *projection.Registry[V], agg projection.Aggregate[V]) error {
	return c.NewScanPaginator(s).Each(ctx, func(page Page) error {
		return projection.Reduce(r, agg, page.Items)
	})
}
