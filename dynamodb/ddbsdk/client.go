// Package ddbsdk executes modeled operations against a DynamoDB-compatible
// store. Operations are built with NewGet, NewPut, NewQuery and friends, then
// executed by a Client bound to one table definition.
//
// Every operation value is single-use:
//
//	op := ddbsdk.NewCreate(user).WithTTL(expiry)
//	if err := client.PutItem(ctx, op); err != nil {
//	    return err
//	}
package ddbsdk

import (
	"context"
	"fmt"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/ddbiface"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Item is one raw item as the store returns it.
type Item = map[string]types.AttributeValue

// Request limits of the store.
const (
	MaxBatchGetItems   = 100
	MaxBatchWriteItems = 25
	MaxTransactItems   = 100
)

const (
	defaultMaxRetries = 3
	tracerName        = "github.com/acksell/ddbmodel/dynamodb/ddbsdk"
)

// Client is safe for concurrent use. It holds only immutable configuration
// and the store client.
type Client struct {
	awsddb  ddbiface.AWSDynamoClientV2
	def     table.TableDefinition
	log     *zap.Logger
	tracer  trace.Tracer
	metrics *metrics
	retry   retryPolicy
}

type retryPolicy struct {
	maxRetries int
	backoff    BackoffFunc
}

type clientOpts struct {
	log        *zap.Logger
	tp         trace.TracerProvider
	registerer prometheus.Registerer
	retry      retryPolicy
}

type ClientOption func(*clientOpts)

// WithLogger sets the logger. Operations log at debug level, batch retries at info.
func WithLogger(log *zap.Logger) ClientOption {
	return func(o *clientOpts) {
		o.log = log
	}
}

// WithTracerProvider sets where operation spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(o *clientOpts) {
		o.tp = tp
	}
}

// WithMetrics registers the client's collectors with reg. Clients sharing a
// registerer share collectors.
func WithMetrics(reg prometheus.Registerer) ClientOption {
	return func(o *clientOpts) {
		o.registerer = reg
	}
}

// WithBatchRetry bounds how often unprocessed batch items are re-submitted.
// A nil backoff keeps the current one.
func WithBatchRetry(maxRetries int, backoff BackoffFunc) ClientOption {
	return func(o *clientOpts) {
		o.retry.maxRetries = maxRetries
		if backoff != nil {
			o.retry.backoff = backoff
		}
	}
}

// New binds awsddb to the table described by def.
func New(awsddb ddbiface.AWSDynamoClientV2, def table.TableDefinition, opts ...ClientOption) (*Client, error) {
	if awsddb == nil {
		return nil, fmt.Errorf("ddbsdk: nil store client")
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("ddbsdk: table %q: %w", def.Name, err)
	}
	o := clientOpts{
		retry: retryPolicy{maxRetries: defaultMaxRetries, backoff: DefaultBackoff},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}
	if o.retry.maxRetries < 0 {
		return nil, fmt.Errorf("ddbsdk: negative retry budget %d", o.retry.maxRetries)
	}
	m, err := newMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("ddbsdk: register metrics: %w", err)
	}
	return &Client{
		awsddb:  awsddb,
		def:     def,
		log:     o.log.With(zap.String("table", def.Name)),
		tracer:  o.tp.Tracer(tracerName),
		metrics: m,
		retry:   o.retry,
	}, nil
}

// Table returns the definition the client was built with.
func (c *Client) Table() table.TableDefinition {
	return c.def
}

// wait sleeps for the backoff of the given retry attempt, or until ctx is done.
func (c *Client) wait(ctx context.Context, attempt int) error {
	d := c.retry.backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
