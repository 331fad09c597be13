package ddbsdk

import (
	"context"
	"errors"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/expr"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const metricsNamespace = "ddbmodel"

var emptyExpression expr.Expression

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Total number of store operations by outcome",
			},
			[]string{"operation", "table", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of store operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batch_retries_total",
				Help:      "Total number of batch re-submissions of unprocessed items",
			},
			[]string{"operation", "table"},
		),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.retries, err = register(reg, m.retries); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// status is the metric label for the outcome of an operation.
func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ddberr.ErrValidation):
		return "validation"
	case errors.Is(err, ddberr.ErrConditionalCheckFailed):
		return "condition_failed"
	case errors.Is(err, ddberr.ErrTransactionCanceled):
		return "canceled"
	case errors.Is(err, ddberr.ErrThrottled):
		return "throttled"
	case errors.Is(err, ddberr.ErrBatchIncomplete):
		return "incomplete"
	case errors.Is(err, ddberr.ErrProjectionMismatch):
		return "projection_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled_context"
	default:
		return "error"
	}
}

// call tracks one store operation from start to finish.
type call struct {
	c     *Client
	op    string
	start time.Time
	span  trace.Span
}

// begin opens the span for op and logs the rendered expression.
func (c *Client) begin(ctx context.Context, op, index string, e expr.Expression) (context.Context, *call) {
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", op),
		attribute.String("aws.dynamodb.table_names", c.def.Name),
	}
	if index != "" {
		attrs = append(attrs, attribute.String("aws.dynamodb.index_name", index))
	}
	ctx, span := c.tracer.Start(ctx, "ddb."+op, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))

	if ce := c.log.Check(zap.DebugLevel, "ddb operation"); ce != nil {
		fields := []zap.Field{zap.String("operation", op)}
		if index != "" {
			fields = append(fields, zap.String("index", index))
		}
		if !e.IsEmpty() {
			fields = append(fields, zap.Object("expression", e))
		}
		ce.Write(fields...)
	}
	return ctx, &call{c: c, op: op, start: time.Now(), span: span}
}

// end classifies err, records the outcome and closes the span. It returns the
// classified error.
func (cl *call) end(err error) error {
	err = ddberr.Classify(cl.op, err)
	st := status(err)

	cl.c.metrics.requests.WithLabelValues(cl.op, cl.c.def.Name, st).Inc()
	cl.c.metrics.duration.WithLabelValues(cl.op, cl.c.def.Name).Observe(time.Since(cl.start).Seconds())

	if err != nil {
		cl.span.RecordError(err)
		cl.span.SetStatus(codes.Error, st)
		cl.c.log.Debug("ddb operation failed", zap.String("operation", cl.op), zap.String("status", st), zap.Error(err))
	} else {
		cl.span.SetStatus(codes.Ok, "")
	}
	cl.span.End()
	return err
}

// retried records a batch re-submission.
func (cl *call) retried(attempt, unprocessed int) {
	cl.c.metrics.retries.WithLabelValues(cl.op, cl.c.def.Name).Inc()
	cl.span.AddEvent("retry", trace.WithAttributes(
		attribute.Int("attempt", attempt),
		attribute.Int("unprocessed", unprocessed),
	))
	cl.c.log.Info("retrying unprocessed batch items",
		zap.String("operation", cl.op),
		zap.Int("attempt", attempt),
		zap.Int("unprocessed", unprocessed),
	)
}
