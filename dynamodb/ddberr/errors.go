// Package ddberr classifies failures from the modeling layer and the store.
//
// Every error kind is a struct type so callers can inspect its payload with
// errors.As, and each one matches a sentinel with errors.Is so callers can
// branch without string matching:
//
//	if errors.Is(err, ddberr.ErrConditionalCheckFailed) {
//	    // already exists
//	}
package ddberr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrValidation             = errors.New("ddb: validation failed")
	ErrConditionalCheckFailed = errors.New("ddb: conditional check failed")
	ErrProjectionMismatch     = errors.New("ddb: no matching projection")
	ErrThrottled              = errors.New("ddb: request throttled")
	ErrTransactionCanceled    = errors.New("ddb: transaction canceled")
	ErrBatchIncomplete        = errors.New("ddb: batch incomplete")
	ErrTransport              = errors.New("ddb: transport error")
)

// ValidationError reports a malformed key, expression or operation.
// It is always a caller bug and never worth retrying.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil && !strings.Contains(e.Msg, e.Err.Error()) {
		return fmt.Sprintf("validation: %s: %v", e.Msg, e.Err)
	}
	return "validation: " + e.Msg
}

func (e *ValidationError) Unwrap() error        { return e.Err }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validationf builds a ValidationError. A trailing %w verb is unwrapped.
func Validationf(format string, args ...any) error {
	wrapped := fmt.Errorf(format, args...)
	return &ValidationError{Msg: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// ConditionalCheckFailedError means a condition expression evaluated to false.
// Item holds the item as it was when the check failed, if it was requested.
type ConditionalCheckFailedError struct {
	Op   string
	Item map[string]types.AttributeValue
	Err  error
}

func (e *ConditionalCheckFailedError) Error() string {
	return fmt.Sprintf("%s: conditional check failed", e.Op)
}

func (e *ConditionalCheckFailedError) Unwrap() error        { return e.Err }
func (e *ConditionalCheckFailedError) Is(target error) bool { return target == ErrConditionalCheckFailed }

// ProjectionMismatchError means an item could not be matched to any registered
// projection, or decoding into the matched projection failed.
type ProjectionMismatchError struct {
	EntityType string
	Reason     string
	Err        error
}

func (e *ProjectionMismatchError) Error() string {
	msg := fmt.Sprintf("no matching projection for entity type %q", e.EntityType)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProjectionMismatchError) Unwrap() error        { return e.Err }
func (e *ProjectionMismatchError) Is(target error) bool { return target == ErrProjectionMismatch }

// ThrottlingError means the store rejected the request for capacity reasons.
// The request is safe to retry with backoff; this package never does so itself.
type ThrottlingError struct {
	Op  string
	Err error
}

func (e *ThrottlingError) Error() string {
	return fmt.Sprintf("%s: throttled: %v", e.Op, e.Err)
}

func (e *ThrottlingError) Unwrap() error        { return e.Err }
func (e *ThrottlingError) Is(target error) bool { return target == ErrThrottled }

// CancellationReason describes why one item of a transaction was canceled.
// Index matches the position of the item in the request.
type CancellationReason struct {
	Index   int
	Code    string
	Message string
	Item    map[string]types.AttributeValue
}

// TransactionCanceledError is returned when a transactional read or write was
// canceled. Reasons only lists items with a code other than "None" and is empty
// when the store did not say why.
type TransactionCanceledError struct {
	Op      string
	Reasons []CancellationReason
	Err     error
}

func (e *TransactionCanceledError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("%s: transaction canceled", e.Op)
	}
	msg := fmt.Sprintf("%s: transaction canceled:", e.Op)
	for _, r := range e.Reasons {
		msg += fmt.Sprintf(" [%d]=%s", r.Index, r.Code)
	}
	return msg
}

func (e *TransactionCanceledError) Unwrap() error        { return e.Err }
func (e *TransactionCanceledError) Is(target error) bool { return target == ErrTransactionCanceled }

// HasCode reports whether any item was canceled with the given code.
func (e *TransactionCanceledError) HasCode(code string) bool {
	for _, r := range e.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

// BatchIncompleteError carries every write or key of a batch that is not
// known to be applied: whatever the store left unprocessed after the retry
// budget was spent, or the chunk that failed with Err, plus the chunks that
// were never sent. Everything outside the payload was applied.
//
// The payload is not chunked and may exceed the 25 writes or 100 keys a
// single BatchWriteItem or BatchGetItem request accepts. Split it before
// re-submitting it.
type BatchIncompleteError struct {
	Op                string
	Retries           int
	UnprocessedWrites map[string][]types.WriteRequest
	UnprocessedKeys   map[string]types.KeysAndAttributes
	// Err is the failure that stopped the batch, nil when the retry budget ran out.
	Err error
}

func (e *BatchIncompleteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: batch incomplete: %d items unprocessed: %v", e.Op, e.Unprocessed(), e.Err)
	}
	return fmt.Sprintf("%s: batch incomplete: %d items unprocessed after %d retries", e.Op, e.Unprocessed(), e.Retries)
}

func (e *BatchIncompleteError) Unwrap() error        { return e.Err }
func (e *BatchIncompleteError) Is(target error) bool { return target == ErrBatchIncomplete }

// Unprocessed counts the unprocessed writes and keys.
func (e *BatchIncompleteError) Unprocessed() int {
	var n int
	for _, reqs := range e.UnprocessedWrites {
		n += len(reqs)
	}
	for _, ka := range e.UnprocessedKeys {
		n += len(ka.Keys)
	}
	return n
}

// TransportError wraps any failure of the store client that has no more
// specific classification.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error        { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }
