package ddberr

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Cancellation reason codes reported by the store.
const (
	ReasonNone                   = "None"
	ReasonConditionalCheckFailed = "ConditionalCheckFailed"
	ReasonThroughputExceeded     = "ProvisionedThroughputExceeded"
	ReasonThrottlingError        = "ThrottlingError"
	ReasonTransactionConflict    = "TransactionConflict"
	ReasonValidationError        = "ValidationError"
)

// Classify maps an error returned by the store client for operation op onto
// the taxonomy. Errors already classified are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isClassified(err) {
		return err
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return &ConditionalCheckFailedError{Op: op, Item: ccf.Item, Err: err}
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		return &TransactionCanceledError{Op: op, Reasons: reasonsOf(tce.CancellationReasons), Err: err}
	}

	var pte *types.ProvisionedThroughputExceededException
	if errors.As(err, &pte) {
		return &ThrottlingError{Op: op, Err: err}
	}
	var rle *types.RequestLimitExceeded
	if errors.As(err, &rle) {
		return &ThrottlingError{Op: op, Err: err}
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "ThrottlingException", "ProvisionedThroughputExceededException", "RequestLimitExceeded":
			return &ThrottlingError{Op: op, Err: err}
		case "ConditionalCheckFailedException":
			return &ConditionalCheckFailedError{Op: op, Err: err}
		case "ValidationException":
			return &ValidationError{Msg: op + ": " + ae.ErrorMessage(), Err: err}
		}
	}

	return &TransportError{Op: op, Err: err}
}

func isClassified(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrConditionalCheckFailed, ErrProjectionMismatch, ErrThrottled,
		ErrTransactionCanceled, ErrBatchIncomplete, ErrTransport,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func reasonsOf(in []types.CancellationReason) []CancellationReason {
	var out []CancellationReason
	for i, r := range in {
		code := deref(r.Code)
		if code == "" || code == ReasonNone {
			continue
		}
		out = append(out, CancellationReason{
			Index:   i,
			Code:    code,
			Message: deref(r.Message),
			Item:    r.Item,
		})
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// IsConditionalCheckFailed reports whether err is a failed condition, either
// directly or as the reason a transaction was canceled.
func IsConditionalCheckFailed(err error) bool {
	if errors.Is(err, ErrConditionalCheckFailed) {
		return true
	}
	var tce *TransactionCanceledError
	if errors.As(err, &tce) {
		return tce.HasCode(ReasonConditionalCheckFailed)
	}
	return false
}

// IsThrottling reports whether err is a capacity error, either directly or as
// the reason a transaction was canceled.
func IsThrottling(err error) bool {
	if errors.Is(err, ErrThrottled) {
		return true
	}
	var tce *TransactionCanceledError
	if errors.As(err, &tce) {
		return tce.HasCode(ReasonThroughputExceeded) || tce.HasCode(ReasonThrottlingError)
	}
	return false
}
