package voting

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

var (
	// ErrPollNotFound means the vote referenced a poll id with no poll item.
	ErrPollNotFound = errors.New("poll not found")

	// ErrInvalidOption means the option id is not among the poll's options.
	ErrInvalidOption = errors.New("invalid option")

	// ErrStoreUnavailable wraps store failures the caller may retry: throttle,
	// service trouble, timeouts, or a vote transaction that kept conflicting.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsStoreUnavailable reports whether err is worth retrying from the client's
// side rather than a terminal validation failure.
func IsStoreUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case dynamodb.ErrCodeProvisionedThroughputExceededException,
			dynamodb.ErrCodeRequestLimitExceeded,
			dynamodb.ErrCodeInternalServerError,
			"ThrottlingException",
			"ServiceUnavailable":
			return true
		}
	}
	return false
}

// isTransactionCanceled detects a cancelled TransactWriteItems call: either a
// condition lost the race or DynamoDB rejected overlapping transactions. Both
// mean re-read and try again. The string fallback covers errors the SDK or
// the ddb layer didn't surface as a typed exception.
func isTransactionCanceled(err error) bool {
	if err == nil {
		return false
	}
	var tce *dynamodb.TransactionCanceledException
	if errors.As(err, &tce) {
		return true
	}
	var conflict *dynamodb.TransactionConflictException
	if errors.As(err, &conflict) {
		return true
	}
	return strings.Contains(err.Error(), "TransactionCanceled") ||
		strings.Contains(err.Error(), "TransactionConflict") ||
		strings.Contains(err.Error(), "ConditionalCheckFailed")
}
