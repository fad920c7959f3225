package retry

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/postforge/internal/core/domain"
)

// QuotaHint is appended to quota errors so the operator knows retrying is pointless.
const QuotaHint = " | Resolve quota/billing or wait for limits to reset."

var quotaMarkers = []string{
	"resource_exhausted",
	"resource exhausted",
	"quota exceeded",
	"exceeded your current quota",
	"rate limit",
}

// Classify maps any error to a domain error. Unknown failures from the
// generation boundary are presumed transient.
func Classify(err error) *domain.Error {
	if err == nil {
		return nil
	}

	if de, ok := domain.AsError(err); ok {
		return applyQuotaRule(de, false)
	}

	switch {
	case errors.Is(err, context.Canceled):
		return domain.Wrap(domain.KindValidation, err, "run cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Wrap(domain.KindTransient, err, "deadline exceeded")
	}

	if st, ok := status.FromError(err); ok {
		return classifyStatus(st, err)
	}

	return applyQuotaRule(domain.Wrap(domain.KindTransient, err, ""), false)
}

func classifyStatus(st *status.Status, err error) *domain.Error {
	quota := hasQuotaFailure(st)

	switch st.Code() {
	case codes.ResourceExhausted:
		return applyQuotaRule(domain.Wrap(domain.KindTransient, err, ""), true)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal, codes.Unknown:
		return applyQuotaRule(domain.Wrap(domain.KindTransient, err, ""), quota)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.NotFound:
		return domain.Wrap(domain.KindValidation, err, "")
	case codes.Canceled:
		return domain.Wrap(domain.KindValidation, err, "request cancelled")
	default:
		return domain.Wrap(domain.KindValidation, err, "")
	}
}

func hasQuotaFailure(st *status.Status) bool {
	for _, d := range st.Details() {
		if _, ok := d.(*errdetails.QuotaFailure); ok {
			return true
		}
	}
	return false
}

// applyQuotaRule turns a transient error into a non-retryable one when it
// signals quota or rate-limit exhaustion.
func applyQuotaRule(e *domain.Error, force bool) *domain.Error {
	if e.Kind != domain.KindTransient || !e.Retryable {
		return e
	}
	if !force && !IsQuotaMessage(e.Message) {
		return e
	}
	return e.WithMessage(e.Message+QuotaHint, false)
}

// IsQuotaMessage reports whether msg names a quota or rate-limit condition.
func IsQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range quotaMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
