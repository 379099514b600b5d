// Package classify maps failures to retry semantics.
//
// Classification is driven by domain.ErrorKind tags attached where a failure
// is first observed. Errors without a tag fall back to structural checks
// (context errors, gRPC status codes, network errors) and finally to
// KindUnknown, which is retryable with a tighter attempt cap.
package classify

import (
	"context"
	"errors"
	"io"
	"net"
	"slices"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/txguard/internal/core/domain"
)

// Class is the retry eligibility of a failure.
type Class int

const (
	Retryable Class = iota
	Fatal
)

func (c Class) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "retryable"
}

// Classify returns the class of err. It is total: every value, nil included,
// gets a class.
func Classify(err error) Class {
	return ClassOf(KindOf(err))
}

// ClassOf maps a kind to its class.
func ClassOf(kind domain.ErrorKind) Class {
	switch kind {
	case domain.KindUserDeclined,
		domain.KindInsufficientResources,
		domain.KindInvalidRequest,
		domain.KindCircuitOpen:
		return Fatal
	case domain.KindTransient, domain.KindRateLimited, domain.KindUnknown:
		return Retryable
	default:
		// Unrecognised tags are treated like unknown failures.
		return Retryable
	}
}

// KindOf resolves the kind of err.
func KindOf(err error) domain.ErrorKind {
	if err == nil {
		return domain.KindUnknown
	}

	var k domain.Kinder
	if errors.As(err, &k) {
		// Empty or unrecognised tags get the tighter unknown cap.
		if kind := k.Kind(); slices.Contains(domain.Kinds, kind) {
			return kind
		}
		return domain.KindUnknown
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.KindTransient
	case errors.Is(err, context.Canceled):
		return domain.KindUnknown
	}

	if kind, ok := grpcKind(err); ok {
		return kind
	}

	if isNetworkError(err) {
		return domain.KindTransient
	}

	return domain.KindUnknown
}

func grpcKind(err error) (domain.ErrorKind, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return "", false
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return domain.KindTransient, true
	case codes.ResourceExhausted:
		return domain.KindRateLimited, true
	case codes.InvalidArgument, codes.Unimplemented, codes.OutOfRange:
		return domain.KindInvalidRequest, true
	case codes.PermissionDenied, codes.Unauthenticated:
		return domain.KindUserDeclined, true
	case codes.FailedPrecondition:
		return domain.KindInsufficientResources, true
	default:
		return domain.KindUnknown, true
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
