// ABOUTME: Error taxonomy for conversation sync: invalid transitions and transport failure classes
// ABOUTME: Transport errors are classified by gRPC status code into transient or permanent

package convo

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrDestroyed is returned by mutators after Destroy.
	ErrDestroyed = errors.New("conversation agent destroyed")

	// ErrNotActive is returned when sending while the conversation is not loaded.
	ErrNotActive = errors.New("conversation not active")

	// ErrUnknownCorrelation is returned by RetrySend for ids with no failed item.
	ErrUnknownCorrelation = errors.New("unknown correlation id")

	// ErrEmptyBody is returned when sending an empty message.
	ErrEmptyBody = errors.New("message body is empty")
)

// StateError describes an operation rejected by the state machine.
type StateError struct {
	Op     string
	Status Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.Status)
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidState).
func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// ErrorKind classifies failures surfaced to the UI.
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"
	KindPermanent   ErrorKind = "permanent"
	KindSendFailure ErrorKind = "send_failure"
)

// ErrorInfo is attached to the snapshot when an error affects overall status.
type ErrorInfo struct {
	Kind    ErrorKind
	Code    codes.Code
	Message string
}

// Retryable reports whether the UI should offer a retry affordance.
// Every agent-level error is retryable through Resume.
func (e *ErrorInfo) Retryable() bool {
	return e != nil
}

// Classify maps a transport error to transient or permanent. Errors that do
// not carry a gRPC status are treated as transient network failures.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	st, ok := status.FromError(err)
	if !ok {
		return KindTransient
	}
	switch st.Code() {
	case codes.NotFound, codes.PermissionDenied, codes.Unauthenticated,
		codes.FailedPrecondition, codes.InvalidArgument, codes.Unimplemented:
		return KindPermanent
	default:
		return KindTransient
	}
}

// newErrorInfo builds the snapshot representation of err.
func newErrorInfo(kind ErrorKind, err error) *ErrorInfo {
	info := &ErrorInfo{Kind: kind, Code: codes.Unknown, Message: err.Error()}
	if st, ok := status.FromError(err); ok {
		info.Code = st.Code()
		info.Message = st.Message()
	}
	return info
}
