package grpcserver

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/slotkeeper/internal/errs"
)

// errorDomain is the ErrorInfo domain of every status this server returns.
const errorDomain = "slotkeeper"

type mapping struct {
	target error
	code   codes.Code
	reason string
	msg    string
}

// mappings is checked in order; the first errors.Is match wins.
var mappings = []mapping{
	{errs.ErrQuotaExhausted, codes.ResourceExhausted, "QUOTA_EXHAUSTED", "slot has no attempts left"},
	{errs.ErrRateLimited, codes.ResourceExhausted, "RATE_LIMITED", "too many attempts, try later"},
	{errs.ErrLoginLocked, codes.PermissionDenied, "LOGIN_LOCKED", "login is closed"},
	{errs.ErrForbidden, codes.PermissionDenied, "FORBIDDEN", "forbidden"},
	{errs.ErrUnauthorized, codes.Unauthenticated, "UNAUTHENTICATED", "bad credentials"},
	{errs.ErrModerationUnavailable, codes.Unavailable, "MODERATION_UNAVAILABLE", "prompt could not be checked"},
	{errs.ErrGenerationFailed, codes.Unavailable, "GENERATION_FAILED", "image generation failed"},
	{errs.ErrStorage, codes.Unavailable, "STORAGE", "artifact storage unavailable"},
	{errs.ErrNotFound, codes.NotFound, "NOT_FOUND", "not found"},
	{errs.ErrAlreadyExists, codes.AlreadyExists, "ALREADY_EXISTS", "already exists"},
	{errs.ErrFailedPrecondition, codes.FailedPrecondition, "FAILED_PRECONDITION", ""},
	{errs.ErrInvariantViolation, codes.Internal, "INVARIANT_VIOLATION", "internal"},
	{context.DeadlineExceeded, codes.DeadlineExceeded, "DEADLINE_EXCEEDED", "deadline exceeded"},
	{context.Canceled, codes.Canceled, "CANCELED", "canceled"},
}

// toStatus maps a service error onto a gRPC status carrying an ErrorInfo
// detail. Messages of internal errors are not sent to the client.
func toStatus(err error, meta map[string]string) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code, reason, msg := codes.Internal, "INTERNAL", "internal"
	if strings.HasPrefix(err.Error(), "validation:") {
		code, reason, msg = codes.InvalidArgument, "INVALID_ARGUMENT", strings.TrimSpace(strings.TrimPrefix(err.Error(), "validation:"))
	} else {
		for _, m := range mappings {
			if errors.Is(err, m.target) {
				code, reason, msg = m.code, m.reason, m.msg
				if msg == "" {
					msg = err.Error()
				}
				break
			}
		}
	}
	return withInfo(code, msg, reason, meta)
}

func withInfo(code codes.Code, msg, reason string, meta map[string]string) error {
	st := status.New(code, msg)
	d, err := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: errorDomain, Metadata: meta})
	if err != nil {
		return st.Err()
	}
	return d.Err()
}

// invalid is a shortcut for request-shape errors caught in handlers.
func invalid(msg string) error {
	return withInfo(codes.InvalidArgument, msg, "INVALID_ARGUMENT", nil)
}

// ReasonOf extracts the ErrorInfo reason from a status error, "" if absent.
func ReasonOf(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.GetReason()
		}
	}
	return ""
}
