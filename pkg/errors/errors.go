package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kinds group error codes into the categories exposed to API clients.
const (
	KindNotFound          = "NOT_FOUND"
	KindInvalidState      = "INVALID_STATE"
	KindValidation        = "VALIDATION_ERROR"
	KindConflict          = "CONFLICT"
	KindInsufficientStock = "INSUFFICIENT_STOCK"
	KindForbidden         = "FORBIDDEN"
	KindUnauthorized      = "UNAUTHORIZED"
	KindStoreUnavailable  = "STORE_UNAVAILABLE"
	KindInternal          = "INTERNAL"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so clones with custom
// messages still match the predefined values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code, kind string, status int, message string) *Error {
	return &Error{Code: code, Kind: kind, Status: status, Message: message}
}

// Wrap attaches context to an existing error using base for code, kind and status.
func Wrap(err error, base *Error, message string) *Error {
	if message == "" {
		message = base.Message
	}
	return &Error{Code: base.Code, Kind: base.Kind, Status: base.Status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", KindUnauthorized, http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", KindForbidden, http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", KindNotFound, http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", KindForbidden, http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", KindUnauthorized, http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", KindConflict, http.StatusConflict, "conflict")
	ErrInvalidState       = New("INVALID_STATE", KindInvalidState, http.StatusConflict, "operation not allowed in current state")
	ErrValidation         = New("VALIDATION_ERROR", KindValidation, http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", KindInternal, http.StatusInternalServerError, "internal server error")
	ErrStoreUnavailable   = New("STORE_UNAVAILABLE", KindStoreUnavailable, http.StatusServiceUnavailable, "data store unavailable, retry the operation")
	ErrCacheMiss          = New("CACHE_MISS", KindNotFound, http.StatusNotFound, "cache miss")
)

// Routing errors.
var (
	ErrNoSupervisorFound    = New("NO_SUPERVISOR_FOUND", KindValidation, http.StatusUnprocessableEntity, "requester has no mapped supervisor")
	ErrNoApproverConfigured = New("NO_APPROVER_CONFIGURED", KindValidation, http.StatusUnprocessableEntity, "no approver configured for wing")
)

// Approval workflow errors.
var (
	ErrDuplicatePendingApproval = New("DUPLICATE_PENDING_APPROVAL", KindConflict, http.StatusConflict, "request already has a pending approval")
	ErrApprovalNotPending       = New("APPROVAL_NOT_PENDING", KindInvalidState, http.StatusConflict, "approval is not pending")
	ErrApprovalFinalized        = New("APPROVAL_FINALIZED", KindInvalidState, http.StatusConflict, "approval already finalized")
	ErrInvalidDecision          = New("INVALID_DECISION", KindValidation, http.StatusBadRequest, "decision must be approved or rejected")
	ErrRejectionReasonRequired  = New("REJECTION_REASON_REQUIRED", KindValidation, http.StatusBadRequest, "reason is required when rejecting an item")
	ErrIncompleteDecisions      = New("INCOMPLETE_DECISIONS", KindInvalidState, http.StatusConflict, "all items need a decision before finalizing")
	ErrRequestNotRoutable       = New("REQUEST_NOT_ROUTABLE", KindInvalidState, http.StatusConflict, "request is not awaiting an approver")
)

// Verification errors.
var (
	ErrAlreadyForwarded       = New("ALREADY_FORWARDED", KindConflict, http.StatusConflict, "item already has a pending verification")
	ErrVerificationNotPending = New("VERIFICATION_NOT_PENDING", KindInvalidState, http.StatusConflict, "verification is not pending")
	ErrForbiddenActor         = New("FORBIDDEN_ACTOR", KindForbidden, http.StatusForbidden, "actor is not assigned to this task")
)

// Stock ledger errors.
var (
	ErrInsufficientStock  = New("INSUFFICIENT_STOCK", KindInsufficientStock, http.StatusUnprocessableEntity, "insufficient stock on hand")
	ErrRequestNotApproved = New("REQUEST_NOT_APPROVED", KindInvalidState, http.StatusConflict, "request is not approved for issuance")
	ErrAlreadyIssued      = New("ALREADY_ISSUED", KindInvalidState, http.StatusConflict, "request already issued")
	ErrAlreadyReturned    = New("ALREADY_RETURNED", KindInvalidState, http.StatusConflict, "ledger entry already returned")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
