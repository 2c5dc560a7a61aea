// Package apperr defines the trust core's error taxonomy (spec §7) as a
// typed Result-carrying error rather than ad-hoc sentinel values, so every
// component boundary can map a failure to a stable code and HTTP status
// without the caller needing to know the failure cause.
package apperr

import "net/http"

// Code is one of the fixed taxonomy values from spec §7.
type Code string

const (
	NoActiveKey             Code = "NO_ACTIVE_KEY"
	JWTSignFailed            Code = "JWT_SIGN_FAILED"
	JWTDecodeFailed          Code = "JWT_DECODE_FAILED"
	JWTInvalid               Code = "JWT_INVALID"
	JTIRegistrationFailed    Code = "JTI_REGISTRATION_FAILED"
	ReplayDetected           Code = "REPLAY_DETECTED"
	AuthzResolveFailed       Code = "AUTHZ_RESOLVE_FAILED"
	AuthzCheckFailed         Code = "AUTHZ_CHECK_FAILED"
	PermissionDenied         Code = "PERMISSION_DENIED"
	RoleNotFound             Code = "ROLE_NOT_FOUND"
	CannotDisableSystemRole  Code = "CANNOT_DISABLE_SYSTEM_ROLE"
	CannotDeleteSystemRole   Code = "CANNOT_DELETE_SYSTEM_ROLE"
	RoleMustBeDisabled       Code = "ROLE_MUST_BE_DISABLED"
	ModuleNotFound           Code = "MODULE_NOT_FOUND"
	CannotDisableSystemMod   Code = "CANNOT_DISABLE_SYSTEM_MODULE"
	UserNotFound             Code = "USER_NOT_FOUND"
	InvalidRoleCombination   Code = "INVALID_ROLE_COMBINATION"
	DeviceLimitReached       Code = "DEVICE_LIMIT_REACHED"
	InvalidDeviceKey         Code = "INVALID_DEVICE_KEY"
	AuditLogFailed           Code = "AUDIT_LOG_FAILED"
	InvalidCredentials       Code = "INVALID_CREDENTIALS"
)

// httpStatus maps each code to the status spec §7's propagation policy
// assigns it: auth errors to 401/403, validation errors to 400, not-found
// to 404, system errors to 500.
var httpStatus = map[Code]int{
	NoActiveKey:            http.StatusInternalServerError,
	JWTSignFailed:          http.StatusInternalServerError,
	JWTDecodeFailed:        http.StatusUnauthorized,
	JWTInvalid:             http.StatusUnauthorized,
	JTIRegistrationFailed:  http.StatusInternalServerError,
	ReplayDetected:         http.StatusUnauthorized,
	AuthzResolveFailed:     http.StatusInternalServerError,
	AuthzCheckFailed:       http.StatusInternalServerError,
	PermissionDenied:       http.StatusForbidden,
	RoleNotFound:           http.StatusNotFound,
	CannotDisableSystemRole: http.StatusBadRequest,
	CannotDeleteSystemRole: http.StatusBadRequest,
	RoleMustBeDisabled:     http.StatusBadRequest,
	ModuleNotFound:         http.StatusNotFound,
	CannotDisableSystemMod: http.StatusBadRequest,
	UserNotFound:           http.StatusNotFound,
	InvalidRoleCombination: http.StatusBadRequest,
	DeviceLimitReached:     http.StatusConflict,
	InvalidDeviceKey:       http.StatusBadRequest,
	AuditLogFailed:         http.StatusInternalServerError,
	InvalidCredentials:     http.StatusBadRequest,
}

// Error is the typed error carried across trust-core component boundaries.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code spec §7 assigns to e.Code, defaulting
// to 500 for any taxonomy gap.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New builds an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error wrapping cause. If cause is nil, Wrap returns a nil
// *Error, which is a non-nil value once returned through an `error` result;
// call Wrap only with a non-nil cause.
func Wrap(code Code, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// As reports whether err (or anything it wraps) is an *Error with the given
// code.
func As(err error, code Code) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok && ae.Code == code {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
