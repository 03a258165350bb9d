package grants

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// OAuth error codes as they travel on the wire. They are carried as the
// TextCode of the sentinel errors below.
const (
	CodeInvalidRequest        = "invalid_request"
	CodeInvalidClient         = "invalid_client"
	CodeInvalidRedirectURI    = "invalid_redirect_uri"
	CodeInvalidScope          = "invalid_scope"
	CodeInvalidUserCode       = "invalid_user_code"
	CodeAlreadyActioned       = "already_actioned"
	CodeUnsupportedGrantType  = "unsupported_grant_type"
	CodeInvalidGrant          = "invalid_grant"
	CodeExpiredToken          = "expired_token"
	CodeAuthorizationPending  = "authorization_pending"
	CodeSlowDown              = "slow_down"
	CodeAccessDenied          = "access_denied"
	CodeActionExecutionFailed = "action_execution_failed"
	CodeUnsupportedOperation  = "unsupported_operation"
	CodeInvalidActionResponse = "invalid_action_response"
	CodeInvalidCredentials    = "invalid_credentials"
	CodeInvalidSessionState   = "invalid_session_state"
	CodeProtectedClaim        = "protected_claim"
	CodeServerError           = "server_error"
)

var ErrInvalidRequest = goerrors.New("malformed authorization request", goerrors.CategoryValidation).
	WithTextCode(CodeInvalidRequest).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidClient is returned when the client is unknown or fails authentication.
var ErrInvalidClient = goerrors.New("client authentication failed", goerrors.CategoryAuth).
	WithTextCode(CodeInvalidClient).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidRedirectURI is returned when the redirect uri is not registered for the client.
var ErrInvalidRedirectURI = goerrors.New("redirect uri not registered for client", goerrors.CategoryValidation).
	WithTextCode(CodeInvalidRedirectURI).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidScope is returned when no scope was requested and the client has no defaults.
var ErrInvalidScope = goerrors.New("no scope requested", goerrors.CategoryValidation).
	WithTextCode(CodeInvalidScope).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidUserCode is returned when a user code is unknown or expired.
var ErrInvalidUserCode = goerrors.New("user code is unknown or expired", goerrors.CategoryValidation).
	WithTextCode(CodeInvalidUserCode).
	WithCode(goerrors.CodeBadRequest)

// ErrAlreadyActioned is returned when a device code was already approved or denied.
var ErrAlreadyActioned = goerrors.New("device code already actioned", goerrors.CategoryConflict).
	WithTextCode(CodeAlreadyActioned).
	WithCode(goerrors.CodeConflict)

var ErrUnsupportedGrantType = goerrors.New("unsupported grant type", goerrors.CategoryValidation).
	WithTextCode(CodeUnsupportedGrantType).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidGrant is returned for unknown, consumed, or mismatched codes.
var ErrInvalidGrant = goerrors.New("grant is invalid, consumed, or bound to another client", goerrors.CategoryBadInput).
	WithTextCode(CodeInvalidGrant).
	WithCode(goerrors.CodeBadRequest)

// ErrExpiredToken is returned when a device code expired or was already redeemed.
var ErrExpiredToken = goerrors.New("device code expired", goerrors.CategoryBadInput).
	WithTextCode(CodeExpiredToken).
	WithCode(goerrors.CodeBadRequest)

// ErrAuthorizationPending tells a polling device the user has not acted yet.
var ErrAuthorizationPending = goerrors.New("authorization pending", goerrors.CategoryOperation).
	WithTextCode(CodeAuthorizationPending).
	WithCode(goerrors.CodeBadRequest)

// ErrSlowDown tells a polling device it exceeded the poll interval.
var ErrSlowDown = goerrors.New("polling too frequently", goerrors.CategoryRateLimit).
	WithTextCode(CodeSlowDown).
	WithCode(goerrors.CodeBadRequest)

// ErrAccessDenied is returned when the user denied consent or the device request.
var ErrAccessDenied = goerrors.New("access denied by resource owner", goerrors.CategoryAuthz).
	WithTextCode(CodeAccessDenied).
	WithCode(goerrors.CodeBadRequest)

// ErrActionExecutionFailed is returned when a configured pre-issue action fails.
// No token is issued.
var ErrActionExecutionFailed = goerrors.New("pre-issue action failed", goerrors.CategoryExternal).
	WithTextCode(CodeActionExecutionFailed).
	WithCode(goerrors.CodeInternal)

// ErrUnsupportedOperation is returned for operations with an unknown op or path.
var ErrUnsupportedOperation = goerrors.New("unsupported action operation", goerrors.CategoryValidation).
	WithTextCode(CodeUnsupportedOperation).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidActionResponse is returned when an action response cannot be used.
var ErrInvalidActionResponse = goerrors.New("invalid action response", goerrors.CategoryExternal).
	WithTextCode(CodeInvalidActionResponse).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials is returned by identity providers when a login fails.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(CodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidSessionState is returned when a step runs against a session in the wrong state.
var ErrInvalidSessionState = goerrors.New("grant session is not in the expected state", goerrors.CategoryConflict).
	WithTextCode(CodeInvalidSessionState).
	WithCode(goerrors.CodeBadRequest)

// ErrProtectedClaim is returned when an operation targets a claim the engine owns.
var ErrProtectedClaim = goerrors.New("claim is protected", goerrors.CategoryAuthz).
	WithTextCode(CodeProtectedClaim).
	WithCode(goerrors.CodeBadRequest)

// ErrNotFound is returned by stores for unknown keys and expired entries.
var ErrNotFound = goerrors.New("grant record not found", goerrors.CategoryNotFound).
	WithTextCode("grant_not_found").
	WithCode(goerrors.CodeNotFound)

// ErrConflict is returned by stores when a conditional transition loses the race.
var ErrConflict = goerrors.New("grant record changed concurrently", goerrors.CategoryConflict).
	WithTextCode("grant_conflict").
	WithCode(goerrors.CodeConflict)

// WrapError clones base, attaching err as the source and meta as metadata.
// The shared sentinel is never mutated.
func WrapError(base *goerrors.Error, err error, meta map[string]any) error {
	if base == nil {
		return err
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if err != nil {
		clone.Source = err
		if meta == nil {
			meta = map[string]any{}
		}
		if _, ok := meta["error"]; !ok {
			meta["error"] = err.Error()
		}
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

// ErrorCode returns the OAuth error code carried by err, or server_error
// when err does not carry one.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if errors.As(err, &rich) && rich.TextCode != "" {
		return rich.TextCode
	}
	return CodeServerError
}

// HasCode reports whether err carries the given OAuth error code.
func HasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// HTTPStatus maps err to the status code used on the token endpoint.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var rich *goerrors.Error
	if errors.As(err, &rich) && rich.Code != 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

// IsValidationError reports whether err rejects the request shape or its parties.
func IsValidationError(err error) bool {
	switch ErrorCode(err) {
	case CodeInvalidRequest, CodeInvalidClient, CodeInvalidRedirectURI,
		CodeInvalidScope, CodeInvalidUserCode, CodeAlreadyActioned, CodeUnsupportedGrantType:
		return true
	}
	return false
}

// IsExpiredOrConsumed reports whether err means the grant can no longer be used.
func IsExpiredOrConsumed(err error) bool {
	switch ErrorCode(err) {
	case CodeInvalidGrant, CodeExpiredToken:
		return true
	}
	return false
}

// IsPendingRetry reports whether the client should poll again later.
func IsPendingRetry(err error) bool {
	switch ErrorCode(err) {
	case CodeAuthorizationPending, CodeSlowDown:
		return true
	}
	return false
}

// ErrorDescription returns a human readable message for err suitable for
// the error_description field.
func ErrorDescription(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		return rich.Message
	}
	return "internal server error"
}
