// Package oauth holds the OAuth 2.0 domain: clients, authorization codes,
// tokens, device authorizations, and the protocol error registry. The
// protocol engine lives in oauthsrv, persistence in oauthinfra, and the
// HTTP surface in oauthhttp.
package oauth

import (
	"net/http"

	"github.com/lanonasis/authgate/pkg/errx"
)

var ErrRegistry = errx.NewRegistry("OAUTH")

// Protocol errors carry their RFC 6749 wire code; handlers report them by
// redirect when the redirect_uri can be trusted, as JSON otherwise.
var (
	CodeInvalidRequest       = ErrRegistry.RegisterProtocol("INVALID_REQUEST", "invalid_request", http.StatusBadRequest, "The request is missing a required parameter or is otherwise malformed")
	CodeInvalidClient        = ErrRegistry.RegisterProtocol("INVALID_CLIENT", "invalid_client", http.StatusUnauthorized, "Client authentication failed")
	CodeInvalidGrant         = ErrRegistry.RegisterProtocol("INVALID_GRANT", "invalid_grant", http.StatusBadRequest, "The provided grant is invalid, expired, or revoked")
	CodeUnauthorizedClient   = ErrRegistry.RegisterProtocol("UNAUTHORIZED_CLIENT", "unauthorized_client", http.StatusBadRequest, "The client is not authorized to use this grant type")
	CodeUnsupportedGrant     = ErrRegistry.RegisterProtocol("UNSUPPORTED_GRANT_TYPE", "unsupported_grant_type", http.StatusBadRequest, "Unsupported grant type")
	CodeInvalidScope         = ErrRegistry.RegisterProtocol("INVALID_SCOPE", "invalid_scope", http.StatusBadRequest, "The requested scope is invalid or exceeds the granted scope")
	CodeAccessDenied         = ErrRegistry.RegisterProtocol("ACCESS_DENIED", "access_denied", http.StatusBadRequest, "The resource owner denied the request")
	CodeServerError          = ErrRegistry.RegisterProtocol("SERVER_ERROR", "server_error", http.StatusInternalServerError, "The authorization server encountered an unexpected condition")
	CodeTemporarilyUnavail   = ErrRegistry.RegisterProtocol("TEMPORARILY_UNAVAILABLE", "temporarily_unavailable", http.StatusServiceUnavailable, "The authorization server is temporarily unable to handle the request")
	CodeAuthorizationPending = ErrRegistry.RegisterProtocol("AUTHORIZATION_PENDING", "authorization_pending", http.StatusBadRequest, "The authorization request is still pending")
	CodeSlowDown             = ErrRegistry.RegisterProtocol("SLOW_DOWN", "slow_down", http.StatusBadRequest, "Polling too frequently; increase the polling interval")
	CodeExpiredToken         = ErrRegistry.RegisterProtocol("EXPIRED_TOKEN", "expired_token", http.StatusBadRequest, "The device code has expired")
)

var (
	CodeClientNotFound = ErrRegistry.Register("CLIENT_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "OAuth client not found")
	CodeTokenNotFound  = ErrRegistry.Register("TOKEN_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Token not found")
)

func ErrInvalidRequest(description string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeInvalidRequest, description)
}

func ErrInvalidClient() *errx.Error {
	return ErrRegistry.New(CodeInvalidClient)
}

func ErrInvalidGrant(description string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeInvalidGrant, description)
}

func ErrInvalidScope(description string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeInvalidScope, description)
}

func ErrUnsupportedGrant() *errx.Error {
	return ErrRegistry.New(CodeUnsupportedGrant)
}

func ErrAccessDenied() *errx.Error {
	return ErrRegistry.New(CodeAccessDenied)
}

func ErrServerError(err error) *errx.Error {
	return ErrRegistry.New(CodeServerError).WithCause(err)
}

func ErrAuthorizationPending() *errx.Error {
	return ErrRegistry.New(CodeAuthorizationPending)
}

func ErrSlowDown() *errx.Error {
	return ErrRegistry.New(CodeSlowDown)
}

func ErrExpiredToken() *errx.Error {
	return ErrRegistry.New(CodeExpiredToken)
}

// Grant type identifiers accepted by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)
