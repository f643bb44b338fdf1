package eventlog

import "time"

// Payload shapes shared by the emitters and the read-side applier. Fields
// are facts derived from the primary store; no credential material ever
// appears here.

type UserUpsertedPayload struct {
	UserID       string     `json:"user_id"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	Provider     string     `json:"provider"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
}

type SessionCreatedPayload struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Platform  string    `json:"platform"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SessionRevokedPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type APIKeyPayload struct {
	KeyID          string     `json:"key_id"`
	ReplacesKeyID  string     `json:"replaces_key_id,omitempty"`
	UserID         string     `json:"user_id"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Name           string     `json:"name"`
	Prefix         string     `json:"prefix"`
	Scopes         []string   `json:"scopes,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type ClientRegisteredPayload struct {
	ClientID        string `json:"client_id"`
	ClientType      string `json:"client_type"`
	ApplicationType string `json:"application_type"`
}

type TokenPayload struct {
	TokenID   string     `json:"token_id"`
	TokenType string     `json:"token_type"`
	ClientID  string     `json:"client_id"`
	UserID    string     `json:"user_id"`
	Scopes    []string   `json:"scopes,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

type AuditPayload struct {
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Resource  string `json:"resource,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code,omitempty"`
}
