package oauth

import (
	"strings"
	"time"

	"github.com/lanonasis/authgate/pkg/kernel"
)

// ClientType classifies how a client authenticates to the token endpoint.
type ClientType string

const (
	ClientPublic       ClientType = "public"
	ClientConfidential ClientType = "confidential"
)

// ApplicationType describes the kind of application behind a client.
type ApplicationType string

const (
	AppWeb    ApplicationType = "web"
	AppNative ApplicationType = "native"
	AppCLI    ApplicationType = "cli"
	AppMCP    ApplicationType = "mcp"
	AppServer ApplicationType = "server"
)

// ClientStatus is the lifecycle state of a registered client. Clients are
// never destroyed, only revoked.
type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientInactive ClientStatus = "inactive"
	ClientRevoked  ClientStatus = "revoked"
)

// MCPScopes are implicitly allowed for public MCP clients, enabling
// auto-registration of MCP integrations without per-client scope setup.
var MCPScopes = []string{
	"mcp:full", "mcp:tools", "mcp:resources", "mcp:prompts", "mcp:connect",
	"api:access", "memories:read", "memories:write", "memories:delete",
	"profile",
}

// Client is a registered OAuth application.
type Client struct {
	ClientID         kernel.ClientID `db:"client_id" json:"client_id"`
	SecretHash       *string         `db:"secret_hash" json:"-"`
	ClientType       ClientType      `db:"client_type" json:"client_type"`
	ApplicationType  ApplicationType `db:"application_type" json:"application_type"`
	Name             string          `db:"name" json:"name"`
	RequirePKCE      bool            `db:"require_pkce" json:"require_pkce"`
	ChallengeMethods []string        `db:"challenge_methods" json:"allowed_code_challenge_methods"`
	RedirectURIs     []string        `db:"redirect_uris" json:"allowed_redirect_uris"`
	AllowedScopes    []string        `db:"allowed_scopes" json:"allowed_scopes"`
	DefaultScopes    []string        `db:"default_scopes" json:"default_scopes"`
	Status           ClientStatus    `db:"status" json:"status"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the client may be used in any flow.
func (c *Client) IsActive() bool {
	return c.Status == ClientActive
}

// AllowsRedirectURI checks the allow-list by exact string match. No
// normalization: "http://a/cb" and "http://a/cb/" are different URIs.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, allowed := range c.RedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

// AllowsChallengeMethod reports whether the PKCE method is permitted for
// this client. An empty allow-list means S256 only.
func (c *Client) AllowsChallengeMethod(method string) bool {
	if len(c.ChallengeMethods) == 0 {
		return method == PKCEMethodS256
	}
	for _, m := range c.ChallengeMethods {
		if m == method {
			return true
		}
	}
	return false
}

// EffectiveAllowedScopes is the client's scope allow-list, expanded with the
// standard MCP scope set for public MCP clients.
func (c *Client) EffectiveAllowedScopes() []string {
	if c.ClientType == ClientPublic && c.ApplicationType == AppMCP {
		seen := make(map[string]struct{}, len(c.AllowedScopes)+len(MCPScopes))
		merged := make([]string, 0, len(c.AllowedScopes)+len(MCPScopes))
		for _, s := range c.AllowedScopes {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				merged = append(merged, s)
			}
		}
		for _, s := range MCPScopes {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				merged = append(merged, s)
			}
		}
		return merged
	}
	return c.AllowedScopes
}

// FilterScopes resolves the effective scope grant for a request. An empty
// request takes the client defaults; any scope outside the allow-list is an
// invalid_scope error.
func (c *Client) FilterScopes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return append([]string(nil), c.DefaultScopes...), nil
	}
	allowed := c.EffectiveAllowedScopes()
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = struct{}{}
	}
	granted := make([]string, 0, len(requested))
	for _, s := range requested {
		if _, ok := allowedSet[s]; !ok {
			return nil, ErrInvalidScope("Scope not allowed for this client: " + s)
		}
		granted = append(granted, s)
	}
	return granted, nil
}

// ParseScopeParam splits a space-separated scope parameter.
func ParseScopeParam(param string) []string {
	fields := strings.Fields(param)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// JoinScopes renders scopes as the space-separated wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
