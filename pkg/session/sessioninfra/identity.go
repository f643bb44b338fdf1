package sessioninfra

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/session"
	"github.com/rs/zerolog/log"
)

// HTTPIdentityProvider brokers password verification to the external
// identity provider over its service API. Transient failures retry briefly;
// a rejected credential never does.
type HTTPIdentityProvider struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

func NewHTTPIdentityProvider(baseURL, serviceKey string) *HTTPIdentityProvider {
	return &HTTPIdentityProvider{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type verifyRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyResponse struct {
	User struct {
		ID       string         `json:"id"`
		Email    string         `json:"email"`
		Role     string         `json:"role"`
		Metadata map[string]any `json:"user_metadata"`
	} `json:"user"`
}

func (p *HTTPIdentityProvider) VerifyPassword(ctx context.Context, email, password string) (*session.Identity, error) {
	body, err := json.Marshal(verifyRequest{Email: email, Password: password})
	if err != nil {
		return nil, session.ErrProviderDown().WithCause(err)
	}

	var identity *session.Identity
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.baseURL+"/auth/v1/token?grant_type=password", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("apikey", p.serviceKey)
		req.Header.Set("Authorization", "Bearer "+p.serviceKey)

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var out verifyResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return backoff.Permanent(err)
			}
			role := out.User.Role
			if role == "" || role == "authenticated" {
				role = "user"
			}
			identity = &session.Identity{
				UserID:   kernel.NewUserID(out.User.ID),
				Email:    out.User.Email,
				Role:     role,
				Provider: "password",
				Metadata: out.User.Metadata,
			}
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			// Wrong credentials never retry.
			return backoff.Permanent(session.ErrInvalidCredentials())
		default:
			return session.ErrProviderDown().
				WithDetail("status", resp.StatusCode)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			err = perm.Err
		}
		log.Warn().Err(err).Msg("identity provider verification failed")
		return nil, err
	}
	return identity, nil
}
