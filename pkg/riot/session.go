package riot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/hubbridge/hubbridge/pkg/common"
	"github.com/hubbridge/hubbridge/pkg/log"
)

const (
	defaultPortalBase = "https://portal.riotsystems.cloud"
	loginPath         = "/api/auth/login"
)

// ErrAuth is returned when the portal yields no usable access token. The
// portal does not distinguish bad credentials from outages or malformed
// responses, so neither do we.
var ErrAuth = errors.New("no access token returned")

// Session is the identity derived from the portal's bearer token. The claims
// are extracted without signature verification; the token is treated as an
// opaque credential that the socket either accepts or rejects.
type Session struct {
	AccessToken string `json:"accessToken"`

	UserID     string `json:"userId"`
	SessionID  string `json:"sessionId"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	TenantID   string `json:"tenantId"`
	CustomerID string `json:"customerId"`
}

// Portal is a client for the Riot Systems telemetry cloud.
type Portal struct {
	client  *http.Client
	baseURL string
}

// PortalOption customizes a Portal, mostly for tests.
type PortalOption func(*Portal)

// WithBaseURL overrides the portal base URL.
func WithBaseURL(baseURL string) PortalOption {
	return func(p *Portal) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient overrides the HTTP client used for the login call.
func WithHTTPClient(client *http.Client) PortalOption {
	return func(p *Portal) {
		p.client = client
	}
}

// NewPortal creates a Portal against the production cloud.
func NewPortal(opts ...PortalOption) *Portal {
	p := &Portal{
		client:  common.HTTPClient(time.Minute),
		baseURL: defaultPortalBase,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type loginResult struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a Session. It makes exactly one outbound
// call and does not retry.
func (p *Portal) Login(ctx context.Context, email, password string) (Session, error) {
	body, err := json.Marshal(map[string]string{
		"username": email,
		"password": password,
	})
	if err != nil {
		return Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	defer resp.Body.Close()

	var res loginResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode login response", slog.Any("error", err))
		return Session{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if res.Token == "" {
		return Session{}, ErrAuth
	}

	sess, err := DecodeAccessToken(res.Token)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "portal login success", slog.String("userId", sess.UserID))
	return sess, nil
}

// DecodeAccessToken extracts the identity claims embedded in the bearer
// token. No signature or expiry validation is performed.
func DecodeAccessToken(accessToken string) (Session, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return Session{}, fmt.Errorf("failed to decode access token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, errors.New("invalid or missing claims")
	}

	str := func(key string) string {
		if v, ok := claims[key].(string); ok {
			return v
		}
		return ""
	}

	return Session{
		AccessToken: accessToken,
		UserID:      str("userId"),
		SessionID:   str("sessionId"),
		FirstName:   str("firstName"),
		LastName:    str("lastName"),
		TenantID:    str("tenantId"),
		CustomerID:  str("customerId"),
	}, nil
}
