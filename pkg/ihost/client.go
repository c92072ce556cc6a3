package ihost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hubbridge/hubbridge/pkg/common"
	"github.com/hubbridge/hubbridge/pkg/log"
	"github.com/levenlabs/go-lflag"
)

const (
	tokenPath = "/open-api/v2/rest/bridge/access_token"
	eventPath = "/open-api/v2/rest/thirdparty/event"
	cardsPath = "/open-api/v2/rest/ui/cards"

	// appName is shown in the hub dashboard next to the approval prompt.
	appName = "Hubble CloudLink"
)

// ErrApprovalPending is returned while the bridge request is waiting for the
// user to approve it in the hub dashboard.
var ErrApprovalPending = errors.New("please approve the CloudLink request in your iHost dashboard and try again")

// RemoteError is a rejection from the hub. REST calls carry Code/Message,
// event calls carry Type/Description.
type RemoteError struct {
	Code        int
	Message     string
	Type        string
	Description string
}

func (e *RemoteError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("ihost event error: type=%s description=%s", e.Type, e.Description)
	}
	if e.Message != "" {
		return fmt.Sprintf("ihost error: %s", e.Message)
	}
	return fmt.Sprintf("ihost error: %d", e.Code)
}

// Client talks to the hub's open API on the LAN.
type Client struct {
	client  *http.Client
	baseURL string
}

// Configured sets up the hub client based on flags. The base URL defaults to
// IHOST_URL and can optionally be resolved over mDNS instead.
func Configured() *Client {
	c := NewClient("")

	def := os.Getenv("IHOST_URL")
	if def == "" {
		def = "http://ihost.local"
	}
	baseURL := lflag.String("ihost-url", def, "Base URL of the iHost hub on the LAN")
	discover := lflag.Bool("ihost-discover", false, "Resolve the hub address via mDNS at startup instead of ihost-url")

	lflag.Do(func() {
		c.baseURL = *baseURL
		if *discover {
			addr, err := Discover(3 * time.Second)
			if err != nil {
				log.Ctx(context.Background()).WarnContext(context.Background(),
					"mdns discovery failed, falling back to ihost-url",
					slog.String("ihostURL", c.baseURL),
					slog.Any("error", err),
				)
				return
			}
			c.baseURL = addr
		}
	})

	return c
}

// NewClient returns a hub client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		client:  common.HTTPClient(time.Minute),
		baseURL: baseURL,
	}
}

// BaseURL returns the configured hub base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest sends one request and returns the raw response body after
// checking the shared error envelope. An error field of 401 means the bridge
// request is still waiting for dashboard approval.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}, accessToken string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode ihost response", slog.Any("error", err), slog.String("body", string(raw)))
		return nil, fmt.Errorf("failed to decode ihost response: %w", err)
	}
	if envelope.Error == http.StatusUnauthorized {
		return nil, ErrApprovalPending
	}
	if envelope.Error != 0 {
		log.Ctx(ctx).ErrorContext(ctx, "ihost api error", slog.Int("code", envelope.Error), slog.String("message", envelope.Message))
		return nil, &RemoteError{Code: envelope.Error, Message: envelope.Message}
	}
	return raw, nil
}

// AcquireToken requests a bridge access token from the hub. The first call
// triggers an approval prompt in the dashboard; until the user accepts it the
// hub answers with a 401 error field and we return ErrApprovalPending.
func (c *Client) AcquireToken(ctx context.Context) (string, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, tokenPath+"?app_name="+url.QueryEscape(appName), nil, "")
	if err != nil {
		return "", err
	}

	var res struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("failed to decode access token response: %w", err)
	}
	if res.Data.Token == "" {
		return "", errors.New("ihost did not return an access token")
	}
	log.Ctx(ctx).InfoContext(ctx, "acquired ihost access token")
	return res.Data.Token, nil
}
