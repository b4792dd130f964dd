// agave.go - Agave accounting API client (vendor listing)

package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stakbuild/docmatch/configs"
	"github.com/stakbuild/docmatch/internal/ai"
)

const providerAgave = "agave"

// ErrNoAccountToken is returned when neither the call nor the configuration
// carries an account token.
var ErrNoAccountToken = errors.New("no Agave account token")

// APIError is a non-200 answer from Agave.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agave API error (%d): %s", e.StatusCode, e.Message)
}

// RemoteVendor is a vendor as listed by the accounting system.
type RemoteVendor struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	SourceData json.RawMessage `json:"source_data,omitempty"`
}

type vendorsResponse struct {
	Data []RemoteVendor `json:"data"`
}

// Client talks to the Agave unified accounting API.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	apiVersion   string
	defaultToken string
	httpClient   *http.Client
	deps         ai.ProviderDeps
}

// NewClient creates a client from configuration. The configured account
// token is only a default; callers pass the token of the linked account.
func NewClient(cfg *configs.Config, deps ai.ProviderDeps) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.AgaveBaseURL, "/"),
		clientID:     cfg.AgaveClientID,
		clientSecret: cfg.AgaveClientSecret,
		apiVersion:   cfg.AgaveAPIVersion,
		defaultToken: cfg.AgaveAccountToken,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		deps:         deps.WithDefaults(),
	}
}

// ListVendors returns every vendor of the linked account.
func (c *Client) ListVendors(ctx context.Context, accountToken string) ([]RemoteVendor, error) {
	if accountToken == "" {
		accountToken = c.defaultToken
	}
	if accountToken == "" {
		return nil, ErrNoAccountToken
	}

	return ai.DoValue(ctx, c.deps.Retry, c.deps.Logger, "agave list vendors", func(ctx context.Context) ([]RemoteVendor, error) {
		if err := c.deps.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.listVendors(ctx, accountToken)
	})
}

func (c *Client) listVendors(ctx context.Context, accountToken string) ([]RemoteVendor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/vendors", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, accountToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ai.ClassifyError(providerAgave, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ai.ClassifyError(providerAgave, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
		return nil, ai.ClassifyStatus(providerAgave, resp.StatusCode, apiErr.Message, apiErr)
	}

	var out vendorsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ai.MalformedResponseError{Provider: providerAgave, Body: string(body), Err: err}
	}
	return out.Data, nil
}

func (c *Client) setHeaders(req *http.Request, accountToken string) {
	req.Header.Set("API-Version", c.apiVersion)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Client-Secret", c.clientSecret)
	req.Header.Set("Account-Token", accountToken)
	req.Header.Set("Include-Source-Data", "true")
}

// errorMessage takes "error" from an error body, or else its first string
// field in document order, or else the raw body.
func errorMessage(body []byte) string {
	raw := strings.TrimSpace(string(body))
	dec := json.NewDecoder(bytes.NewReader(body))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return raw
	}

	var first string
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			break
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			break
		}
		var msg string
		if json.Unmarshal(value, &msg) != nil || msg == "" {
			continue
		}
		if key == "error" {
			return msg
		}
		if first == "" {
			first = msg
		}
	}
	if first != "" {
		return first
	}
	return raw
}
