package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Client talks to the messaging backend. Authentication is a bearer JWT
// plus an x-instance-id header derived from the JWT claims.
type Client struct {
	baseURL    string
	token      string
	instanceID string
	http       *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		instanceID: instanceIDFromJWT(token),
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// instanceIDClaims is the alias order for the instance identifier inside
// the JWT payload.
var instanceIDClaims = []string{"instance_id", "phone_number_id", "pnid", "sub"}

func instanceIDFromJWT(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return ""
	}
	for _, claim := range instanceIDClaims {
		if v := gjson.GetBytes(payload, claim); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func (c *Client) headers(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.instanceID != "" {
		req.Header.Set("x-instance-id", c.instanceID)
	}
}

// do performs a request and returns the response body. Non-2xx responses
// become errors carrying the status and body text.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.headers(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// ChatStream opens the NDJSON chat feed. The caller owns the returned body
// and must close it.
func (c *Client) ChatStream(ctx context.Context) (io.ReadCloser, error) {
	payload, err := json.Marshal(map[string]string{
		"operator": "AND",
		"sort":     "-wa_lastMsgTimestamp",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chats/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	c.headers(req)

	// No client timeout here: the stream stays open for as long as the
	// backend keeps sending records. Cancellation comes from ctx.
	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat stream request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}
