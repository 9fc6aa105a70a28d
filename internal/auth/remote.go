package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EndpointResolver returns the base URL of the identity service, such as
// "http://10.0.0.5:8081". It is called per lookup so the address tracks the
// live instance set.
type EndpointResolver func(ctx context.Context) (string, error)

// HTTPRemoteVerifier resolves principals by calling the identity service's
// verify endpoint with the bearer token.
type HTTPRemoteVerifier struct {
	resolve    EndpointResolver
	verifyPath string
	client     *http.Client
}

// NewHTTPRemoteVerifier creates a remote verifier. The client may be nil, in
// which case a client with a 10 second timeout is used.
func NewHTTPRemoteVerifier(resolve EndpointResolver, verifyPath string, client *http.Client) *HTTPRemoteVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPRemoteVerifier{
		resolve:    resolve,
		verifyPath: verifyPath,
		client:     client,
	}
}

// FetchPrincipal implements RemoteVerifier.
func (rv *HTTPRemoteVerifier) FetchPrincipal(ctx context.Context, token string) (*Principal, error) {
	base, err := rv.resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve identity service: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+rv.verifyPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := rv.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call identity service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("identity service returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Valid bool      `json:"valid"`
		User  Principal `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode identity service response: %w", err)
	}
	if !payload.Valid {
		return nil, ErrInvalidToken
	}
	return &payload.User, nil
}
