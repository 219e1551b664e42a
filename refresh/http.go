package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hemoline/authgate/token"
)

// RefreshPath is the refresh endpoint relative to the API base URL.
const RefreshPath = "/auth/token/refresh"

// HTTPRefresher calls POST /auth/token/refresh. Its client must not use
// [Transport].
type HTTPRefresher struct {
	client   *http.Client
	endpoint string
}

func NewHTTPRefresher(baseURL string, client *http.Client) *HTTPRefresher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRefresher{
		client:   client,
		endpoint: strings.TrimRight(baseURL, "/") + RefreshPath,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (h *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return token.Pair{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return token.Pair{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return token.Pair{}, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return token.Pair{}, fmt.Errorf("%w: status %d", ErrRefreshInvalid, resp.StatusCode)
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return token.Pair{}, fmt.Errorf("%w: status %d", ErrRefreshUnavailable, resp.StatusCode)
	}

	var body refreshResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return token.Pair{}, fmt.Errorf("%w: decode response: %v", ErrRefreshUnavailable, err)
	}

	return token.Pair{AccessToken: body.AccessToken, RefreshToken: body.RefreshToken}, nil
}
