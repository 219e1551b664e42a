package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hemoline/authgate/refresh"
	"github.com/hemoline/authgate/token"
)

const maxResponseBytes = 1 << 20

// HTTPAPI implements [API] over JSON HTTP. Its client should use a
// [refresh.Transport] so authenticated calls carry the bearer token.
type HTTPAPI struct {
	client  *http.Client
	baseURL string
}

func NewHTTPAPI(baseURL string, client *http.Client) *HTTPAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAPI{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *HTTPAPI) Login(ctx context.Context, creds Credentials) (token.Pair, error) {
	var out tokenResponse
	if err := a.do(refresh.Anonymous(ctx), http.MethodPost, "/auth/login", creds, &out); err != nil {
		return token.Pair{}, err
	}
	if out.AccessToken == "" {
		return token.Pair{}, fmt.Errorf("%w: login response carried no access token", ErrTransient)
	}
	return token.Pair{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}, nil
}

func (a *HTTPAPI) Register(ctx context.Context, reg Registration) (token.Pair, error) {
	var out tokenResponse
	if err := a.do(refresh.Anonymous(ctx), http.MethodPost, "/auth/register", reg, &out); err != nil {
		return token.Pair{}, err
	}
	return token.Pair{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}, nil
}

// Logout is sent with the bearer token but never triggers a refresh.
func (a *HTTPAPI) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refresh_token": refreshToken}
	return a.do(refresh.MarkRetried(ctx), http.MethodPost, "/auth/logout", body, nil)
}

func (a *HTTPAPI) Profile(ctx context.Context) (Profile, error) {
	var out Profile
	err := a.do(ctx, http.MethodGet, "/auth/profile", nil, &out)
	return out, err
}

func (a *HTTPAPI) UpdateProfile(ctx context.Context, update ProfileUpdate) (Profile, error) {
	var out Profile
	err := a.do(ctx, http.MethodPut, "/auth/profile", update, &out)
	return out, err
}

func (a *HTTPAPI) ForgotPassword(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return a.do(refresh.Anonymous(ctx), http.MethodPost, "/auth/forgot-password", body, nil)
}

func (a *HTTPAPI) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	body := map[string]string{"token": resetToken, "password": newPassword}
	return a.do(refresh.Anonymous(ctx), http.MethodPost, "/auth/reset-password", body, nil)
}

func (a *HTTPAPI) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	body := map[string]string{"current_password": currentPassword, "new_password": newPassword}
	return a.do(ctx, http.MethodPost, "/auth/change-password", body, nil)
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if endsSession(err) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, limited)
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, limited)
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		apiErr := &APIError{Status: resp.StatusCode}
		var payload errorResponse
		if json.NewDecoder(limited).Decode(&payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Message
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, limited)
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode %s: %v", ErrTransient, path, err)
	}
	return nil
}
