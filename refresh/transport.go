package refresh

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/hemoline/authgate/tokenstore"
)

type retriedKey struct{}
type anonymousKey struct{}

// MarkRetried flags ctx so a 401 on a request carrying it is final.
func MarkRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

// IsRetried reports whether ctx belongs to an already replayed request.
func IsRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// Anonymous flags ctx so the transport neither attaches a bearer token nor
// attempts a refresh (login, registration, password reset).
func Anonymous(ctx context.Context) context.Context {
	return context.WithValue(ctx, anonymousKey{}, true)
}

func isAnonymous(ctx context.Context) bool {
	v, _ := ctx.Value(anonymousKey{}).(bool)
	return v
}

// Transport attaches the stored access token and recovers from one 401 per
// request through the Coordinator.
type Transport struct {
	Base        http.RoundTripper
	Store       *tokenstore.Store
	Coordinator *Coordinator
}

func NewTransport(base http.RoundTripper, store *tokenstore.Store, coordinator *Coordinator) *Transport {
	return &Transport{Base: base, Store: store, Coordinator: coordinator}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	body, err := drainBody(req)
	if err != nil {
		return nil, err
	}

	if isAnonymous(ctx) {
		return t.send(req, body, "")
	}

	access, err := t.Store.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := t.send(req, body, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || access == "" || IsRetried(ctx) {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	fresh, err := t.Coordinator.Refresh(ctx, access)
	if err != nil {
		return nil, err
	}

	return t.send(req.WithContext(MarkRetried(ctx)), body, fresh)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) send(req *http.Request, body []byte, access string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	if access != "" {
		out.Header.Set("Authorization", "Bearer "+access)
	} else {
		out.Header.Del("Authorization")
	}
	return t.base().RoundTrip(out)
}

func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}
