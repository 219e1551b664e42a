package authgate

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hemoline/authgate/sanitize"
)

const (
	mediaJSON = "application/json"
	mediaForm = "application/x-www-form-urlencoded"
)

func normalizeMediaType(v string) string {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		mt, _, _ = strings.Cut(v, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func bodyMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func hasBody(r *http.Request) bool {
	return bodyMethod(r.Method) && r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

type replayBody struct {
	io.Reader
	io.Closer
}

// peekBody reads at most limit+1 bytes and puts them back in front of the
// remaining body. complete is false when the body is longer than limit.
func peekBody(r *http.Request, limit int64) (buf []byte, complete bool, err error) {
	buf, err = io.ReadAll(io.LimitReader(r.Body, limit+1))
	r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	if err != nil {
		return nil, false, err
	}
	return buf, int64(len(buf)) <= limit, nil
}

func setBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	r.ContentLength = int64(len(body))
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
}

type failedBody struct {
	err error
}

func (f failedBody) Read([]byte) (int, error) { return 0, f.err }

func (g *Gate) csrfFromBody(r *http.Request) string {
	if !hasBody(r) || r.ContentLength > g.config.Policy.MaxBodyBytes {
		return ""
	}
	mt := normalizeMediaType(r.Header.Get("Content-Type"))
	if mt != mediaJSON && mt != mediaForm {
		return ""
	}

	buf, complete, err := peekBody(r, g.config.Policy.MaxBodyBytes)
	if err != nil || !complete {
		return ""
	}

	field := g.config.CSRF.FieldName
	if mt == mediaJSON {
		res := gjson.GetBytes(buf, gjsonEscape(field))
		if res.Type != gjson.String {
			return ""
		}
		return strings.TrimSpace(res.Str)
	}
	form, err := url.ParseQuery(string(buf))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(form.Get(field))
}

func gjsonEscape(key string) string {
	var b strings.Builder
	for _, c := range key {
		switch c {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

/*
====================================
CONTENT-TYPE AND SIZE GUARD
====================================
*/

// GuardBody rejects bodies with a media type outside the policy or a declared
// length above the budget, and bounds undeclared lengths with
// http.MaxBytesReader so an overrun surfaces as 413 when the body is read.
// A declared Content-Type is checked even when the body is empty.
func (g *Gate) GuardBody(w http.ResponseWriter, r *http.Request) error {
	if !bodyMethod(r.Method) {
		return nil
	}
	ct := r.Header.Get("Content-Type")
	body := hasBody(r)
	if !body && ct == "" {
		return nil
	}
	if _, ok := g.types[normalizeMediaType(ct)]; !ok {
		g.metrics.Inc(MetricMediaTypeRejected)
		return rejectMediaType()
	}
	if !body {
		return nil
	}
	if r.ContentLength > g.config.Policy.MaxBodyBytes {
		g.metrics.Inc(MetricPayloadTooLarge)
		return rejectTooLarge()
	}
	r.Body = http.MaxBytesReader(w, r.Body, g.config.Policy.MaxBodyBytes)
	return nil
}

// IsPayloadTooLarge reports whether err came from a body exceeding the
// guard's budget.
func IsPayloadTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || errors.Is(err, ErrPayloadTooLarge)
}

/*
====================================
SANITIZATION
====================================
*/

// Sanitize cleans string values in the query and in JSON or urlencoded
// bodies. Malformed bodies pass through untouched; the only error is a body
// that overruns the size budget while being read.
func (g *Gate) Sanitize(r *http.Request) error {
	changed := 0

	if r.URL.RawQuery != "" {
		if cleaned, n := sanitize.Clean(sanitize.FromValues(r.URL.Query())); n > 0 {
			r.URL.RawQuery = sanitize.ToValues(cleaned).Encode()
			changed += n
		}
	}

	if hasBody(r) {
		mt := normalizeMediaType(r.Header.Get("Content-Type"))
		if mt == mediaJSON || mt == mediaForm {
			n, err := sanitizeBody(r, mt)
			if err != nil {
				if IsPayloadTooLarge(err) {
					g.metrics.Inc(MetricPayloadTooLarge)
					return rejectTooLarge()
				}
				return nil
			}
			changed += n
		}
	}

	g.metrics.Add(MetricSanitizedFields, uint64(changed))
	return nil
}

func sanitizeBody(r *http.Request, mt string) (int, error) {
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(buf), failedBody{err: err}), Closer: r.Body}
		return 0, err
	}

	if mt == mediaJSON {
		cleaned, n, err := sanitize.CleanJSON(buf)
		if err != nil || n == 0 {
			setBody(r, buf)
			return 0, nil
		}
		setBody(r, cleaned)
		return n, nil
	}

	form, err := url.ParseQuery(string(buf))
	if err != nil {
		setBody(r, buf)
		return 0, nil
	}
	cleaned, n := sanitize.Clean(sanitize.FromValues(form))
	if n == 0 {
		setBody(r, buf)
		return 0, nil
	}
	setBody(r, []byte(sanitize.ToValues(cleaned).Encode()))
	return n, nil
}
