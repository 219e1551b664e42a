package middleware

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/hemoline/authgate"
)

type statusWriter struct {
	http.ResponseWriter
	status      int
	code        string
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type rejectionBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const codeInternal = "INTERNAL_ERROR"

// reject writes err as a JSON rejection. Errors that are not gate rejections
// become a bare 500.
func reject(w http.ResponseWriter, err error) {
	var rej *authgate.Rejection
	if !errors.As(err, &rej) {
		rej = &authgate.Rejection{Status: http.StatusInternalServerError, Code: codeInternal, Message: "Internal server error"}
	}
	if sw, ok := w.(*statusWriter); ok {
		sw.code = rej.Code
	}
	if rej.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rej.RetryAfter.Seconds()))))
	}
	writeJSON(w, rej.Status, rejectionBody{Success: false, Code: rej.Code, Message: rej.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
