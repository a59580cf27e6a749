// Package http includes shared HTTP handlers and utilities.
package http

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ReadAllAndReplaceBody reads all of r.Body and replaces it with a new byte buffer.
func ReadAllAndReplaceBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return b, err
	}
	defer r.Body.Close()
	r.Body = io.NopCloser(bytes.NewBuffer(b))
	return b, nil
}

// DumpHandler outputs the body of the request to output.
func DumpHandler(next http.Handler, output io.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := ReadAllAndReplaceBody(r)
		output.Write(append(body, '\n'))
		next.ServeHTTP(w, r)
	}
}

// SetRetryAfter sets the Retry-After header from a duration, in whole
// seconds, rounding sub-second hints up so a hint never becomes zero.
func SetRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int64((d + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
}
