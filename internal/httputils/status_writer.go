// Package httputils holds net/http helpers shared by the middleware
// packages.
package httputils

import (
	"net/http"
)

// StatusWriter records the status code and size of a response.
type StatusWriter struct {
	http.ResponseWriter

	status      int
	bytes       int
	wroteHeader bool
}

func NewStatusWriter(w http.ResponseWriter) *StatusWriter {
	return &StatusWriter{ResponseWriter: w}
}

func (w *StatusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Status returns the status sent to the client, 0 if nothing was written.
func (w *StatusWriter) Status() int {
	return w.status
}

func (w *StatusWriter) BytesWritten() int {
	return w.bytes
}

// Flush implements http.Flusher when the wrapped writer does.
func (w *StatusWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the original writer.
func (w *StatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
