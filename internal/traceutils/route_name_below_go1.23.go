//go:build !go1.23

package traceutils

import "net/http"

// TraceName names a request trace after its method and path.
func TraceName(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}
