//go:build go1.23

package traceutils

import (
	"net/http"
	"strings"
)

// TraceName names a request trace after the mux pattern that matched it,
// falling back to the method and path.
func TraceName(r *http.Request) string {
	if r.Pattern != "" {
		// Patterns registered without a method get the request method.
		if parts := strings.SplitN(r.Pattern, " ", 2); len(parts) == 1 {
			return r.Method + " " + r.Pattern
		}

		return r.Pattern
	}

	return r.Method + " " + r.URL.Path
}
