//go:build !go1.23

package traceutils

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceName(t *testing.T) {
	got := TraceName(&http.Request{Method: "GET", URL: &url.URL{Path: "/users"}})
	assert.Equal(t, "GET /users", got)
}
