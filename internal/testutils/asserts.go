package testutils

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// AssertDiff fails the test with a -want +got diff when the values differ.
func AssertDiff(t *testing.T, want, got interface{}, opts ...cmp.Option) {
	t.Helper()

	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
