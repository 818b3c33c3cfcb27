// Package testutil holds shared fixtures for tests that need a running
// backend.
package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if OPSDESK_TEST_SKIP_NETWORK is set or the
// run is -short. Use it for tests that open TCP listeners, which may not be
// available in sandboxed environments.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("OPSDESK_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: OPSDESK_TEST_SKIP_NETWORK is set")
	}
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
}
