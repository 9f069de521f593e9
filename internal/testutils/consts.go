package testutils

import (
	"os"
	"time"
)

func IsCI() bool {
	return os.Getenv("CI") != ""
}

// WaitTimeout bounds how long tests wait for background delivery.
func WaitTimeout() time.Duration {
	if IsCI() {
		// CI is very overloaded so we need to allow for a long wait time.
		return 5 * time.Second
	}

	return time.Second
}

// Tick is the polling interval used with assert.Eventually.
const Tick = 5 * time.Millisecond
