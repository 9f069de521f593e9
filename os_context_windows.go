//go:build windows

package beacon

import "runtime"

func osInfo() OSInfo {
	return OSInfo{Name: runtime.GOOS, Arch: runtime.GOARCH}
}
