//go:build !windows

package beacon

import (
	"bytes"
	"runtime"

	"golang.org/x/sys/unix"
)

func osInfo() OSInfo {
	info := OSInfo{Name: runtime.GOOS, Arch: runtime.GOARCH}

	var name unix.Utsname
	if err := unix.Uname(&name); err != nil {
		return info
	}

	info.Version = cString(name.Release[:])
	info.KernelVersion = cString(name.Version[:])
	return info
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
