package ffbuild

import (
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// logicalCPUs returns the host's logical CPU count as the kernel reports it,
// which is what the native build systems are given as their job count.
func logicalCPUs() int {
	out, err := exec.Command("sysctl", "-n", "hw.logicalcpu").Output()
	if err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(out))); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

// nativeArch maps the Go runtime architecture to the Apple name.
func nativeArch() string {
	switch hostArch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "arm64"
	}
	return hostArch
}
