package app

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// Fingerprint describes this client in the form
// "holdtosend/<version> (<platform> <platform version>; <os>/<arch>)".
func Fingerprint(version string) string {
	info, err := host.Info()
	if err != nil || info == nil {
		return fmt.Sprintf("holdtosend/%s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
	}
	return formatFingerprint(version, info.Platform, info.PlatformVersion, info.OS, info.KernelArch)
}

func formatFingerprint(version, platform, platformVersion, osName, arch string) string {
	if osName == "" {
		osName = runtime.GOOS
	}
	if arch == "" {
		arch = runtime.GOARCH
	}
	desc := strings.TrimSpace(platform + " " + platformVersion)
	if desc == "" {
		return fmt.Sprintf("holdtosend/%s (%s/%s)", version, osName, arch)
	}
	return fmt.Sprintf("holdtosend/%s (%s; %s/%s)", version, desc, osName, arch)
}
