//go:build !darwin

package permissions

// Other platforms gate microphone access at the device level, so opening
// the device is the permission check.
func microphoneState() State {
	return Granted
}

func requestMicrophone() {}

// EnsurePermissions is a no-op on non-macOS platforms.
func EnsurePermissions() error {
	return nil
}
