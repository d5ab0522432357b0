//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation -framework Cocoa
#import <AVFoundation/AVFoundation.h>
#import <Cocoa/Cocoa.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}

int checkAccessibilityPermission() {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

import "fmt"

// AVAuthorizationStatus values
const (
	statusNotDetermined = 0
	statusRestricted    = 1
	statusDenied        = 2
	statusAuthorized    = 3
)

func microphoneState() State {
	switch int(C.checkMicrophonePermission()) {
	case statusAuthorized:
		return Granted
	case statusNotDetermined:
		return Prompt
	default:
		return Denied
	}
}

func requestMicrophone() {
	C.requestMicrophonePermission()
}

// EnsurePermissions checks the accessibility permission needed for the
// global hotkey. Microphone access is requested lazily on first press.
func EnsurePermissions() error {
	if C.checkAccessibilityPermission() != 1 {
		fmt.Println("⚠️  Accessibility permission required for hotkeys")
		fmt.Println("   Go to: System Settings → Privacy & Security → Accessibility")
		return fmt.Errorf("accessibility permission not granted")
	}
	return nil
}
