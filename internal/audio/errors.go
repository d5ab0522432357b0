package audio

import "errors"

// ErrorKind classifies capture failures.
type ErrorKind string

const (
	PermissionDenied         ErrorKind = "permission_denied"
	DeviceNotFound           ErrorKind = "device_not_found"
	DeviceUnsupported        ErrorKind = "device_unsupported"
	DeviceBusy               ErrorKind = "device_busy"
	ConstraintsUnsatisfiable ErrorKind = "constraints_unsatisfiable"
	UnknownCaptureError      ErrorKind = "unknown_capture_error"
	NotInitialized           ErrorKind = "not_initialized"
	AlreadyCapturing         ErrorKind = "already_capturing"
	UnsupportedFormat        ErrorKind = "unsupported_format"
	NoActiveRecording        ErrorKind = "no_active_recording"
	EmptyRecording           ErrorKind = "empty_recording"
)

var messages = map[ErrorKind]string{
	PermissionDenied:         "Microphone access was denied. Allow microphone access and try again.",
	DeviceNotFound:           "No microphone was found. Connect a microphone and try again.",
	DeviceUnsupported:        "The microphone is not supported on this system.",
	DeviceBusy:               "The microphone is in use by another application.",
	ConstraintsUnsatisfiable: "The microphone does not support the required audio settings.",
	UnknownCaptureError:      "The microphone could not be opened.",
	NotInitialized:           "The microphone has not been initialized.",
	AlreadyCapturing:         "A recording is already in progress.",
	UnsupportedFormat:        "The selected audio format cannot be recorded on this system.",
	NoActiveRecording:        "There is no recording to stop.",
	EmptyRecording:           "The recording was too short; nothing was captured.",
}

// CaptureError is returned by Session and Device operations.
type CaptureError struct {
	Kind ErrorKind
	Err  error
}

// Error returns the user-facing message for the kind.
func (e *CaptureError) Error() string {
	msg, ok := messages[e.Kind]
	if !ok {
		msg = string(e.Kind)
	}
	return msg
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Is matches another CaptureError of the same kind, so callers can write
// errors.Is(err, audio.ErrEmptyRecording).
func (e *CaptureError) Is(target error) bool {
	t, ok := target.(*CaptureError)
	return ok && t.Err == nil && t.Kind == e.Kind
}

// Detail includes the underlying platform error, for logs.
func (e *CaptureError) Detail() string {
	if e.Err == nil {
		return e.Error()
	}
	return e.Error() + " (" + e.Err.Error() + ")"
}

func newError(kind ErrorKind, err error) *CaptureError {
	return &CaptureError{Kind: kind, Err: err}
}

// NewError builds a CaptureError; device backends use it to classify
// platform failures.
func NewError(kind ErrorKind, err error) error {
	return newError(kind, err)
}

var (
	ErrPermissionDenied         = &CaptureError{Kind: PermissionDenied}
	ErrDeviceNotFound           = &CaptureError{Kind: DeviceNotFound}
	ErrDeviceUnsupported        = &CaptureError{Kind: DeviceUnsupported}
	ErrDeviceBusy               = &CaptureError{Kind: DeviceBusy}
	ErrConstraintsUnsatisfiable = &CaptureError{Kind: ConstraintsUnsatisfiable}
	ErrUnknownCapture           = &CaptureError{Kind: UnknownCaptureError}
	ErrNotInitialized           = &CaptureError{Kind: NotInitialized}
	ErrAlreadyCapturing         = &CaptureError{Kind: AlreadyCapturing}
	ErrUnsupportedFormat        = &CaptureError{Kind: UnsupportedFormat}
	ErrNoActiveRecording        = &CaptureError{Kind: NoActiveRecording}
	ErrEmptyRecording           = &CaptureError{Kind: EmptyRecording}
)

// Classify wraps any device error that is not already a CaptureError as
// UnknownCaptureError.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *CaptureError
	if errors.As(err, &ce) {
		return err
	}
	return newError(UnknownCaptureError, err)
}
