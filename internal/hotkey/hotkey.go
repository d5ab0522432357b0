package hotkey

// Manager binds global accelerators such as "Ctrl+Shift+Space". The
// callback sees one pressed=true when the chord goes down and one
// pressed=false when it is released; key repeat is filtered out.
type Manager interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
	Close() error
}
