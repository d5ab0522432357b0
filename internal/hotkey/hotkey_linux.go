//go:build linux

package hotkey

/*
#cgo pkg-config: x11
#include <X11/Xlib.h>
#include <X11/XKBlib.h>
#include <X11/keysym.h>
#include <stdlib.h>

Display* displayPtr = NULL;

// NumLock and CapsLock must not break the grab.
static unsigned int lockMasks[4] = {0, LockMask, Mod2Mask, LockMask | Mod2Mask};

int openDisplay() {
    if (displayPtr == NULL) {
        displayPtr = XOpenDisplay(NULL);
        if (displayPtr != NULL) {
            // Held keys report repeated presses instead of release/press pairs.
            XkbSetDetectableAutoRepeat(displayPtr, True, NULL);
        }
    }
    return displayPtr != NULL;
}

int keycodeFor(const char* name) {
    KeySym sym = XStringToKeysym(name);
    if (sym == NoSymbol) return 0;
    return XKeysymToKeycode(displayPtr, sym);
}

int grabKey(int keycode, unsigned int modifiers) {
    if (displayPtr == NULL) return 0;

    Window root = DefaultRootWindow(displayPtr);
    for (int i = 0; i < 4; i++) {
        XGrabKey(displayPtr, keycode, modifiers | lockMasks[i], root, False, GrabModeAsync, GrabModeAsync);
    }
    XSelectInput(displayPtr, root, KeyPressMask | KeyReleaseMask);
    XSync(displayPtr, False);

    return 1;
}

void ungrabKey(int keycode, unsigned int modifiers) {
    if (displayPtr == NULL) return;

    Window root = DefaultRootWindow(displayPtr);
    for (int i = 0; i < 4; i++) {
        XUngrabKey(displayPtr, keycode, modifiers | lockMasks[i], root);
    }
    XSync(displayPtr, False);
}

int checkEvent(int* keycode, int* pressed) {
    if (displayPtr == NULL) return 0;

    XEvent event;
    if (XPending(displayPtr) > 0) {
        XNextEvent(displayPtr, &event);
        if (event.type == KeyPress || event.type == KeyRelease) {
            *keycode = event.xkey.keycode;
            *pressed = (event.type == KeyPress) ? 1 : 0;
            return 1;
        }
    }
    return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

const (
	shiftMask   = 1 << 0
	controlMask = 1 << 2
	mod1Mask    = 1 << 3 // Alt
	mod4Mask    = 1 << 6 // Super
)

type binding struct {
	keycode   int
	modifiers uint
	callback  func(bool)
	state     edge
}

type linuxManager struct {
	mu       sync.Mutex
	bindings map[string]*binding
	stop     chan struct{}
	once     sync.Once
}

// New creates a new Linux hotkey manager using X11
func New() (Manager, error) {
	if C.openDisplay() == 0 {
		return nil, fmt.Errorf("failed to open X display")
	}
	mgr := &linuxManager{
		bindings: make(map[string]*binding),
		stop:     make(chan struct{}),
	}

	go mgr.eventLoop()

	return mgr, nil
}

func x11Modifiers(m Modifier) uint {
	var out uint
	if m&ModShift != 0 {
		out |= shiftMask
	}
	if m&ModCtrl != 0 {
		out |= controlMask
	}
	if m&ModAlt != 0 {
		out |= mod1Mask
	}
	if m&ModSuper != 0 {
		out |= mod4Mask
	}
	return out
}

func (m *linuxManager) Register(accel string, callback func(pressed bool)) error {
	a, err := ParseAccelerator(accel)
	if err != nil {
		return err
	}

	name := C.CString(a.Key)
	defer C.free(unsafe.Pointer(name))
	keycode := int(C.keycodeFor(name))
	if keycode == 0 {
		return fmt.Errorf("no keycode for %s", a.Key)
	}
	modifiers := x11Modifiers(a.Mods)

	if C.grabKey(C.int(keycode), C.uint(modifiers)) == 0 {
		return fmt.Errorf("failed to grab key %s", a)
	}

	m.mu.Lock()
	m.bindings[a.String()] = &binding{keycode: keycode, modifiers: modifiers, callback: callback}
	m.mu.Unlock()
	return nil
}

func (m *linuxManager) eventLoop() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			var keycode, pressed C.int
			for C.checkEvent(&keycode, &pressed) != 0 {
				m.dispatch(int(keycode), pressed == 1)
			}
		}
	}
}

func (m *linuxManager) dispatch(keycode int, pressed bool) {
	m.mu.Lock()
	var fire []func(bool)
	for _, b := range m.bindings {
		if b.keycode == keycode && b.state.update(pressed) {
			fire = append(fire, b.callback)
		}
	}
	m.mu.Unlock()
	for _, cb := range fire {
		cb(pressed)
	}
}

func (m *linuxManager) Unregister(accel string) error {
	a, err := ParseAccelerator(accel)
	if err != nil {
		return err
	}
	m.mu.Lock()
	b, ok := m.bindings[a.String()]
	delete(m.bindings, a.String())
	m.mu.Unlock()
	if ok {
		C.ungrabKey(C.int(b.keycode), C.uint(b.modifiers))
	}
	return nil
}

func (m *linuxManager) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}
