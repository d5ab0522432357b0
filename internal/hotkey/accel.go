package hotkey

import (
	"fmt"
	"strings"
)

// Modifier is a bit set of modifier keys.
type Modifier uint8

const (
	ModShift Modifier = 1 << iota
	ModCtrl
	ModAlt
	ModSuper
)

// Accelerator is a parsed key combination such as "Ctrl+Shift+R".
type Accelerator struct {
	Mods Modifier
	// Key is the canonical key name: "Space", "A".."Z", "0".."9", "F1".."F12"
	// and a few named keys.
	Key string
}

var modifierNames = map[string]Modifier{
	"shift":   ModShift,
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"alt":     ModAlt,
	"option":  ModAlt,
	"opt":     ModAlt,
	"super":   ModSuper,
	"cmd":     ModSuper,
	"command": ModSuper,
	"meta":    ModSuper,
	"win":     ModSuper,
}

var namedKeys = map[string]string{
	"space":     "Space",
	"tab":       "Tab",
	"enter":     "Return",
	"return":    "Return",
	"escape":    "Escape",
	"esc":       "Escape",
	"backspace": "BackSpace",
	"insert":    "Insert",
	"delete":    "Delete",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Prior",
	"pagedown":  "Next",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"pause":     "Pause",
}

// ParseAccelerator parses strings like "Alt+Space" or "ctrl+shift+f9".
// Exactly one non-modifier key is required.
func ParseAccelerator(s string) (Accelerator, error) {
	var a Accelerator
	parts := strings.Split(s, "+")
	for i, raw := range parts {
		p := strings.ToLower(strings.TrimSpace(raw))
		if p == "" {
			return Accelerator{}, fmt.Errorf("invalid hotkey %q: empty key", s)
		}
		if m, ok := modifierNames[p]; ok && i < len(parts)-1 {
			a.Mods |= m
			continue
		}
		if i != len(parts)-1 {
			return Accelerator{}, fmt.Errorf("invalid hotkey %q: %q is not a modifier", s, raw)
		}
		key, err := canonicalKey(p)
		if err != nil {
			return Accelerator{}, fmt.Errorf("invalid hotkey %q: %w", s, err)
		}
		a.Key = key
	}
	return a, nil
}

func canonicalKey(p string) (string, error) {
	if k, ok := namedKeys[p]; ok {
		return k, nil
	}
	if len(p) == 1 && (p[0] >= 'a' && p[0] <= 'z' || p[0] >= '0' && p[0] <= '9') {
		return strings.ToUpper(p), nil
	}
	if len(p) >= 2 && p[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(p[1:], "%d", &n); err == nil && n >= 1 && n <= 12 && fmt.Sprint(n) == p[1:] {
			return fmt.Sprintf("F%d", n), nil
		}
	}
	return "", fmt.Errorf("unknown key %q", p)
}

func (a Accelerator) String() string {
	var parts []string
	for _, m := range []struct {
		mod  Modifier
		name string
	}{{ModCtrl, "Ctrl"}, {ModAlt, "Alt"}, {ModShift, "Shift"}, {ModSuper, "Super"}} {
		if a.Mods&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(append(parts, a.Key), "+")
}

// edge filters repeated key events so callbacks only see state changes.
type edge struct {
	pressed bool
}

func (e *edge) update(pressed bool) bool {
	if e.pressed == pressed {
		return false
	}
	e.pressed = pressed
	return true
}
