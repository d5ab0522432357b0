package permissions

import (
	"context"
	"time"
)

// State is the microphone permission as reported by the OS.
type State string

const (
	Granted State = "granted"
	Denied  State = "denied"
	Prompt  State = "prompt"
)

// pollInterval is how often a pending request is re-checked.
const pollInterval = 250 * time.Millisecond

// System is the OS microphone permission. The zero value is ready to use.
type System struct{}

// State returns the current microphone permission without prompting.
func (System) State() State {
	return microphoneState()
}

// Request shows the OS permission prompt if needed and waits until the user
// answers or ctx is done.
func (System) Request(ctx context.Context) (State, error) {
	if s := microphoneState(); s != Prompt {
		return s, nil
	}
	requestMicrophone()

	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return Prompt, ctx.Err()
		case <-t.C:
			if s := microphoneState(); s != Prompt {
				return s, nil
			}
		}
	}
}
