package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// Module names recognised by the pause switch.
const (
	ModuleLease      = "lease"
	ModuleTimeAlarms = "timealarms"
)

type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects commands addressed to a paused module. Callbacks carrying
// remote outcomes are not guarded so in-flight operations can still settle.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a static PauseView.
type PauseSet map[string]bool

func (s PauseSet) IsPaused(module string) bool { return s[module] }
