package config

import "strings"

// Pauses halts customer commands per module. Remote callbacks and alarms
// are still processed so operations in flight can settle.
type Pauses struct {
	Lease      bool `toml:"Lease" yaml:"lease"`
	TimeAlarms bool `toml:"TimeAlarms" yaml:"time_alarms"`
}

// IsPaused reports whether the named module is paused.
func (p Pauses) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "lease":
		return p.Lease
	case "timealarms":
		return p.TimeAlarms
	default:
		return false
	}
}
