package common

import "errors"

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Switch is a concrete PauseView backed by an in-memory set. The zero value
// pauses nothing.
type Switch struct {
	paused map[string]bool
}

func NewSwitch() *Switch {
	return &Switch{paused: make(map[string]bool)}
}

func (s *Switch) SetPaused(module string, paused bool) {
	if s == nil {
		return
	}
	if s.paused == nil {
		s.paused = make(map[string]bool)
	}
	s.paused[module] = paused
}

func (s *Switch) IsPaused(module string) bool {
	if s == nil || s.paused == nil {
		return false
	}
	return s.paused[module]
}
