package mocks

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// FakeRunner records every command and answers from canned side effects.
// Commands are matched on "name arg1 arg2" prefixes.
type FakeRunner struct {
	mu sync.Mutex
	// Cmds holds every executed command line in order.
	Cmds [][]string
	// Missing lists tools LookPath should not find.
	Missing []string
	// SideEffect, when set, decides the result of a Run call.
	SideEffect func(command string, args ...string) ([]byte, error)
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

func (r *FakeRunner) Run(command string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.Cmds = append(r.Cmds, append([]string{command}, args...))
	effect := r.SideEffect
	r.mu.Unlock()
	if effect != nil {
		return effect(command, args...)
	}
	return []byte{}, nil
}

func (r *FakeRunner) LookPath(file string) (string, error) {
	for _, m := range r.Missing {
		if m == file {
			return "", errors.New("executable file not found in $PATH")
		}
	}
	return fmt.Sprintf("/usr/bin/%s", file), nil
}

// Ran reports whether a command line starting with the given prefix was executed.
func (r *FakeRunner) Ran(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.Cmds {
		if strings.HasPrefix(strings.Join(c, " "), prefix) {
			return true
		}
	}
	return false
}

func (r *FakeRunner) ClearCmds() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Cmds = [][]string{}
}
