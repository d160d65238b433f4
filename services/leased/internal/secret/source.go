// Package secret resolves operator secrets from the environment or, on a
// terminal, by prompting.
package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

var ErrUnavailable = errors.New("secret required and no terminal available")

// Source lazily resolves one secret. The value is cached after the first
// successful retrieval.
type Source struct {
	envVar string
	label  string

	in       *os.File
	prompt   io.Writer
	terminal func(fd int) bool
	read     func(fd int) ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting for label on stderr.
func NewSource(envVar, label string) *Source {
	return &Source{
		envVar:   strings.TrimSpace(envVar),
		label:    label,
		in:       os.Stdin,
		prompt:   os.Stderr,
		terminal: term.IsTerminal,
		read:     term.ReadPassword,
	}
}

// Get returns the secret. A configured value wins over the environment and
// whitespace-only secrets are rejected.
func (s *Source) Get(configured string) (string, error) {
	s.once.Do(func() {
		if strings.TrimSpace(configured) != "" {
			s.value = configured
			return
		}
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		fd := int(s.in.Fd())
		if !s.terminal(fd) {
			if s.envVar != "" {
				s.err = fmt.Errorf("%w: set %s or run interactively", ErrUnavailable, s.envVar)
			} else {
				s.err = ErrUnavailable
			}
			return
		}

		fmt.Fprintf(s.prompt, "Enter %s: ", s.label)
		bytes, err := s.read(fd)
		fmt.Fprintln(s.prompt)
		if err != nil {
			s.err = fmt.Errorf("failed to read %s: %w", s.label, err)
			return
		}
		if strings.TrimSpace(string(bytes)) == "" {
			s.err = fmt.Errorf("%s cannot be empty", s.label)
			return
		}
		s.value = string(bytes)
	})
	return s.value, s.err
}
