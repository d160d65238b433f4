package secret

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfiguredValueWins(t *testing.T) {
	t.Setenv("LEASED_TEST_SECRET", "from-env")
	s := NewSource("LEASED_TEST_SECRET", "hmac secret")
	v, err := s.Get("from-config")
	require.NoError(t, err)
	require.Equal(t, "from-config", v)
}

func TestEnvironmentValue(t *testing.T) {
	t.Setenv("LEASED_TEST_SECRET", "from-env")
	v, err := NewSource("LEASED_TEST_SECRET", "hmac secret").Get("")
	require.NoError(t, err)
	require.Equal(t, "from-env", v)

	t.Setenv("LEASED_TEST_SECRET", "  ")
	_, err = NewSource("LEASED_TEST_SECRET", "hmac secret").Get("")
	require.Error(t, err)
}

func TestPromptsOnTerminal(t *testing.T) {
	var prompt bytes.Buffer
	s := NewSource("", "hmac secret")
	s.prompt = &prompt
	s.terminal = func(int) bool { return true }
	calls := 0
	s.read = func(int) ([]byte, error) {
		calls++
		return []byte("typed"), nil
	}
	for i := 0; i < 2; i++ {
		v, err := s.Get("")
		require.NoError(t, err)
		require.Equal(t, "typed", v)
	}
	require.Equal(t, 1, calls)
	require.Contains(t, prompt.String(), "Enter hmac secret")
}

func TestNoTerminal(t *testing.T) {
	s := NewSource("LEASED_UNSET_SECRET", "hmac secret")
	s.terminal = func(int) bool { return false }
	_, err := s.Get("")
	require.True(t, errors.Is(err, ErrUnavailable))
}
