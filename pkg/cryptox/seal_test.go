package cryptox_test

import (
	"testing"

	"github.com/aussiebroadwan/sessionkit/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	t.Parallel()

	s, err := cryptox.NewSealer([]byte("test-session-secret"), "session-cookie")
	require.NoError(t, err)

	msg := []byte(`{"sid":"01HQ7T3Z1MZ0JQ3M6MZQ1FQ3ZV"}`)

	sealed1, err := s.Seal(msg)
	require.NoError(t, err)
	sealed2, err := s.Seal(msg)
	require.NoError(t, err)
	require.NotEqual(t, sealed1, sealed2, "fresh nonce per seal")

	opened, err := s.Open(sealed1)
	require.NoError(t, err)
	require.Equal(t, msg, opened)
}

func TestSealStringRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := cryptox.NewSealer([]byte("test-session-secret"), "session-cookie")
	require.NoError(t, err)

	out, err := s.SealString([]byte("hello"))
	require.NoError(t, err)
	require.NotContains(t, out, "=")

	opened, err := s.OpenString(out)
	require.NoError(t, err)
	require.Equal(t, "hello", string(opened))
}

func TestOpenRejects(t *testing.T) {
	t.Parallel()

	s, err := cryptox.NewSealer([]byte("secret-a"), "session-cookie")
	require.NoError(t, err)
	other, err := cryptox.NewSealer([]byte("secret-b"), "session-cookie")
	require.NoError(t, err)
	otherInfo, err := cryptox.NewSealer([]byte("secret-a"), "oauth-state")
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := other.Open(sealed)
		require.ErrorIs(t, err, cryptox.ErrOpen)
	})

	t.Run("wrong info", func(t *testing.T) {
		_, err := otherInfo.Open(sealed)
		require.ErrorIs(t, err, cryptox.ErrOpen)
	})

	t.Run("tampered", func(t *testing.T) {
		bad := append([]byte(nil), sealed...)
		bad[len(bad)-1] ^= 0xff
		_, err := s.Open(bad)
		require.ErrorIs(t, err, cryptox.ErrOpen)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := s.Open([]byte("short"))
		require.ErrorIs(t, err, cryptox.ErrMalformed)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := s.OpenString("***")
		require.ErrorIs(t, err, cryptox.ErrMalformed)
	})
}

func TestNewSealerEmptySecret(t *testing.T) {
	t.Parallel()

	_, err := cryptox.NewSealer(nil, "x")
	require.ErrorIs(t, err, cryptox.ErrEmptySecret)
}
