package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordLifecycle(t *testing.T) {
	t.Parallel()
	s := New(keyring.NewArrayKeyring(nil))

	_, err := s.Password("work")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetPassword("work", "hunter2"))
	require.NoError(t, s.SetPassword("home", "correct horse"))

	got, err := s.Password("work")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	require.NoError(t, s.SetPassword("work", "rotated"))
	got, err = s.Password("work")
	require.NoError(t, err)
	assert.Equal(t, "rotated", got)

	require.NoError(t, s.DeletePassword("work"))
	require.NoError(t, s.DeletePassword("work"), "deleting twice is allowed")
	_, err = s.Password("work")
	require.ErrorIs(t, err, ErrNotFound)

	got, err = s.Password("home")
	require.NoError(t, err)
	assert.Equal(t, "correct horse", got)
}
