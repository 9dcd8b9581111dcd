package screenshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveFullAndThumb(t *testing.T) {
	t.Parallel()

	store, err := New(filepath.Join(t.TempDir(), "shots"))
	require.NoError(t, err)

	refs, err := store.Save("a1b2c3d4", "after", []byte("full-bytes"), []byte("thumb-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4_after.jpg", refs.Full)
	assert.Equal(t, "a1b2c3d4_after_thumb.jpg", refs.Thumb)

	data, err := os.ReadFile(store.Path(refs.Full))
	require.NoError(t, err)
	assert.Equal(t, []byte("full-bytes"), data)

	data, err = os.ReadFile(store.Path(refs.Thumb))
	require.NoError(t, err)
	assert.Equal(t, []byte("thumb-bytes"), data)
}

func TestSaveWithoutThumb(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	refs, err := store.Save("w1", "initial", []byte("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, "w1_initial.jpg", refs.Full)
	assert.Empty(t, refs.Thumb)
}
