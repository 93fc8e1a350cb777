package core

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"operlog-client/lib/testutil"

	"github.com/stretchr/testify/require"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), ".token"))
	rndm := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		token := testutil.RandomString(rndm, testutil.TokenAlphabet, 1+rndm.Intn(300))
		err := store.Save(token)
		require.NoError(t, err)

		loaded, err := store.Load()
		require.NoError(t, err)
		require.Equal(t, token, loaded)
	}
}

func TestTokenStoreNotFound(t *testing.T) {
	dir := t.TempDir()
	store := NewFileTokenStore(filepath.Join(dir, ".token"))

	_, err := store.Load()
	require.ErrorIs(t, err, ErrTokenNotFound)

	err = os.WriteFile(store.Path, nil, 0600)
	require.NoError(t, err)
	_, err = store.Load()
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenStoreTrimsHandEditedFile(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), ".token"))

	err := os.WriteFile(store.Path, []byte("  abc.def-123\n"), 0600)
	require.NoError(t, err)
	token, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "abc.def-123", token)

	err = os.WriteFile(store.Path, []byte("\n\t \n"), 0600)
	require.NoError(t, err)
	_, err = store.Load()
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenStoreSaveOverwrites(t *testing.T) {
	dir := t.TempDir()
	store := NewFileTokenStore(filepath.Join(dir, ".token"))

	require.NoError(t, store.Save("a-much-longer-first-token"))
	require.NoError(t, store.Save("short"))

	contents, err := os.ReadFile(store.Path)
	require.NoError(t, err)
	require.Equal(t, "short", string(contents))

	info, err := os.Stat(store.Path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// no temporary files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestTokenStoreSaveFailure(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "missing", "dir", ".token"))
	err := store.Save("token")
	require.Error(t, err)
}
