package secrets

import (
	"testing"

	"github.com/lucli-dev/lucli/internal/lucerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, passphrase string) *Store {
	t.Helper()
	home := t.TempDir()
	s := New(home, StaticPassphrase(passphrase))
	require.NoError(t, s.Init(false))
	return s
}

func TestSetThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t, "correct horse")

	require.NoError(t, s.Set("db.password", "hunter2", "database password"))
	got, err := s.Get("db.password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestGetWithWrongPassphraseFails(t *testing.T) {
	home := t.TempDir()
	writer := New(home, StaticPassphrase("right"))
	require.NoError(t, writer.Init(false))
	require.NoError(t, writer.Set("k", "v", ""))

	reader := New(home, StaticPassphrase("wrong"))
	_, err := reader.Get("k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "passphrase may be incorrect")
}

func TestGetUnknownNameIsNotFound(t *testing.T) {
	s := newTestStore(t, "p")
	_, err := s.Get("absent")
	require.Error(t, err)
	assert.Equal(t, lucerr.KindSecretNotFound, lucerr.KindOf(err))
}

func TestSetPreservesCreatedAtOnUpdate(t *testing.T) {
	s := newTestStore(t, "p")
	require.NoError(t, s.Set("k", "v1", "desc"))

	list1, err := s.List()
	require.NoError(t, err)
	require.Len(t, list1, 1)
	firstCreated := list1[0].CreatedAt

	require.NoError(t, s.Set("k", "v2", "desc"))
	list2, err := s.List()
	require.NoError(t, err)
	require.Len(t, list2, 1)
	assert.Equal(t, firstCreated, list2[0].CreatedAt)
}

func TestListNeverIncludesValues(t *testing.T) {
	s := newTestStore(t, "p")
	require.NoError(t, s.Set("k", "super-secret-value", "d"))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "k", list[0].Name)
	assert.Equal(t, "d", list[0].Description)
}

func TestDeleteRemovesSecret(t *testing.T) {
	s := newTestStore(t, "p")
	require.NoError(t, s.Set("k", "v", ""))
	require.NoError(t, s.Delete("k"))

	_, err := s.Get("k")
	assert.Equal(t, lucerr.KindSecretNotFound, lucerr.KindOf(err))
}

func TestDeleteUnknownNameIsNotFound(t *testing.T) {
	s := newTestStore(t, "p")
	err := s.Delete("absent")
	assert.Equal(t, lucerr.KindSecretNotFound, lucerr.KindOf(err))
}

func TestGetWithoutInitIsLocked(t *testing.T) {
	home := t.TempDir()
	s := New(home, StaticPassphrase("p"))
	_, err := s.Get("k")
	require.Error(t, err)
	assert.Equal(t, lucerr.KindSecretStoreLocked, lucerr.KindOf(err))
}

func TestResolveSecretImplementsConfigInterface(t *testing.T) {
	s := newTestStore(t, "p")
	require.NoError(t, s.Set("db.password", "hunter2", ""))

	got, err := s.ResolveSecret("db.password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}
