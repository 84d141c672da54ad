package authz

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAuthZ(t *testing.T) *SQLiteAuthZ {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authz.db")
	a, err := NewSQLiteAuthZ(path, []byte("test-secret"))
	require.NoError(t, err)
	return a
}

func TestPublicRepoAllowsAnonymousRead(t *testing.T) {
	a := newTestAuthZ(t)
	require.NoError(t, a.RegisterRepo("alice", "demo", true))
	err := a.Check(context.Background(), "alice", "demo", OpRead, Credentials{})
	require.NoError(t, err)
}

func TestPrivateRepoRejectsWriteWithoutGrant(t *testing.T) {
	a := newTestAuthZ(t)
	require.NoError(t, a.RegisterRepo("alice", "demo", false))
	userID, err := a.CreateUser("bob", "hunter2")
	require.NoError(t, err)
	_ = userID

	err = a.Check(context.Background(), "alice", "demo", OpWrite, Credentials{Username: "bob", Password: "hunter2"})
	require.Error(t, err)
}

func TestGrantedWriterCanPush(t *testing.T) {
	a := newTestAuthZ(t)
	require.NoError(t, a.RegisterRepo("alice", "demo", false))
	userID, err := a.CreateUser("bob", "hunter2")
	require.NoError(t, err)
	require.NoError(t, a.GrantWriter("alice", "demo", userID))

	err = a.Check(context.Background(), "alice", "demo", OpWrite, Credentials{Username: "bob", Password: "hunter2"})
	require.NoError(t, err)
}

func TestJWTAsBasicPassword(t *testing.T) {
	a := newTestAuthZ(t)
	require.NoError(t, a.RegisterRepo("alice", "demo", false))
	userID, err := a.CreateUser("bob", "hunter2")
	require.NoError(t, err)
	require.NoError(t, a.GrantWriter("alice", "demo", userID))

	token, err := a.IssueToken(userID)
	require.NoError(t, err)

	err = a.Check(context.Background(), "alice", "demo", OpWrite, Credentials{Username: "bob", Password: token})
	require.NoError(t, err)
}

func TestUnknownRepoReportsNotFound(t *testing.T) {
	a := newTestAuthZ(t)
	err := a.Check(context.Background(), "ghost", "nope", OpRead, Credentials{})
	require.Error(t, err)
}
