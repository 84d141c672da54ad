package router

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gitserve/authz"
	"gitserve/objectstore"
	"gitserve/repoactor"
)

func newTestServer(t *testing.T) (*Server, *authz.SQLiteAuthZ) {
	t.Helper()
	reposDir := t.TempDir()
	registry := repoactor.NewRegistry(func(owner, repo string) (objectstore.Store, error) {
		return objectstore.NewFS(filepath.Join(reposDir, owner, repo))
	})
	az, err := authz.NewSQLiteAuthZ(filepath.Join(t.TempDir(), "authz.db"), []byte("secret"))
	require.NoError(t, err)
	require.NoError(t, az.RegisterRepo("alice", "demo", true))
	return New(registry, az), az
}

func TestInfoRefsPublicUploadPack(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/alice/demo/info/refs?service=git-upload-pack", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "version 2")
}

func TestInfoRefsPrivateRequiresAuth(t *testing.T) {
	srv, az := newTestServer(t)
	require.NoError(t, az.RegisterRepo("alice", "secret", false))

	req := httptest.NewRequest("GET", "/alice/secret/info/refs?service=git-upload-pack", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, 401, rec.Code)
}

func TestInfoRefsUnknownRepoIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/alice/ghost/info/refs?service=git-upload-pack", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, 404, rec.Code)
}
