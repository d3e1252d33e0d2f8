package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/agentic-research/photoman/api"
)

func TestMemory_ListAndFetch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory().
		AddFolder(api.RootID, "d1", "Pics").
		AddFile(api.RootID, "f1", "a.jpg", "image/jpeg", []byte("jpeg"))

	items, err := m.List(ctx, api.RootID)
	require.NoError(t, err)
	assert.Equal(t, []api.RemoteItem{
		{RemoteID: "d1", Name: "Pics", Kind: api.FolderKind},
		{RemoteID: "f1", Name: "a.jpg", Kind: "image/jpeg"},
	}, items)
	assert.True(t, items[0].IsDir())

	rc, err := m.Fetch(ctx, "f1")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(b))

	_, err = m.Fetch(ctx, "nope")
	assert.ErrorIs(t, err, ErrRemote)

	assert.Equal(t, 1, m.Lists(api.RootID))
	assert.Equal(t, 1, m.Fetches("f1"))
	assert.Equal(t, 3, m.Calls())
}

func TestMemory_Fail(t *testing.T) {
	boom := errors.New("503")
	m := NewMemory().AddFolder(api.RootID, "d1", "Pics")
	m.Fail(api.RootID, boom)

	_, err := m.List(context.Background(), api.RootID)
	assert.ErrorIs(t, err, ErrRemote)
	assert.ErrorIs(t, err, boom)

	m.Fail(api.RootID, nil)
	_, err = m.List(context.Background(), api.RootID)
	assert.NoError(t, err)
}

func TestOffline(t *testing.T) {
	var r Remote = Offline{}

	_, err := r.List(context.Background(), api.RootID)
	assert.ErrorIs(t, err, ErrRemote)
	assert.ErrorIs(t, err, ErrOffline)

	_, err = Instrument(r).Fetch(context.Background(), "f1")
	assert.ErrorIs(t, err, ErrRemote)
}

func TestParentsQuery(t *testing.T) {
	assert.Equal(t, "'root' in parents and trashed = false", parentsQuery("root"))
	assert.Equal(t, `'a\'b' in parents and trashed = false`, parentsQuery("a'b"))
}

// driveServer fakes the two Drive v3 endpoints the adapter uses.
func driveServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "'root' in parents and trashed = false", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("pageToken") {
		case "":
			_, _ = io.WriteString(w, `{"nextPageToken":"p2","files":[{"id":"d1","name":"Pics","mimeType":"application/vnd.google-apps.folder"}]}`)
		case "p2":
			_, _ = io.WriteString(w, `{"files":[{"id":"f1","name":"a.jpg","mimeType":"image/jpeg"}]}`)
		default:
			http.Error(w, "bad token", http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/files/f1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		_, _ = io.WriteString(w, "raw-bytes")
	})
	mux.HandleFunc("/files/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":404,"message":"File not found"}}`, http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestDrive(t *testing.T) *GoogleDrive {
	t.Helper()
	srv := driveServer(t)
	g, err := NewGoogleDrive(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return g
}

func TestGoogleDrive_ListFollowsPages(t *testing.T) {
	g := newTestDrive(t)
	items, err := g.List(context.Background(), api.RootID)
	require.NoError(t, err)
	assert.Equal(t, []api.RemoteItem{
		{RemoteID: "d1", Name: "Pics", Kind: api.FolderKind},
		{RemoteID: "f1", Name: "a.jpg", Kind: "image/jpeg"},
	}, items)
}

func TestGoogleDrive_Fetch(t *testing.T) {
	g := newTestDrive(t)

	rc, err := g.Fetch(context.Background(), "f1")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "raw-bytes", string(b))

	_, err = g.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRemote)
}

func TestReadToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")
	b, err := json.Marshal(map[string]string{"access_token": "abc", "token_type": "Bearer", "refresh_token": "r"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))

	tok, err := ReadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)

	_, err = ReadToken(filepath.Join(dir, "absent.json"))
	assert.ErrorIs(t, err, ErrRemote)
}

func TestHTTPClient(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.json")
	token := filepath.Join(dir, "token.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{"installed":{
		"client_id":"id","client_secret":"secret",
		"auth_uri":"https://accounts.google.com/o/oauth2/auth",
		"token_uri":"https://oauth2.googleapis.com/token",
		"redirect_uris":["http://localhost"]}}`), 0o600))
	require.NoError(t, os.WriteFile(token, []byte(`{"access_token":"abc","token_type":"Bearer"}`), 0o600))

	c, err := HTTPClient(context.Background(), creds, token)
	require.NoError(t, err)
	assert.NotNil(t, c)

	require.NoError(t, os.WriteFile(creds, []byte(`not json`), 0o600))
	_, err = HTTPClient(context.Background(), creds, token)
	assert.ErrorIs(t, err, ErrRemote)
}
