package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loupe"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	}
	return dir
}

var repoFiles = map[string]string{
	"app/a.go": `package app

func Helper() int {
	return 1
}
`,
	"app/b.go": `package app

func Driver() int {
	return Helper()
}
`,
}

func newTestRegistry(t *testing.T, files map[string]string) (*Registry, *Repo) {
	t.Helper()
	reg := NewRegistry(discardLogger())
	repo, err := reg.Add(context.Background(), "demo", writeRepo(t, files))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Remove("demo") })
	return reg, repo
}

func TestRegistry_AddGetRemove(t *testing.T) {
	reg, repo := newTestRegistry(t, repoFiles)

	assert.Equal(t, "demo", repo.Name)
	assert.Equal(t, StatusReady, repo.Status())
	assert.EqualValues(t, 1, repo.Engine().Version())
	assert.Equal(t, []string{"demo"}, reg.Names())

	got, ok := reg.Get("demo")
	require.True(t, ok)
	assert.Same(t, repo, got)

	_, err := reg.Add(context.Background(), "demo", repo.Root)
	assert.Error(t, err, "duplicate names are rejected")

	require.NoError(t, reg.Remove("demo"))
	_, ok = reg.Get("demo")
	assert.False(t, ok)
	assert.Error(t, reg.Remove("demo"))
}

func TestDispatch_Search(t *testing.T) {
	_, repo := newTestRegistry(t, repoFiles)

	raw, _ := json.Marshal(queryParams{Term: "helper"})
	result, err := dispatch(context.Background(), repo, "search", raw)
	require.NoError(t, err)

	hits, ok := result.([]*loupe.Symbol)
	require.True(t, ok)
	require.Len(t, hits, 1)
	assert.Equal(t, "app.Helper", hits[0].QualifiedName)
}

func TestDispatch_GetSymbolErrors(t *testing.T) {
	_, repo := newTestRegistry(t, repoFiles)
	ctx := context.Background()

	_, err := dispatch(ctx, repo, "get_symbol", nil)
	var de *dispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeInvalidArgument, de.code)

	raw, _ := json.Marshal(queryParams{Query: "app.Nothing"})
	_, err = dispatch(ctx, repo, "get_symbol", raw)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeNotFound, de.code)
}

func TestDispatch_AmbiguousCode(t *testing.T) {
	_, repo := newTestRegistry(t, map[string]string{
		"app/x.go": "package app\n\nfunc Dup() int {\n\treturn 1\n}\n",
		"app/y.go": "package app\n\nfunc Dup() int {\n\treturn 2\n}\n",
	})

	raw, _ := json.Marshal(queryParams{Query: "app.Dup"})
	_, err := dispatch(context.Background(), repo, "get_symbol", raw)
	var de *dispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeAmbiguous, de.code)
}

func TestDispatch_Callgraph(t *testing.T) {
	_, repo := newTestRegistry(t, repoFiles)

	raw, _ := json.Marshal(queryParams{Query: "app.Driver"})
	result, err := dispatch(context.Background(), repo, "get_callgraph", raw)
	require.NoError(t, err)

	g, ok := result.(*loupe.CallGraph)
	require.True(t, ok)
	assert.Len(t, g.Nodes, 2)
}

func TestDispatch_Overview(t *testing.T) {
	_, repo := newTestRegistry(t, repoFiles)

	result, err := dispatch(context.Background(), repo, "overview", nil)
	require.NoError(t, err)

	ov, ok := result.(*loupe.Overview)
	require.True(t, ok)
	assert.Equal(t, 2, ov.Files)
}

func TestDispatch_UnknownMethod(t *testing.T) {
	_, repo := newTestRegistry(t, repoFiles)

	_, err := dispatch(context.Background(), repo, "bogus", nil)
	var de *dispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeInvalidArgument, de.code)
	assert.Contains(t, de.msg, "bogus")
}

func dialWS(t *testing.T, reg *Registry) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewServer(reg, discardLogger()).Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) Outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var out Outbound
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func send(t *testing.T, conn *websocket.Conn, in Inbound) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(in))
}

func TestServer_PingPong(t *testing.T) {
	reg, _ := newTestRegistry(t, repoFiles)
	conn := dialWS(t, reg)

	send(t, conn, Inbound{Type: MsgPing})
	out := readMsg(t, conn)
	assert.Equal(t, MsgPong, out.Type)
}

func TestServer_SubscribeAndQuery(t *testing.T) {
	reg, _ := newTestRegistry(t, repoFiles)
	conn := dialWS(t, reg)

	send(t, conn, Inbound{Type: MsgSubscribe, Repo: "demo"})
	out := readMsg(t, conn)
	assert.Equal(t, MsgSubscribed, out.Type)
	assert.Equal(t, "demo", out.Repo)
	assert.Equal(t, StatusReady, out.Status)
	assert.EqualValues(t, 1, out.Version)

	params, _ := json.Marshal(queryParams{Term: "driver"})
	send(t, conn, Inbound{Type: MsgQuery, Repo: "demo", ID: "q1", Method: "search", Params: params})
	out = readMsg(t, conn)
	assert.Equal(t, MsgResponse, out.Type)
	assert.Equal(t, "q1", out.ID)
	assert.NotNil(t, out.Result)

	send(t, conn, Inbound{Type: MsgUnsubscribe, Repo: "demo"})
	out = readMsg(t, conn)
	assert.Equal(t, MsgUnsubscribed, out.Type)
}

func TestServer_UnknownRepo(t *testing.T) {
	reg, _ := newTestRegistry(t, repoFiles)
	conn := dialWS(t, reg)

	send(t, conn, Inbound{Type: MsgQuery, Repo: "nope", ID: "q1", Method: "overview"})
	out := readMsg(t, conn)
	assert.Equal(t, MsgError, out.Type)
	assert.Equal(t, CodeNotFound, out.Code)
	assert.Equal(t, "q1", out.ID)
}

func TestServer_QueryErrorCarriesCode(t *testing.T) {
	reg, _ := newTestRegistry(t, repoFiles)
	conn := dialWS(t, reg)

	params, _ := json.Marshal(queryParams{Query: "app.Nothing"})
	send(t, conn, Inbound{Type: MsgQuery, Repo: "demo", ID: "q2", Method: "get_symbol", Params: params})
	out := readMsg(t, conn)
	assert.Equal(t, MsgError, out.Type)
	assert.Equal(t, CodeNotFound, out.Code)
}

func recvUpdate(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "update channel closed")
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no update received")
		return Update{}
	}
}

func TestRepo_UpdateFanoutToAllSubscribers(t *testing.T) {
	_, repo := newTestRegistry(t, repoFiles)
	ctx := context.Background()

	first, cancelFirst := repo.Subscribe()
	defer cancelFirst()
	second, cancelSecond := repo.Subscribe()
	defer cancelSecond()

	path := filepath.Join(repo.Root, "app", "c.go")
	require.NoError(t, os.WriteFile(path, []byte("package app\n\nfunc Extra() {}\n"), 0o644))
	_, err := repo.Analyze(ctx, []string{"app/c.go"})
	require.NoError(t, err)

	u1 := recvUpdate(t, first)
	u2 := recvUpdate(t, second)
	assert.Equal(t, "demo", u1.Repo)
	assert.EqualValues(t, 2, u1.Version)
	assert.Equal(t, u1.Version, u2.Version, "every subscriber sees the same new version")
	assert.Contains(t, u1.ChangedFiles, "app/c.go")
	assert.Contains(t, u2.ChangedFiles, "app/c.go")

	// A later change never shows an earlier version to anyone.
	require.NoError(t, os.WriteFile(filepath.Join(repo.Root, "app", "d.go"),
		[]byte("package app\n\nfunc More() {}\n"), 0o644))
	_, err = repo.Analyze(ctx, []string{"app/d.go"})
	require.NoError(t, err)

	for _, ch := range []<-chan Update{first, second} {
		seen := u1.Version
		for {
			u := recvUpdate(t, ch)
			assert.GreaterOrEqual(t, u.Version, seen)
			seen = u.Version
			if u.Version >= 3 {
				break
			}
		}
	}
}

func TestRepo_CancelClosesUpdates(t *testing.T) {
	_, repo := newTestRegistry(t, repoFiles)

	updates, cancel := repo.Subscribe()
	cancel()

	_, ok := <-updates
	assert.False(t, ok, "cancel closes the update channel")
	cancel() // second cancel is a no-op
}

func TestRepo_SlowSubscriberKeepsNewest(t *testing.T) {
	_, repo := newTestRegistry(t, repoFiles)

	updates, cancel := repo.Subscribe()
	defer cancel()

	for i := 1; i <= 20; i++ {
		repo.broadcast(Update{Repo: repo.Name, Version: int64(i)})
	}

	var got []Update
drain:
	for {
		select {
		case u := <-updates:
			got = append(got, u)
		default:
			break drain
		}
	}

	require.Len(t, got, 16, "buffer keeps a full window")
	assert.EqualValues(t, 5, got[0].Version, "the oldest updates were evicted")
	assert.EqualValues(t, 20, got[len(got)-1].Version, "the newest update survives")
}

func TestWatcher_PushesIndexUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("filesystem watch test")
	}
	_, repo := newTestRegistry(t, repoFiles)

	updates, cancel := repo.Subscribe()
	defer cancel()

	path := filepath.Join(repo.Root, "app", "c.go")
	require.NoError(t, os.WriteFile(path, []byte("package app\n\nfunc Extra() {}\n"), 0o644))

	select {
	case u := <-updates:
		assert.Equal(t, "demo", u.Repo)
		assert.Contains(t, u.ChangedFiles, "app/c.go")
		assert.Greater(t, u.Version, int64(1))
	case <-time.After(5 * time.Second):
		t.Fatal("no index update after file change")
	}

	_, err := repo.Engine().Query().Symbol("app.Extra")
	assert.NoError(t, err)
}
