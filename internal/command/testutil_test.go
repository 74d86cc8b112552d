package command

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/adamavenir/histkeep/internal/core"
	"github.com/adamavenir/histkeep/internal/db"
)

// remotePage is how many message ids the fake remote covers per request.
const remotePage = 50

// fakeRemote is an in-memory history service. Every message id exists, so a
// range request is answered with one page starting at its low bound.
type fakeRemote struct {
	mu          sync.Mutex
	rangeStatus int
	media       map[string][]byte
	mediaCalls  map[string]int
	rangeCalls  int
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	remote := &fakeRemote{media: map[string][]byte{}, mediaCalls: map[string]int{}}
	server := httptest.NewServer(remote)
	t.Cleanup(server.Close)
	t.Setenv(core.EnvRemoteURL, server.URL)
	return remote
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/v1/history/range":
		f.rangeCalls++
		if f.rangeStatus != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.rangeStatus)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_range"})
			return
		}
		f.serveRange(w, r)
	case strings.HasPrefix(r.URL.Path, "/v1/media/"):
		id := strings.TrimPrefix(r.URL.Path, "/v1/media/")
		f.mediaCalls[id]++
		data, ok := f.media[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRemote) serveRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	low, _ := strconv.ParseInt(q.Get("low_id"), 10, 64)
	high, _ := strconv.ParseInt(q.Get("high_id"), 10, 64)
	covered := min(low+remotePage, high)

	messages := []map[string]any{}
	for id := max(low, 1); id < covered; id++ {
		messages = append(messages, map[string]any{
			"message_id": id,
			"author":     "ana",
			"body":       "message " + strconv.FormatInt(id, 10),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"messages": messages,
		"actual_range": map[string]any{
			"low":  map[string]any{"message_id": low},
			"high": map[string]any{"message_id": covered},
		},
	})
}

func (f *fakeRemote) setRangeStatus(status int) {
	f.mu.Lock()
	f.rangeStatus = status
	f.mu.Unlock()
}

func (f *fakeRemote) addMedia(id string, data []byte) {
	f.mu.Lock()
	f.media[id] = data
	f.mu.Unlock()
}

func (f *fakeRemote) mediaCallCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mediaCalls[id]
}

// setupProject initializes a project in a temp dir and returns the dir.
func setupProject(t *testing.T) string {
	t.Helper()
	t.Setenv(core.EnvRemoteURL, "")
	t.Setenv(core.EnvToken, "")
	dir := t.TempDir()
	if output, err := executeCommand(NewRootCmd("test"), "init", "--project", dir); err != nil {
		t.Fatalf("init: %v (%s)", err, output)
	}
	return dir
}

// openTestContext builds the context a command would get for dir.
func openTestContext(t *testing.T, dir string) *CommandContext {
	t.Helper()
	project, err := core.DiscoverProject(dir)
	if err != nil {
		t.Fatalf("discover project: %v", err)
	}
	config, err := core.ReadProjectConfig(project)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	conn, err := db.OpenDatabase(project)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.InitSchema(conn); err != nil {
		_ = conn.Close()
		t.Fatalf("init schema: %v", err)
	}
	cc := &CommandContext{DB: conn, Store: db.NewStore(conn), Project: project, Config: config}
	t.Cleanup(cc.Close)
	return cc
}
