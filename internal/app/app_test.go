package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/config"
	"cardsync-go/internal/event"
	"cardsync-go/internal/remote"
	"cardsync-go/internal/session"
	"cardsync-go/internal/testutil"
)

// fakeBackend is a minimal remote backend that records every request path.
type fakeBackend struct {
	mu       sync.Mutex
	failWith int // when set, every request answers with this status
	paths    []string
	bodies   map[string][]byte
	bindings map[string]remote.CardBinding
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{bodies: make(map[string][]byte), bindings: make(map[string]remote.CardBinding)}
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var body bytes.Buffer
	body.ReadFrom(r.Body)
	b.paths = append(b.paths, r.URL.Path)
	b.bodies[r.URL.Path] = body.Bytes()

	if b.failWith != 0 {
		w.WriteHeader(b.failWith)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == remote.EndpointSessionStart:
		json.NewEncoder(w).Encode(remote.SessionStartResponse{RemoteSessionID: "remote-1"})
	case r.URL.Path == remote.EndpointActiveEvent:
		json.NewEncoder(w).Encode(remote.ActiveEvent{ID: "event-7", Name: "Regatta"})
	case r.URL.Path == remote.EndpointCardBind:
		var req remote.CardBindingRequest
		json.Unmarshal(body.Bytes(), &req)
		json.NewEncoder(w).Encode(remote.CardBinding{RemoteCardID: "rc-" + req.CardID, CardID: req.CardID, CameraNumber: req.CameraNumber, CardLabel: req.CardLabel})
	case strings.HasPrefix(r.URL.Path, "/api/cards/"):
		cb, ok := b.bindings[strings.TrimPrefix(r.URL.Path, "/api/cards/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(cb)
	default:
		w.Write([]byte(`{}`))
	}
}

func (b *fakeBackend) setFailWith(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = status
}

func (b *fakeBackend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.paths {
		if p == path {
			n++
		}
	}
	return n
}

func (b *fakeBackend) body(path string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[path]
}

func newTestConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		AgentID:    "agent-test",
		BaseDir:    base,
		LogDir:     filepath.Join(base, "log"),
		StateDir:   filepath.Join(base, "state"),
		Database:   config.DatabaseConfig{Type: "memory"},
		Remote:     config.RemoteConfig{BaseURL: baseURL},
		Queue:      config.QueueConfig{Type: "memory"},
		Vaults:     []config.VaultConfig{{Type: "memory", Name: "test"}},
		Encryption: config.EncryptionConfig{Type: "test"},
		Backup:     config.BackupConfig{Destination: filepath.Join(base, "backup")},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestAgent(t *testing.T, cfg *config.Config) *Agent {
	t.Helper()
	a, err := newAgent(cfg, "Test", "", deps{
		clock:  testutil.FixedClock(),
		idgen:  testutil.NewStubIDGenerator(),
		logger: agent.NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("newAgent() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// newCard writes two clips and a sidecar file onto a fake card.
func newCard(t *testing.T) string {
	t.Helper()
	mount := t.TempDir()
	testutil.WriteFile(t, filepath.Join(mount, "DCIM", "C0001.MP4"), []byte("first clip"))
	testutil.WriteFile(t, filepath.Join(mount, "DCIM", "C0002.MP4"), []byte("second clip, longer"))
	testutil.WriteFile(t, filepath.Join(mount, "DCIM", "C0001.XML"), []byte("<meta/>"))
	return mount
}

func TestAgent_InsertionOnline(t *testing.T) {
	backend := newFakeBackend()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	a := newTestAgent(t, newTestConfig(t, srv.URL))
	mount := newCard(t)

	sess, outcome, err := a.HandleInsertion(context.Background(), "CARD-A", mount)
	if err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}
	if outcome != session.Started {
		t.Fatalf("outcome = %v, want Started", outcome)
	}

	t.Run("remote session attached", func(t *testing.T) {
		if sess.RemoteSyncStatus != agent.RemoteStarted {
			t.Errorf("RemoteSyncStatus = %q, want %q", sess.RemoteSyncStatus, agent.RemoteStarted)
		}
		if sess.RemoteSessionID != "remote-1" {
			t.Errorf("RemoteSessionID = %q, want remote-1", sess.RemoteSessionID)
		}
		var req remote.SessionStartRequest
		if err := json.Unmarshal(backend.body(remote.EndpointSessionStart), &req); err != nil {
			t.Fatalf("decoding session start: %v", err)
		}
		if req.FileCount != 2 || req.EventID != "event-7" {
			t.Errorf("session start = %+v, want 2 files in event-7", req)
		}
	})

	t.Run("media batch sent", func(t *testing.T) {
		var req remote.MediaBatchRequest
		if err := json.Unmarshal(backend.body(remote.EndpointMediaBatch), &req); err != nil {
			t.Fatalf("decoding media batch: %v", err)
		}
		if len(req.Items) != 2 {
			t.Fatalf("media batch items = %d, want 2", len(req.Items))
		}
		for _, it := range req.Items {
			if it.Duplicate {
				t.Errorf("item %s marked duplicate on first sighting", it.RelativePath)
			}
		}
	})

	t.Run("dedup index updated", func(t *testing.T) {
		res, err := a.CheckDuplicate(filepath.Join(mount, "DCIM", "C0001.MP4"))
		if err != nil {
			t.Fatalf("CheckDuplicate() error = %v", err)
		}
		if res.Record == nil {
			t.Fatal("CheckDuplicate() found no record")
		}
		if res.Record.SessionID != sess.ID || res.Record.EventID != "event-7" {
			t.Errorf("record = %+v, want session %s event-7", res.Record, sess.ID)
		}
	})

	t.Run("manifest archived", func(t *testing.T) {
		var buf bytes.Buffer
		if err := a.ShowManifest(sess.ID, "", &buf); err != nil {
			t.Fatalf("ShowManifest() error = %v", err)
		}
		var snap agent.Snapshot
		if err := json.Unmarshal(buf.Bytes(), &snap); err != nil {
			t.Fatalf("decoding manifest: %v", err)
		}
		if snap.SessionID != sess.ID || snap.FileCount != 2 {
			t.Errorf("manifest = session %s with %d files, want %s with 2", snap.SessionID, snap.FileCount, sess.ID)
		}
	})

	t.Run("nothing queued", func(t *testing.T) {
		if items := a.QueueItems(); len(items) != 0 {
			t.Errorf("queue has %d items, want 0", len(items))
		}
	})
}

func TestAgent_InsertionQueuedThenDrained(t *testing.T) {
	backend := newFakeBackend()
	backend.setFailWith(http.StatusServiceUnavailable)
	srv := httptest.NewServer(backend)
	defer srv.Close()

	a := newTestAgent(t, newTestConfig(t, srv.URL))
	mount := newCard(t)

	sess, _, err := a.HandleInsertion(context.Background(), "CARD-A", mount)
	if err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}
	if sess.RemoteSyncStatus != agent.RemoteQueuedOffline {
		t.Fatalf("RemoteSyncStatus = %q, want %q", sess.RemoteSyncStatus, agent.RemoteQueuedOffline)
	}
	items := a.QueueItems()
	if len(items) != 1 || items[0].Endpoint != remote.EndpointSessionStart {
		t.Fatalf("queue = %+v, want one session start", items)
	}
	if items[0].IdempotencyKey() == "" {
		t.Error("queued item has no idempotency key")
	}

	// Not confirmed yet, so the footage must not be in the index.
	res, err := a.CheckDuplicate(filepath.Join(mount, "DCIM", "C0001.MP4"))
	if err != nil {
		t.Fatalf("CheckDuplicate() error = %v", err)
	}
	if res.Record != nil {
		t.Fatalf("dedup record present before confirmation: %+v", res.Record)
	}

	backend.setFailWith(0)
	dr, err := a.DrainQueue(context.Background())
	if err != nil {
		t.Fatalf("DrainQueue() error = %v", err)
	}
	if dr.Succeeded != 1 || dr.Remaining != 0 {
		t.Errorf("DrainQueue() = %+v, want 1 succeeded, 0 remaining", dr)
	}

	cur := a.Status().Session
	if cur.RemoteSyncStatus != agent.RemoteStarted || cur.RemoteSessionID != "remote-1" {
		t.Errorf("session after drain = %s/%q, want started/remote-1", cur.RemoteSyncStatus, cur.RemoteSessionID)
	}
	res, err = a.CheckDuplicate(filepath.Join(mount, "DCIM", "C0001.MP4"))
	if err != nil {
		t.Fatalf("CheckDuplicate() error = %v", err)
	}
	if res.Record == nil {
		t.Error("dedup record missing after confirmation")
	}
	if backend.count(remote.EndpointMediaBatch) != 1 {
		t.Errorf("media batch sent %d times, want 1", backend.count(remote.EndpointMediaBatch))
	}
}

func TestAgent_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := newTestAgent(t, newTestConfig(t, url))

	sess, _, err := a.HandleInsertion(context.Background(), "CARD-A", newCard(t))
	if err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}
	if sess.RemoteSyncStatus != agent.RemoteQueuedOffline {
		t.Errorf("RemoteSyncStatus = %q, want %q", sess.RemoteSyncStatus, agent.RemoteQueuedOffline)
	}
	if a.Status().Online {
		t.Error("Status().Online = true after transport failure")
	}

	dr, err := a.DrainQueue(context.Background())
	if err != nil {
		t.Fatalf("DrainQueue() error = %v", err)
	}
	if dr.Processed != 0 {
		t.Errorf("DrainQueue() processed %d items while offline", dr.Processed)
	}
}

func TestAgent_Removal(t *testing.T) {
	backend := newFakeBackend()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	a := newTestAgent(t, newTestConfig(t, srv.URL))
	if _, _, err := a.HandleInsertion(context.Background(), "CARD-A", newCard(t)); err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}

	t.Run("other card ignored", func(t *testing.T) {
		sess, err := a.HandleRemoval(context.Background(), "CARD-B")
		if err != nil {
			t.Fatalf("HandleRemoval() error = %v", err)
		}
		if sess != nil {
			t.Errorf("HandleRemoval() = %+v, want nil", sess)
		}
	})

	t.Run("active card", func(t *testing.T) {
		sess, err := a.HandleRemoval(context.Background(), "CARD-A")
		if err != nil {
			t.Fatalf("HandleRemoval() error = %v", err)
		}
		if sess == nil || sess.Status != agent.SessionRemoved {
			t.Fatalf("HandleRemoval() = %+v, want removed session", sess)
		}
		if backend.count(remote.EndpointSessionEnd) != 1 {
			t.Errorf("session end sent %d times, want 1", backend.count(remote.EndpointSessionEnd))
		}
		if backend.count(remote.EndpointSessionProgress) != 1 {
			t.Errorf("progress sent %d times, want 1", backend.count(remote.EndpointSessionProgress))
		}
	})

	t.Run("reinsertion resumes", func(t *testing.T) {
		mount := newCard(t)
		sess, outcome, err := a.HandleInsertion(context.Background(), "CARD-A", mount)
		if err != nil {
			t.Fatalf("HandleInsertion() error = %v", err)
		}
		if outcome != session.Resumed {
			t.Errorf("outcome = %v, want Resumed", outcome)
		}
		if sess.MountPath != mount {
			t.Errorf("MountPath = %q, want %q", sess.MountPath, mount)
		}
		if backend.count(remote.EndpointSessionStart) != 1 {
			t.Errorf("session start sent %d times, want 1", backend.count(remote.EndpointSessionStart))
		}
	})
}

func TestAgent_Overlap(t *testing.T) {
	a := newTestAgent(t, newTestConfig(t, ""))

	first, _, err := a.HandleInsertion(context.Background(), "CARD-A", newCard(t))
	if err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}
	_, outcome, err := a.HandleInsertion(context.Background(), "CARD-B", newCard(t))
	if err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}
	if outcome != session.Overlap {
		t.Errorf("outcome = %v, want Overlap", outcome)
	}
	if cur := a.Status().Session; cur.ID != first.ID || cur.CardID != "CARD-A" {
		t.Errorf("current session = %s/%s, want %s/CARD-A", cur.ID, cur.CardID, first.ID)
	}
}

func TestAgent_Backup(t *testing.T) {
	cfg := newTestConfig(t, "")
	a := newTestAgent(t, cfg)

	t.Run("no session", func(t *testing.T) {
		if err := a.StartBackup(context.Background(), ""); !errors.Is(err, agent.ErrNoActiveSession) {
			t.Errorf("StartBackup() error = %v, want ErrNoActiveSession", err)
		}
	})

	sess, _, err := a.HandleInsertion(context.Background(), "CARD-A", newCard(t))
	if err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}

	if err := a.StartBackup(context.Background(), ""); err != nil {
		t.Fatalf("StartBackup() error = %v", err)
	}
	a.WaitBackup()

	dest := BackupDestination(cfg.Backup.Destination, sess)
	for _, name := range []string{"C0001.MP4", "C0002.MP4"} {
		if _, err := os.Stat(filepath.Join(dest, "DCIM", name)); err != nil {
			t.Errorf("backup copy of %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dest, "DCIM", "C0001.XML")); !os.IsNotExist(err) {
		t.Errorf("sidecar file was backed up, stat error = %v", err)
	}

	state, err := a.BackupState(sess.ID)
	if err != nil {
		t.Fatalf("BackupState() error = %v", err)
	}
	if state == nil || len(state.Completed) != 2 || len(state.Failed) != 0 {
		t.Errorf("BackupState() = %+v, want 2 completed and none failed", state)
	}
}

func TestAgent_BindCard(t *testing.T) {
	backend := newFakeBackend()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	a := newTestAgent(t, newTestConfig(t, srv.URL))

	if _, _, err := a.BindCard(context.Background(), 2, "B"); !errors.Is(err, agent.ErrNoActiveSession) {
		t.Errorf("BindCard() without session error = %v, want ErrNoActiveSession", err)
	}

	if _, _, err := a.HandleInsertion(context.Background(), "CARD-A", newCard(t)); err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}
	sess, outcome, err := a.BindCard(context.Background(), 2, "B")
	if err != nil {
		t.Fatalf("BindCard() error = %v", err)
	}
	if outcome != remote.Sent {
		t.Errorf("outcome = %v, want Sent", outcome)
	}
	want := agent.Binding{CameraNumber: 2, CardLabel: "B", RemoteCardID: "rc-CARD-A"}
	if sess.Binding == nil || *sess.Binding != want {
		t.Errorf("Binding = %+v, want %+v", sess.Binding, want)
	}
}

func TestAgent_KnownBindingApplied(t *testing.T) {
	backend := newFakeBackend()
	backend.bindings["CARD-A"] = remote.CardBinding{RemoteCardID: "rc-9", CardID: "CARD-A", CameraNumber: 3, CardLabel: "C"}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	a := newTestAgent(t, newTestConfig(t, srv.URL))
	sess, _, err := a.HandleInsertion(context.Background(), "CARD-A", newCard(t))
	if err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}
	if sess.Binding == nil || sess.Binding.CameraNumber != 3 || sess.Binding.RemoteCardID != "rc-9" {
		t.Errorf("Binding = %+v, want camera 3 rc-9", sess.Binding)
	}
}

func TestAgent_StateDirLocked(t *testing.T) {
	cfg := newTestConfig(t, "")
	newTestAgent(t, cfg)

	_, err := newAgent(cfg, "Second", "", deps{
		clock:  testutil.FixedClock(),
		idgen:  testutil.NewStubIDGenerator(),
		logger: agent.NewNopLogger(),
	})
	if !errors.Is(err, agent.ErrLocked) {
		t.Errorf("second newAgent() error = %v, want ErrLocked", err)
	}
}

func TestAgent_SessionSurvivesRestart(t *testing.T) {
	cfg := newTestConfig(t, "")
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(cfg.BaseDir, "db")}
	cfg.Queue.Type = "file"

	d := deps{clock: testutil.FixedClock(), idgen: testutil.NewStubIDGenerator(), logger: agent.NewNopLogger()}
	first, err := newAgent(cfg, "First", "", d)
	if err != nil {
		t.Fatalf("newAgent() error = %v", err)
	}
	sess, _, err := first.HandleInsertion(context.Background(), "CARD-A", newCard(t))
	if err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := newTestAgent(t, cfg)
	st := second.Status()
	if st.Session == nil || st.Session.ID != sess.ID {
		t.Fatalf("restored session = %+v, want %s", st.Session, sess.ID)
	}
	if st.Pending != 2 {
		t.Errorf("Pending = %d, want 2 from the restored snapshot", st.Pending)
	}
}

func TestAgent_ConfirmedAfterRemoval(t *testing.T) {
	backend := newFakeBackend()
	backend.setFailWith(http.StatusServiceUnavailable)
	srv := httptest.NewServer(backend)
	defer srv.Close()

	a := newTestAgent(t, newTestConfig(t, srv.URL))
	mount := newCard(t)
	clip := filepath.Join(mount, "DCIM", "C0001.MP4")

	sess, _, err := a.HandleInsertion(context.Background(), "CARD-A", mount)
	if err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}
	if _, err := a.HandleRemoval(context.Background(), "CARD-A"); err != nil {
		t.Fatalf("HandleRemoval() error = %v", err)
	}

	backend.setFailWith(0)
	dr, err := a.DrainQueue(context.Background())
	if err != nil {
		t.Fatalf("DrainQueue() error = %v", err)
	}
	if dr.Failed != 0 || dr.Remaining != 0 {
		t.Errorf("DrainQueue() = %+v, want everything delivered", dr)
	}

	res, err := a.CheckDuplicate(clip)
	if err != nil {
		t.Fatalf("CheckDuplicate() error = %v", err)
	}
	if res.Record == nil || res.Record.SessionID != sess.ID {
		t.Fatalf("dedup record = %+v, want one for session %s", res.Record, sess.ID)
	}
	if backend.count(remote.EndpointMediaBatch) != 1 {
		t.Errorf("media batch sent %d times, want 1", backend.count(remote.EndpointMediaBatch))
	}

	starts := backend.count(remote.EndpointSessionStart)
	resumed, outcome, err := a.HandleInsertion(context.Background(), "CARD-A", mount)
	if err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}
	if outcome != session.Resumed {
		t.Fatalf("outcome = %v, want Resumed", outcome)
	}
	if resumed.RemoteSyncStatus != agent.RemoteStarted || resumed.RemoteSessionID != "remote-1" {
		t.Errorf("resumed session = %s/%q, want started/remote-1", resumed.RemoteSyncStatus, resumed.RemoteSessionID)
	}
	if n := backend.count(remote.EndpointSessionStart); n != starts {
		t.Errorf("resume sent %d more session starts, want 0", n-starts)
	}
}

func TestAgent_ProgressSurvivesReinsertion(t *testing.T) {
	backend := newFakeBackend()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := newTestConfig(t, srv.URL)
	watched := t.TempDir()
	cfg.Watch.Folders = []string{watched}
	a := newTestAgent(t, cfg)
	mount := newCard(t)

	if _, _, err := a.HandleInsertion(context.Background(), "CARD-A", mount); err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}
	copyPath := filepath.Join(watched, "C0001.MP4")
	testutil.WriteFile(t, copyPath, []byte("first clip"))
	a.observer.HandleCreate(copyPath)
	if c, p := a.SessionProgress(); c != 1 || p != 1 {
		t.Fatalf("SessionProgress() before removal = %d, %d; want 1, 1", c, p)
	}

	if _, err := a.HandleRemoval(context.Background(), "CARD-A"); err != nil {
		t.Fatalf("HandleRemoval() error = %v", err)
	}
	var progress remote.SessionProgressRequest
	if err := json.Unmarshal(backend.body(remote.EndpointSessionProgress), &progress); err != nil {
		t.Fatalf("decoding progress: %v", err)
	}
	if progress.FilesCopied != 1 || progress.FilesPending != 1 {
		t.Errorf("final progress = %d/%d, want 1/1", progress.FilesCopied, progress.FilesPending)
	}

	if _, _, err := a.HandleInsertion(context.Background(), "CARD-A", mount); err != nil {
		t.Fatalf("HandleInsertion() error = %v", err)
	}
	if c, p := a.SessionProgress(); c != 1 || p != 1 {
		t.Errorf("SessionProgress() after resume = %d, %d; want 1, 1", c, p)
	}
}

func TestAgent_SnapshotFileErrorReported(t *testing.T) {
	backend := newFakeBackend()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	a := newTestAgent(t, newTestConfig(t, srv.URL))

	a.handleEvent(context.Background(), event.Event{Type: event.SnapshotError, SessionID: "s1", Reason: "walk_failed"})
	if n := backend.count(remote.EndpointIssues); n != 0 {
		t.Fatalf("issues sent = %d for a snapshot without a file, want 0", n)
	}

	a.handleEvent(context.Background(), event.Event{Type: event.SnapshotError, SessionID: "s1", Path: "DCIM/C0002.MP4", Reason: "fingerprint_failed"})
	var issue remote.IssueReport
	if err := json.Unmarshal(backend.body(remote.EndpointIssues), &issue); err != nil {
		t.Fatalf("decoding issue: %v", err)
	}
	if issue.Kind != "snapshot_file_error" || issue.Path != "DCIM/C0002.MP4" || issue.SessionID != "s1" {
		t.Errorf("issue = %+v, want snapshot_file_error for DCIM/C0002.MP4", issue)
	}
}
