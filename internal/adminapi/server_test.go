package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildwatch/internal/eventbus"
	"guildwatch/internal/notifier"
	"guildwatch/internal/storage"
	"guildwatch/internal/tenant"
	"guildwatch/internal/watch"
	"guildwatch/internal/watch/watchtest"
	logx "guildwatch/pkg/logx"
)

type fakeEngine struct {
	leases      []watch.LeaseInfo
	runErr      error
	validateErr error
	ran         watch.Key
	triggers    atomic.Int32
	reconciles  atomic.Int32
}

func (f *fakeEngine) Leases() []watch.LeaseInfo { return f.leases }
func (f *fakeEngine) LastReconcile() (watch.ReconcileReport, bool) {
	return watch.ReconcileReport{}, false
}
func (f *fakeEngine) Reconcile(context.Context) (watch.ReconcileReport, error) {
	f.reconciles.Add(1)
	return watch.ReconcileReport{Live: len(f.leases)}, nil
}
func (f *fakeEngine) RunOnce(_ context.Context, key watch.Key) (watch.CycleReport, error) {
	f.ran = key
	if f.runErr != nil {
		return watch.CycleReport{}, f.runErr
	}
	return watch.CycleReport{Key: key, Result: watch.ResultDelivered, FactID: "f1"}, nil
}
func (f *fakeEngine) Validate(t watch.Target) error {
	if err := watch.ValidateTarget(t); err != nil {
		return err
	}
	return f.validateErr
}
func (f *fakeEngine) Trigger() { f.triggers.Add(1) }

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, token string) (*httptest.Server, *fakeEngine, *storage.Memory) {
	t.Helper()
	eng := &fakeEngine{}
	mem := storage.NewMemory()
	s := New(Config{Token: token}, Deps{
		Engine:  eng,
		Cursors: mem,
		Targets: mem,
		Scores:  mem,
		History: func() []notifier.HistoryItem { return []notifier.HistoryItem{{Key: "g/k/e", FactID: "f"}} },
		Log:     logx.Nop(),
		Now:     func() time.Time { return fixedNow },
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, eng, mem
}

func do(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, "s3cret")

	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/healthz", "", "").StatusCode)
	require.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/v1/leases", "", "").StatusCode)
	require.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/v1/leases", "wrong", "").StatusCode)
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/v1/leases", "s3cret", "").StatusCode)
}

func TestPutAndDeleteTarget(t *testing.T) {
	srv, eng, mem := newTestServer(t, "")
	ctx := context.Background()
	key := watch.Key{TenantID: "g1", Kind: watch.KindVideo, EntityKey: "UC123"}

	resp := do(t, http.MethodPut, srv.URL+"/v1/tenants/g1/targets/video-watch/UC123", "",
		`{"interval":"5m","channel_id":-100,"thread_id":4}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, eng.triggers.Load())

	recs, err := mem.ListTargets(ctx, watch.KindVideo)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, key, recs[0].Key)
	require.True(t, recs[0].Enabled)
	require.Equal(t, 5*time.Minute, recs[0].Interval)

	resp = do(t, http.MethodGet, srv.URL+"/v1/tenants/g1/targets", "", "")
	var listed []storage.TargetRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed, 1)

	require.NoError(t, mem.AdvanceCursor(ctx, key, "v9", fixedNow))
	resp = do(t, http.MethodDelete, srv.URL+"/v1/tenants/g1/targets/video-watch/UC123", "", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.EqualValues(t, 1, eng.triggers.Load())
	require.EqualValues(t, 1, eng.reconciles.Load())

	_, found, err := mem.GetCursor(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
	recs, _ = mem.ListTargets(ctx, watch.KindVideo)
	require.Empty(t, recs)
}

func TestPutTargetRejectsBadInput(t *testing.T) {
	srv, eng, _ := newTestServer(t, "")
	cases := map[string]string{
		"/v1/tenants/g1/targets/nope/x":         `{"interval":"5m","channel_id":1}`,
		"/v1/tenants/g1/targets/video-watch/x": `{"interval":"soon","channel_id":1}`,
		"/v1/tenants/g1/targets/sports-watch/y": `{"interval":"5m"}`,
		"/v1/tenants/g1/targets/social-watch/z": `{"interval":"5m","channel_id":1,"bogus":true}`,
	}
	for path, body := range cases {
		resp := do(t, http.MethodPut, srv.URL+path, "", body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
	require.Zero(t, eng.triggers.Load())

	// disabled rows skip destination checks
	resp := do(t, http.MethodPut, srv.URL+"/v1/tenants/g1/targets/sports-watch/y", "", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	eng.validateErr = &watch.ConfigError{Field: "time", Msg: "want HH:MM"}
	resp = do(t, http.MethodPut, srv.URL+"/v1/tenants/g1/targets/reminder/standup", "",
		`{"interval":"1m","channel_id":1,"settings":{"time":"25:99"}}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.EqualValues(t, 1, eng.triggers.Load())
}

func TestDeleteKeepsCursorWhileLeaseLive(t *testing.T) {
	srv, eng, mem := newTestServer(t, "")
	ctx := context.Background()
	key := watch.Key{TenantID: "g1", Kind: watch.KindVideo, EntityKey: "UC1"}
	eng.leases = []watch.LeaseInfo{{Key: key}}
	require.NoError(t, mem.AdvanceCursor(ctx, key, "v1", fixedNow))

	resp := do(t, http.MethodDelete, srv.URL+"/v1/tenants/g1/targets/video-watch/UC1", "", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_, found, err := mem.GetCursor(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
}

// A cycle held in flight while its target is deleted must not bring the
// cursor back or deliver.
func TestDeleteRevokesLeaseBeforeDroppingCursor(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	key := watch.Key{TenantID: "g1", Kind: watch.KindVideo, EntityKey: "UC1"}
	require.NoError(t, mem.PutTarget(ctx, storage.TargetRecord{
		Key: key, Enabled: true, Interval: time.Minute,
		Destination: watch.Destination{ChannelID: 1},
	}))
	require.NoError(t, mem.AdvanceCursor(ctx, key, "v1", fixedNow))

	bus := eventbus.New()
	events, unsub := bus.Subscribe(256)
	defer unsub()
	src := watchtest.NewSource()
	src.SetFact(key, watch.Fact{ID: "v2"})
	release := src.Hold()
	defer release()
	notif := &watchtest.Notifier{}
	eng := watch.New(watch.Config{ReconcileEvery: 24 * time.Hour}, watch.Deps{
		Store:    mem,
		Provider: tenant.NewStore(mem, logx.Nop()),
		Clock:    watchtest.NewClock(fixedNow),
		Bus:      bus,
	})
	require.NoError(t, eng.Register(watch.Feature{Kind: watch.KindVideo, Source: src, Notifier: notif}))
	require.NoError(t, eng.Start(ctx))
	defer func() { _ = eng.Stop(ctx) }()

	_, err := eng.Reconcile(ctx)
	require.NoError(t, err)
	select {
	case <-src.Entered:
	case <-time.After(3 * time.Second):
		t.Fatal("cycle never started")
	}

	srv := httptest.NewServer(New(Config{}, Deps{Engine: eng, Cursors: mem, Targets: mem, Log: logx.Nop()}).Handler())
	defer srv.Close()
	resp := do(t, http.MethodDelete, srv.URL+"/v1/tenants/g1/targets/video-watch/UC1", "", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, eng.Leases())

	release()
	timeout := time.After(3 * time.Second)
	for done := false; !done; {
		select {
		case e := <-events:
			if e.Type == eventbus.TopicCycle {
				require.Equal(t, watch.ResultDiscarded, e.Data.(watch.CycleReport).Result)
				done = true
			}
		case <-timeout:
			t.Fatal("held cycle never finished")
		}
	}
	_, found, err := mem.GetCursor(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, notif.Sent())
}

func TestRunOnce(t *testing.T) {
	srv, eng, _ := newTestServer(t, "")

	resp := do(t, http.MethodPost, srv.URL+"/v1/leases/g1/reminder/standup/run", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, watch.Key{TenantID: "g1", Kind: watch.KindReminder, EntityKey: "standup"}, eng.ran)
	var rep watch.CycleReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	require.Equal(t, watch.ResultDelivered, rep.Result)

	eng.runErr = watch.ErrBusy
	require.Equal(t, http.StatusConflict, do(t, http.MethodPost, srv.URL+"/v1/leases/g1/reminder/standup/run", "", "").StatusCode)
	eng.runErr = watch.ErrUnknownTarget
	require.Equal(t, http.StatusNotFound, do(t, http.MethodPost, srv.URL+"/v1/leases/g1/reminder/standup/run", "", "").StatusCode)
}

func TestCursorsAndScores(t *testing.T) {
	srv, _, mem := newTestServer(t, "")
	ctx := context.Background()
	require.NoError(t, mem.AdvanceCursor(ctx, watch.Key{TenantID: "g1", Kind: watch.KindSocial, EntityKey: "a"}, "p1", fixedNow))
	require.NoError(t, mem.TouchCursor(ctx, watch.Key{TenantID: "g2", Kind: watch.KindSocial, EntityKey: "b"}, fixedNow))

	resp := do(t, http.MethodGet, srv.URL+"/v1/tenants/g1/cursors", "", "")
	var cursors []watch.Cursor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cursors))
	require.Len(t, cursors, 1)
	require.Equal(t, "p1", cursors[0].LastFactID)

	for i := 0; i < 2; i++ {
		resp = do(t, http.MethodPost, srv.URL+"/v1/tenants/g1/scoreboards/weekly/scores", "", `{"user_id":7,"display_name":"ana","score":5}`)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	resp = do(t, http.MethodGet, srv.URL+"/v1/tenants/g1/scoreboards/weekly?limit=3", "", "")
	var top []storage.ScoreEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&top))
	require.Len(t, top, 1)
	require.EqualValues(t, 10, top[0].Score)

	resp = do(t, http.MethodGet, srv.URL+"/v1/notifications", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPprofMountedBehindAuth(t *testing.T) {
	s := New(Config{Token: "tok", Pprof: true}, Deps{Engine: &fakeEngine{}, Cursors: storage.NewMemory()})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	require.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/debug/pprof/", "", "").StatusCode)
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/debug/pprof/", "tok", "").StatusCode)

	off := httptest.NewServer(New(Config{}, Deps{Engine: &fakeEngine{}, Cursors: storage.NewMemory()}).Handler())
	defer off.Close()
	require.Equal(t, http.StatusNotFound, do(t, http.MethodGet, off.URL+"/debug/pprof/", "", "").StatusCode)
}
