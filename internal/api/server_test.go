package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/sideband-filter/internal/audit"
	"github.com/nerrad567/sideband-filter/internal/filter"
	"github.com/nerrad567/sideband-filter/internal/infrastructure/config"
	"github.com/nerrad567/sideband-filter/internal/infrastructure/logging"
)

type stubChannel struct {
	id   string
	done chan struct{}
	once sync.Once
}

func (c *stubChannel) ID() string { return c.id }

func (c *stubChannel) Delete() <-chan struct{} {
	c.once.Do(func() { close(c.done) })
	return c.done
}

type stubFactory struct {
	mu sync.Mutex
	n  int
}

func (f *stubFactory) Create(filter.QueryHandler) (filter.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return &stubChannel{id: fmt.Sprintf("ch-%d", f.n), done: make(chan struct{})}, nil
}

// flakyFactory fails its first Create and then whenever fail is set.
type flakyFactory struct {
	stubFactory
	calls int
	fail  bool
}

func (f *flakyFactory) Create(h filter.QueryHandler) (filter.Channel, error) {
	f.calls++
	if f.calls == 1 || f.fail {
		return nil, errors.New("socket unavailable")
	}
	return f.stubFactory.Create(h)
}

type stubRepo struct {
	mu    sync.Mutex
	last  audit.Query
	page  *audit.Page
	err   error
	calls int
}

func (r *stubRepo) Create(context.Context, *audit.Entry) error { return nil }

func (r *stubRepo) List(_ context.Context, q audit.Query) (*audit.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = q
	if r.err != nil {
		return nil, r.err
	}
	return r.page, nil
}

func (r *stubRepo) Purge(context.Context, time.Time) (int64, error) { return 0, nil }

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type stubDB struct{}

func (stubDB) Stats() sql.DBStats { return sql.DBStats{OpenConnections: 1, Idle: 1} }

type stubMQTT bool

func (m stubMQTT) IsConnected() bool { return bool(m) }

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "json"}, "test", &bytes.Buffer{})
}

func testServer(t *testing.T, mutate func(*Deps)) (*Server, *filter.Registry) {
	t.Helper()
	reg := filter.NewRegistry(&stubFactory{}, filter.Options{})
	deps := Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:       testWSConfig(),
		Logger:   testLogger(),
		Registry: reg,
		Version:  "1.2.3",
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, reg
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func attach(t *testing.T, reg *filter.Registry, handle string, serial uint32) {
	t.Helper()
	_, err := reg.Attach(filter.DeviceRecord{
		Handle:       filter.Handle(handle),
		SerialNumber: serial,
		SerialValid:  true,
		AttachedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("Attach(%s) error = %v", handle, err)
	}
}

func TestNew_RequiredDeps(t *testing.T) {
	reg := filter.NewRegistry(&stubFactory{}, filter.Options{})
	tests := []struct {
		name string
		deps Deps
	}{
		{"missing logger", Deps{Registry: reg}},
		{"missing registry", Deps{Logger: testLogger()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Fatal("New() error = nil, want error")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantCode   int
		wantStatus string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{
			"all healthy",
			map[string]HealthChecker{"database": checkFunc(func(context.Context) error { return nil })},
			http.StatusOK, "ok",
		},
		{
			"one failing",
			map[string]HealthChecker{
				"database": checkFunc(func(context.Context) error { return nil }),
				"mqtt":     checkFunc(func(context.Context) error { return errors.New("not connected") }),
			},
			http.StatusServiceUnavailable, "degraded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, func(d *Deps) { d.Checks = tt.checks })
			rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decode[HealthResponse](t, rec)
			if body.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.Version != "1.2.3" {
				t.Errorf("Version = %q", body.Version)
			}
			if tt.wantStatus == "degraded" && body.Checks["mqtt"] != "not connected" {
				t.Errorf("Checks[mqtt] = %q", body.Checks["mqtt"])
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, nil)
	h := srv.buildRouter()

	rec := do(t, h, http.MethodGet, "/api/v1/health")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not assigned")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID = %q, want abc", got)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	srv, _ := testServer(t, nil)
	h := srv.buildRouter()

	rec := do(t, h, http.MethodGet, "/api/v1/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if e := decode[Error](t, rec); e.Code != ErrCodeNotFound {
		t.Errorf("Code = %q", e.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/channel")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestInstances(t *testing.T) {
	srv, reg := testServer(t, nil)
	h := srv.buildRouter()

	list := decode[InstanceList](t, do(t, h, http.MethodGet, "/api/v1/instances/"))
	if list.Count != 0 || list.Instances == nil {
		t.Fatalf("empty list = %+v, want count 0 and non-nil slice", list)
	}

	attach(t, reg, "pci0", 7)
	attach(t, reg, "pci1", 9)

	list = decode[InstanceList](t, do(t, h, http.MethodGet, "/api/v1/instances/"))
	if list.Count != 2 {
		t.Fatalf("Count = %d, want 2", list.Count)
	}
	if list.Instances[0].Handle != "pci0" || list.Instances[1].Handle != "pci1" {
		t.Errorf("order = %s,%s, want pci0,pci1", list.Instances[0].Handle, list.Instances[1].Handle)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/instances/pci1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if inst := decode[Instance](t, rec); inst.SerialNumber != 9 || !inst.SerialValid {
		t.Errorf("instance = %+v", inst)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/instances/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
}

func TestChannel(t *testing.T) {
	srv, reg := testServer(t, nil)
	h := srv.buildRouter()

	st := decode[ChannelStatus](t, do(t, h, http.MethodGet, "/api/v1/channel"))
	if st.Active || st.Instances != 0 {
		t.Fatalf("initial status = %+v, want inactive", st)
	}

	rec := do(t, h, http.MethodPost, "/api/v1/channel/reset")
	if rec.Code != http.StatusConflict {
		t.Errorf("reset without instances status = %d, want 409", rec.Code)
	}

	attach(t, reg, "pci0", 1)
	st = decode[ChannelStatus](t, do(t, h, http.MethodGet, "/api/v1/channel"))
	if !st.Active || st.ChannelID != "ch-1" || st.Instances != 1 {
		t.Fatalf("status = %+v, want active ch-1", st)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/channel/reset")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", rec.Code)
	}
	reset := decode[ChannelReset](t, rec)
	if !reset.Active || reset.ChannelID != "ch-2" || reset.ReplacedID != "ch-1" || reset.Instances != 1 {
		t.Errorf("after reset = %+v, want ch-1 replaced by active ch-2", reset)
	}

	// The channel survives later attaches without another creation.
	attach(t, reg, "pci1", 2)
	attach(t, reg, "pci2", 3)
	st = decode[ChannelStatus](t, do(t, h, http.MethodGet, "/api/v1/channel"))
	if !st.Active || st.ChannelID != "ch-2" || st.Instances != 3 {
		t.Errorf("status = %+v, want active ch-2 with 3 instances", st)
	}

	rec = do(t, h, http.MethodDelete, "/api/v1/channel")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", rec.Code)
	}
}

func TestChannelReset_CreationFailure(t *testing.T) {
	factory := &flakyFactory{}
	reg := filter.NewRegistry(factory, filter.Options{})
	srv, _ := testServer(t, func(d *Deps) { d.Registry = reg })
	h := srv.buildRouter()

	attach(t, reg, "pci0", 1)
	if st := decode[ChannelStatus](t, do(t, h, http.MethodGet, "/api/v1/channel")); st.Active {
		t.Fatalf("status = %+v, want inactive after failed creation", st)
	}

	rec := do(t, h, http.MethodPost, "/api/v1/channel/reset")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", rec.Code)
	}
	if st := decode[ChannelReset](t, rec); !st.Active || st.ReplacedID != "" {
		t.Errorf("after reset = %+v, want active with nothing replaced", st)
	}

	factory.fail = true
	rec = do(t, h, http.MethodPost, "/api/v1/channel/reset")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("failing reset status = %d, want 500", rec.Code)
	}
}

func TestListAudit(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv, _ := testServer(t, nil)
		rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/audit")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	tests := []struct {
		name     string
		target   string
		repoErr  error
		wantCode int
		want     audit.Query
	}{
		{"no filters", "/api/v1/audit", nil, http.StatusOK, audit.Query{}},
		{
			"all filters",
			"/api/v1/audit?action=attached&handle=pci0&since=2026-01-02T03:04:05Z&limit=10&offset=20",
			nil, http.StatusOK,
			audit.Query{
				Action: "attached",
				Handle: "pci0",
				Since:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
				Limit:  10,
				Offset: 20,
			},
		},
		{"bad since", "/api/v1/audit?since=yesterday", nil, http.StatusBadRequest, audit.Query{}},
		{"bad limit", "/api/v1/audit?limit=ten", nil, http.StatusBadRequest, audit.Query{}},
		{"repository error", "/api/v1/audit", errors.New("disk"), http.StatusInternalServerError, audit.Query{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{page: &audit.Page{Entries: []audit.Entry{{ID: "e1", Action: "attached"}}, Total: 1}, err: tt.repoErr}
			srv, _ := testServer(t, func(d *Deps) { d.Audit = repo })

			rec := do(t, srv.buildRouter(), http.MethodGet, tt.target)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if !repo.last.Since.Equal(tt.want.Since) {
				t.Errorf("Since = %v, want %v", repo.last.Since, tt.want.Since)
			}
			repo.last.Since, tt.want.Since = time.Time{}, time.Time{}
			if repo.last != tt.want {
				t.Errorf("query = %+v, want %+v", repo.last, tt.want)
			}
			if page := decode[audit.Page](t, rec); page.Total != 1 || page.Entries[0].ID != "e1" {
				t.Errorf("page = %+v", page)
			}
		})
	}
}

func TestSystemStatus(t *testing.T) {
	srv, reg := testServer(t, func(d *Deps) {
		d.DB = stubDB{}
		d.MQTT = stubMQTT(true)
	})
	attach(t, reg, "pci0", 1)

	st := decode[SystemStatus](t, do(t, srv.buildRouter(), http.MethodGet, "/api/v1/system/status"))
	if st.Version != "1.2.3" {
		t.Errorf("Version = %q", st.Version)
	}
	if st.Filter.Instances != 1 || !st.Filter.ChannelActive {
		t.Errorf("Filter = %+v", st.Filter)
	}
	if st.MQTT == nil || !st.MQTT.Connected {
		t.Errorf("MQTT = %+v", st.MQTT)
	}
	if st.Database == nil || st.Database.OpenConnections != 1 {
		t.Errorf("Database = %+v", st.Database)
	}
	if st.Runtime.Goroutines == 0 {
		t.Error("Runtime.Goroutines = 0")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)
	if rec := do(t, srv.buildRouter(), http.MethodGet, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("without gatherer status = %d, want 404", rec.Code)
	}

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "sideband_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv, _ = testServer(t, func(d *Deps) { d.Gatherer = reg })
	rec := do(t, srv.buildRouter(), http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sideband_test_total 1") {
		t.Errorf("body missing counter:\n%s", rec.Body.String())
	}
}

func TestHub_SubscriptionMatching(t *testing.T) {
	tests := []struct {
		name    string
		subs    []string
		channel string
		want    bool
	}{
		{"exact", []string{"filter.attached"}, "filter.attached", true},
		{"other kind", []string{"filter.attached"}, "filter.detached", false},
		{"wildcard", []string{"filter.*"}, "filter.channel_deleted", true},
		{"wildcard outside prefix", []string{"filter.*"}, "system.status", false},
		{"none", nil, "filter.attached", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &WSClient{subscriptions: make(map[string]struct{})}
			for _, s := range tt.subs {
				c.subscriptions[s] = struct{}{}
			}
			if got := c.isSubscribed(tt.channel); got != tt.want {
				t.Errorf("isSubscribed(%q) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestHub_ObserveBroadcasts(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	sub := &WSClient{hub: hub, send: make(chan []byte, 4), subscriptions: map[string]struct{}{"filter.*": {}}}
	other := &WSClient{hub: hub, send: make(chan []byte, 4), subscriptions: map[string]struct{}{"filter.detached": {}}}
	hub.Register(sub)
	hub.Register(other)

	hub.Observe(filter.Event{Kind: filter.EventAttached, Handle: "pci0", SerialNumber: 5, Count: 1})

	select {
	case data := <-sub.send:
		var msg struct {
			Type      string       `json:"type"`
			EventType string       `json:"event_type"`
			Payload   EventPayload `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != WSTypeEvent || msg.EventType != "filter.attached" {
			t.Errorf("message = %+v", msg)
		}
		if msg.Payload.Handle != "pci0" || msg.Payload.SerialNumber != 5 || msg.Payload.Instances != 1 {
			t.Errorf("payload = %+v", msg.Payload)
		}
	default:
		t.Fatal("wildcard subscriber received nothing")
	}
	if len(other.send) != 0 {
		t.Error("non-matching subscriber received a message")
	}

	hub.Unregister(sub)
	hub.Unregister(sub) // second call must not close twice
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", hub.ClientCount())
	}
	hub.Observe(filter.Event{Kind: filter.EventDetached})
}

func TestServer_StartCloseWebSocket(t *testing.T) {
	srv, reg := testServer(t, nil)
	reg.AddObserver(srv.Hub())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() error = nil")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	url := "ws://" + srv.Addr() + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"filter.*"}}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	attach(t, reg, "pci0", 3)

	// The first attach emits attached and then channel_created.
	kinds := map[string]bool{}
	for range 2 {
		var ev WSMessage
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("reading event: %v", err)
		}
		kinds[ev.EventType] = true
	}
	if !kinds["filter.attached"] || !kinds["filter.channel_created"] {
		t.Errorf("events = %v", kinds)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close = nil")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
