package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sideband-filter/internal/filter"
)

// routedChannel builds a channel with a running queue but no socket, for
// exercising handlers through httptest.
func routedChannel(t *testing.T, h filter.QueryHandler, state State) *Channel {
	t.Helper()
	c := &Channel{
		id:     "ch-test",
		cfg:    Config{RequestTimeout: time.Second}.withDefaults(),
		namer:  SymlinkNamer{},
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
	c.queue = newQueue(c.id, h, 4, noopLogger{})
	c.queue.start(&c.wg)
	c.state.Store(int32(state))
	t.Cleanup(func() {
		c.queue.stop()
		c.wg.Wait()
	})
	return c
}

func TestHandleIoctl(t *testing.T) {
	stale := handlerFunc(func(string, filter.Request) (filter.Response, error) {
		return filter.Response{Status: filter.StatusChannelDeleted}, filter.ErrChannelDeleted
	})

	tests := []struct {
		name       string
		handler    filter.QueryHandler
		state      State
		body       string
		wantCode   int
		wantStatus filter.Status
		wantErr    string
	}{
		{
			name:       "success",
			handler:    echoHandler,
			state:      StateActive,
			body:       `{"code":2236416,"input_length":0,"output_length":0}`,
			wantCode:   http.StatusOK,
			wantStatus: filter.StatusSuccess,
		},
		{
			name:       "negative length rejected before queueing",
			handler:    echoHandler,
			state:      StateActive,
			body:       `{"code":1,"input_length":-1}`,
			wantCode:   http.StatusBadRequest,
			wantStatus: filter.StatusInvalidParameter,
		},
		{
			name:       "malformed body",
			handler:    echoHandler,
			state:      StateActive,
			body:       `{"code":`,
			wantCode:   http.StatusBadRequest,
			wantStatus: filter.StatusInvalidParameter,
		},
		{
			name:       "unknown field",
			handler:    echoHandler,
			state:      StateActive,
			body:       `{"code":1,"buffer":"AAAA"}`,
			wantCode:   http.StatusBadRequest,
			wantStatus: filter.StatusInvalidParameter,
		},
		{
			name:     "not ready",
			handler:  echoHandler,
			state:    StateUninitialized,
			body:     `{}`,
			wantCode: http.StatusServiceUnavailable,
			wantErr:  ErrCodeNotReady,
		},
		{
			name:       "deleted",
			handler:    echoHandler,
			state:      StateDeleted,
			body:       `{}`,
			wantCode:   http.StatusGone,
			wantStatus: filter.StatusChannelDeleted,
		},
		{
			name:       "registry reports stale channel",
			handler:    stale,
			state:      StateActive,
			body:       `{}`,
			wantCode:   http.StatusGone,
			wantStatus: filter.StatusChannelDeleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := routedChannel(t, tt.handler, tt.state)
			req := httptest.NewRequest(http.MethodPost, "/v1/ioctl", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			c.routes().ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("X-Request-ID header not set")
			}

			if tt.wantErr != "" {
				var e Error
				if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
					t.Fatalf("decoding error body: %v", err)
				}
				if e.Code != tt.wantErr {
					t.Errorf("error code = %q, want %q", e.Code, tt.wantErr)
				}
				return
			}

			var resp filter.Response
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("response status = %q, want %q", resp.Status, tt.wantStatus)
			}
		})
	}
}

func TestHandleInfo(t *testing.T) {
	c := routedChannel(t, echoHandler, StateActive)
	rec := httptest.NewRecorder()
	c.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/channel", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var info Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decoding info: %v", err)
	}
	if info.ID != "ch-test" || info.State != StateActive {
		t.Errorf("info = %+v", info)
	}
	if !strings.Contains(rec.Body.String(), `"state":"active"`) {
		t.Errorf("state not encoded as text: %s", rec.Body.String())
	}
}

func TestHandleIoctl_QueueFull(t *testing.T) {
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	h := handlerFunc(func(string, filter.Request) (filter.Response, error) {
		entered <- struct{}{}
		<-release
		return filter.Response{Status: filter.StatusSuccess}, nil
	})

	c := &Channel{
		id:     "ch-full",
		cfg:    Config{RequestTimeout: 5 * time.Second}.withDefaults(),
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
	c.queue = newQueue(c.id, h, 1, noopLogger{})
	c.queue.start(&c.wg)
	c.state.Store(int32(StateActive))
	srv := httptest.NewServer(c.routes())
	defer srv.Close()

	post := func() *http.Response {
		res, err := http.Post(srv.URL+"/v1/ioctl", "application/json", strings.NewReader(`{}`))
		if err != nil {
			t.Errorf("POST error = %v", err)
			return nil
		}
		return res
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); post() }()
	<-entered
	go func() { defer wg.Done(); post() }()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.queue.jobs) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("second request never queued")
		}
		time.Sleep(time.Millisecond)
	}

	res := post()
	if res == nil {
		return
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", res.StatusCode)
	}
	body := make([]byte, 512)
	n, _ := res.Body.Read(body)
	if err := decodeError(res.StatusCode, body[:n]); !errors.Is(err, ErrQueueFull) {
		t.Errorf("decodeError() = %v, want ErrQueueFull", err)
	}

	close(release)
	wg.Wait()
	c.queue.stop()
	c.wg.Wait()
}

func TestState(t *testing.T) {
	tests := []struct {
		state State
		text  string
	}{
		{StateUninitialized, "uninitialized"},
		{StateActive, "active"},
		{StateDeleted, "deleted"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := tt.state.String(); got != tt.text {
				t.Errorf("String() = %q, want %q", got, tt.text)
			}
			var s State
			if err := s.UnmarshalText([]byte(tt.text)); err != nil {
				t.Fatalf("UnmarshalText() error = %v", err)
			}
			if s != tt.state {
				t.Errorf("UnmarshalText() = %v, want %v", s, tt.state)
			}
		})
	}

	var s State
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText(bogus) returned nil error")
	}
	if got := State(9).String(); got != "state(9)" {
		t.Errorf("String() = %q, want state(9)", got)
	}
}
