package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/sideband-filter/internal/filter"
)

// handlerFunc adapts a function to filter.QueryHandler.
type handlerFunc func(channelID string, req filter.Request) (filter.Response, error)

func (f handlerFunc) HandleQuery(channelID string, req filter.Request) (filter.Response, error) {
	return f(channelID, req)
}

// echoHandler answers every request with a single instance.
var echoHandler = handlerFunc(func(string, filter.Request) (filter.Response, error) {
	return filter.Response{
		Status:    filter.StatusSuccess,
		Instances: []filter.InstanceInfo{{Handle: "dev-a", SerialNumber: 42, SerialValid: true}},
	}, nil
})

// socketDir returns a short temporary directory. t.TempDir paths can exceed
// the Unix socket path limit.
func socketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sbf")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := socketDir(t)
	return Config{
		SocketPath:     filepath.Join(dir, "ctl.sock"),
		AliasPath:      filepath.Join(dir, "alias", "sideband"),
		QueueDepth:     8,
		RequestTimeout: 2 * time.Second,
	}
}

func newTestChannel(t *testing.T, cfg Config, h filter.QueryHandler) *Channel {
	t.Helper()
	f, err := NewFactory(cfg, nil)
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}
	ch, err := f.Create(h)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	c := ch.(*Channel)
	t.Cleanup(func() { waitDone(t, c.Delete()) })
	return c
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("channel teardown did not complete")
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// failingNamer refuses to publish.
type failingNamer struct {
	unpublished int
}

func (n *failingNamer) Publish(string, string) error {
	return os.ErrPermission
}

func (n *failingNamer) Unpublish(string) error {
	n.unpublished++
	return nil
}
