package filter

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	reg := NewRegistry(nil, Options{})
	d := NewDriver(reg, DriverOptions{})
	attach(t, d, "dev-a", 1)
	attach(t, d, "dev-b", 2)

	snap := reg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(snap))
	}
	snap[0].SerialNumber = 999

	rec, _ := reg.Lookup("dev-a")
	if rec.SerialNumber != 1 {
		t.Errorf("mutating snapshot changed registry: serial = %d", rec.SerialNumber)
	}
}

func TestRegistry_RecordsInAttachOrder(t *testing.T) {
	reg := NewRegistry(nil, Options{})
	d := NewDriver(reg, DriverOptions{})
	for _, h := range []Handle{"c", "a", "b"} {
		attach(t, d, h, 0)
	}
	d.Detach("a")

	var got []Handle
	for rec := range reg.Records() {
		got = append(got, rec.Handle)
		// Iteration must not hold the lock.
		_ = reg.Count()
	}
	if want := []Handle{"c", "b"}; !slices.Equal(got, want) {
		t.Errorf("Records() = %v, want %v", got, want)
	}
}

func TestRegistry_AttachedAt(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reg := NewRegistry(nil, Options{})
	reg.now = func() time.Time { return fixed }

	if _, err := reg.Attach(DeviceRecord{Handle: "dev-a"}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	explicit := fixed.Add(-time.Hour)
	if _, err := reg.Attach(DeviceRecord{Handle: "dev-b", AttachedAt: explicit}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	tests := []struct {
		handle Handle
		want   time.Time
	}{
		{"dev-a", fixed},
		{"dev-b", explicit},
	}
	for _, tt := range tests {
		rec, ok := reg.Lookup(tt.handle)
		if !ok {
			t.Fatalf("Lookup(%q) not found", tt.handle)
		}
		if !rec.AttachedAt.Equal(tt.want) {
			t.Errorf("%s AttachedAt = %v, want %v", tt.handle, rec.AttachedAt, tt.want)
		}
	}
}

func TestRegistry_LookupMissing(t *testing.T) {
	reg := NewRegistry(nil, Options{})
	if _, ok := reg.Lookup("nope"); ok {
		t.Error("Lookup() found an instance in an empty registry")
	}
	if _, ok := reg.ChannelID(); ok {
		t.Error("ChannelID() reported a channel on an empty registry")
	}
}

func TestRegistry_StateNeverTorn(t *testing.T) {
	f := &fakeFactory{}
	d, reg := newTestDriver(f, Options{})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			h := Handle(fmt.Sprintf("dev-%d", i))
			if _, err := d.Attach(context.Background(), Instance{Handle: h, Properties: staticSerial(i)}); err != nil {
				t.Errorf("Attach(%q) error = %v", h, err)
				return
			}
			d.Detach(h)
		}
	}()

	for range 2000 {
		count, id, ok := reg.State()
		if (count > 0) != ok || ok != (id != "") {
			close(stop)
			wg.Wait()
			t.Fatalf("State() = %d, %q, %t; channel must exist exactly while populated", count, id, ok)
		}
	}
	close(stop)
	wg.Wait()
}
