package statefile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestState_ReadsFileOnFirstUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"count":1}`), 0644); err != nil {
		t.Fatal(err)
	}
	p := New(path, testLogger())
	if got := p.State(); string(got) != `{"count":1}` {
		t.Errorf("State = %s, want file content", got)
	}
}

func TestState_MissingOrInvalidFile(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "absent.json"), testLogger())
	if got := p.State(); got != nil {
		t.Errorf("State = %s for missing file, want nil", got)
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	p = New(path, testLogger())
	if got := p.State(); got != nil {
		t.Errorf("State = %s for invalid JSON, want nil", got)
	}
}

func TestCheckOnce_FiresOnChangeOncePerContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"v":1}`), 0644); err != nil {
		t.Fatal(err)
	}

	var fired []string
	p := New(path, testLogger(), WithOnChange(func(state json.RawMessage) {
		fired = append(fired, string(state))
	}))

	p.CheckOnce()
	p.CheckOnce() // same content, no second event
	if err := os.WriteFile(path, []byte(`{"v":2}`), 0644); err != nil {
		t.Fatal(err)
	}
	p.CheckOnce()

	want := []string{`{"v":1}`, `{"v":2}`}
	if len(fired) != len(want) {
		t.Fatalf("onChange fired %d times (%v), want %d", len(fired), fired, len(want))
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, fired[i], want[i])
		}
	}
}

func TestDebounce_CoalescesBurstToOneEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	var mu sync.Mutex
	var fired []string
	p := New(path, testLogger(),
		WithDebounce(50*time.Millisecond),
		WithOnChange(func(state json.RawMessage) {
			mu.Lock()
			fired = append(fired, string(state))
			mu.Unlock()
		}))

	// A burst of writes within the debounce window: each one re-arms the
	// timer, so only the final content is reported, once.
	for i := 1; i <= 4; i++ {
		if err := os.WriteFile(path, []byte(fmt.Sprintf(`{"v":%d}`, i)), 0644); err != nil {
			t.Fatal(err)
		}
		p.checkDebounced()
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 {
		t.Fatalf("onChange fired %d times (%v), want 1", len(fired), fired)
	}
	if fired[0] != `{"v":4}` {
		t.Errorf("event = %s, want final burst content", fired[0])
	}
}

func TestWriteState_DoesNotFireOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	p := New(path, testLogger(), WithOnChange(func(state json.RawMessage) {
		t.Errorf("onChange fired for self-write: %s", state)
	}))

	if err := p.WriteState(json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	p.CheckOnce()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"v":1}` {
		t.Errorf("file = %s, want written state", data)
	}
}

func TestWatch_DetectsExternalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte(`{"v":1}`), 0644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan string, 4)
	p := New(path, testLogger(),
		WithDebounce(10*time.Millisecond),
		WithPollInterval(50*time.Millisecond), // poll backstop keeps the test robust without fsnotify
		WithOnChange(func(state json.RawMessage) {
			changed <- string(state)
		}))

	ctx, cancel := context.WithCancel(context.Background())
	go p.Start(ctx)
	defer func() {
		cancel()
		p.Stop()
	}()

	// Let Start settle, then write externally.
	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"v":2}`), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-changed:
			if got == `{"v":2}` {
				return
			}
			// {"v":1} can arrive first from the initial poll; keep waiting.
		case <-deadline:
			t.Fatal("external write never reported")
		}
	}
}

func TestStop_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	p := New(path, testLogger(), WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go p.Start(ctx)

	cancel()
	p.Stop()
	p.Stop() // second call must not panic or block
}
