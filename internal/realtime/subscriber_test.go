package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/jaakkos/statebridge/internal/domain"
)

type fakeLoader struct {
	mu    sync.Mutex
	state json.RawMessage
	err   error
	calls int
}

func (f *fakeLoader) Load(ctx context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.state, f.err
}

// fakeRealtimeServer accepts one websocket client, records the join frame,
// and relays frames pushed through the send channel.
type fakeRealtimeServer struct {
	srv    *httptest.Server
	send   chan frame
	joined chan frame
}

func newFakeRealtimeServer(t *testing.T) *fakeRealtimeServer {
	t.Helper()
	f := &fakeRealtimeServer{
		send:   make(chan frame, 8),
		joined: make(chan frame, 1),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("apikey") == "" {
			http.Error(w, "missing apikey", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var join frame
		_ = json.Unmarshal(data, &join)
		f.joined <- join

		// Drain client frames (heartbeats) in the background.
		go func() {
			for {
				if _, _, err := conn.Read(ctx); err != nil {
					return
				}
			}
		}()

		for fr := range f.send {
			data, _ := json.Marshal(fr)
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	// Runs before srv.Close (LIFO), releasing a handler still blocked on send.
	t.Cleanup(func() { close(f.send) })
	return f
}

func (f *fakeRealtimeServer) creds() domain.Credentials {
	return domain.Credentials{Endpoint: f.srv.URL, APIKey: "a.b.c"}
}

func TestSubscribe_JoinsRowTopic(t *testing.T) {
	fake := newFakeRealtimeServer(t)
	loader := &fakeLoader{state: json.RawMessage(`{}`)}

	sub, err := Subscribe(context.Background(), fake.creds(), loader, func(json.RawMessage) {}, testLogger())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	select {
	case join := <-fake.joined:
		if join.Event != "phx_join" {
			t.Errorf("join event = %q, want phx_join", join.Event)
		}
		if join.Topic != "realtime:public:app_data:id=eq.global_state" {
			t.Errorf("join topic = %q", join.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw a join frame")
	}
}

func TestSubscribe_ChangeTriggersReloadAndCallback(t *testing.T) {
	fake := newFakeRealtimeServer(t)
	loader := &fakeLoader{state: json.RawMessage(`{"count":7}`)}

	got := make(chan json.RawMessage, 1)
	sub, err := Subscribe(context.Background(), fake.creds(), loader, func(state json.RawMessage) {
		got <- state
	}, testLogger())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	<-fake.joined

	fake.send <- frame{Topic: rowTopic, Event: "UPDATE", Payload: json.RawMessage(`{}`)}

	select {
	case state := <-got:
		if string(state) != `{"count":7}` {
			t.Errorf("callback state = %s, want reloaded value", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestSubscribe_IgnoresOtherTopicsAndEvents(t *testing.T) {
	fake := newFakeRealtimeServer(t)
	loader := &fakeLoader{state: json.RawMessage(`{}`)}

	fired := make(chan struct{}, 4)
	sub, err := Subscribe(context.Background(), fake.creds(), loader, func(json.RawMessage) {
		fired <- struct{}{}
	}, testLogger())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	<-fake.joined

	fake.send <- frame{Topic: "realtime:public:other_table", Event: "UPDATE"}
	fake.send <- frame{Topic: rowTopic, Event: "phx_reply"}
	fake.send <- frame{Topic: rowTopic, Event: "DELETE"}
	// The terminating marker we do care about.
	fake.send <- frame{Topic: rowTopic, Event: "INSERT"}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("INSERT never triggered the callback")
	}
	select {
	case <-fired:
		t.Fatal("callback fired for an ignored frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_ReloadFailureIsSwallowed(t *testing.T) {
	fake := newFakeRealtimeServer(t)
	loader := &fakeLoader{err: &domain.RemoteError{Op: "select app_data", Status: 500}}

	sub, err := Subscribe(context.Background(), fake.creds(), loader, func(json.RawMessage) {
		t.Error("callback fired despite reload failure")
	}, testLogger())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	<-fake.joined

	fake.send <- frame{Topic: rowTopic, Event: "UPDATE"}

	deadline := time.After(2 * time.Second)
	for {
		loader.mu.Lock()
		n := loader.calls
		loader.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reload never attempted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	// Give a failing callback time to fire if it was going to.
	time.Sleep(50 * time.Millisecond)
}

func TestSubscribe_DialFailureIsHard(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	loader := &fakeLoader{}
	_, err := Subscribe(context.Background(),
		domain.Credentials{Endpoint: srv.URL, APIKey: "a.b.c"},
		loader, func(json.RawMessage) {}, testLogger())
	var remote *domain.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Subscribe = %v, want RemoteError", err)
	}
}

func TestSocketURL(t *testing.T) {
	s := &Subscriber{creds: domain.Credentials{Endpoint: "https://proj.example.co/", APIKey: "a.b.c"}}
	u, err := s.socketURL()
	if err != nil {
		t.Fatal(err)
	}
	want := "wss://proj.example.co/realtime/v1/websocket?apikey=a.b.c&vsn=1.0.0"
	if u != want {
		t.Errorf("socketURL = %q, want %q", u, want)
	}

	s = &Subscriber{creds: domain.Credentials{Endpoint: "ftp://proj.example.co", APIKey: "a.b.c"}}
	if _, err := s.socketURL(); err == nil {
		t.Error("socketURL accepted unsupported scheme")
	}
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
