package transport_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/avishka-hashara/crosstalk/internal/transport"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server; the handler receives the
// accepted server-side connection.
func startServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// dial connects a client adapter to the test server.
func dial(t *testing.T, srv *httptest.Server) *transport.Adapter {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	a := transport.NewAdapter(conn)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAdapter_WriteMedia_WireShape(t *testing.T) {
	t.Parallel()

	got := make(chan transport.Envelope, 1)
	srv := startServer(t, func(conn *websocket.Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env transport.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return
		}
		got <- env
	})

	a := dial(t, srv)
	frame := []byte{0x01, 0x02, 0xFF, 0x00}
	if err := a.WriteMedia(context.Background(), frame); err != nil {
		t.Fatalf("WriteMedia: %v", err)
	}

	select {
	case env := <-got:
		if env.Event != transport.EventMedia {
			t.Errorf("event = %q, want media", env.Event)
		}
		if env.Media == nil {
			t.Fatal("media payload missing")
		}
		decoded, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			t.Fatalf("payload is not base64: %v", err)
		}
		if !bytes.Equal(decoded, frame) {
			t.Errorf("payload = % x, want % x", decoded, frame)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestAdapter_ReadEnvelope(t *testing.T) {
	t.Parallel()

	frame := []byte{10, 20, 30}
	srv := startServer(t, func(conn *websocket.Conn) {
		env := transport.Envelope{
			Event: transport.EventMedia,
			Media: &transport.MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
		}
		data, _ := json.Marshal(env)
		conn.Write(context.Background(), websocket.MessageText, data)
		// Hold the connection open until the client is done reading.
		<-conn.CloseRead(context.Background()).Done()
	})

	a := dial(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	env, err := a.ReadEnvelope(ctx)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if !env.IsMedia() {
		t.Fatalf("envelope is not media: %+v", env)
	}
	got, err := env.MediaFrame()
	if err != nil {
		t.Fatalf("MediaFrame: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("frame = % x, want % x", got, frame)
	}
}

func TestAdapter_ReadEnvelope_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		conn.Write(context.Background(), websocket.MessageText, []byte("{not json"))
		<-conn.CloseRead(context.Background()).Done()
	})

	a := dial(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := a.ReadEnvelope(ctx)
	if !errors.Is(err, transport.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestAdapter_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	const writers, perWriter = 8, 25
	received := make(chan transport.Envelope, writers*perWriter)
	srv := startServer(t, func(conn *websocket.Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for range writers * perWriter {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var env transport.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Errorf("interleaved write produced invalid JSON: %v", err)
				return
			}
			received <- env
		}
	})

	a := dial(t, srv)
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				var err error
				switch (w + i) % 3 {
				case 0:
					err = a.WriteMedia(context.Background(), []byte{byte(i)})
				case 1:
					err = a.WriteState(context.Background(), "SPEAKING")
				default:
					err = a.WriteTranscript(context.Background(), transport.RoleUser, "hello")
				}
				if err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	deadline := time.After(10 * time.Second)
	for range writers * perWriter {
		select {
		case <-received:
		case <-deadline:
			t.Fatal("server did not receive every message")
		}
	}
}

func TestEnvelope_MediaFrame_Errors(t *testing.T) {
	t.Parallel()

	if _, err := (transport.Envelope{Event: transport.EventState}).MediaFrame(); err == nil {
		t.Error("expected error for non-media envelope")
	}
	bad := transport.Envelope{
		Event: transport.EventMedia,
		Media: &transport.MediaPayload{Payload: "!!! not base64 !!!"},
	}
	if _, err := bad.MediaFrame(); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestEnvelope_ClearShape(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(transport.Envelope{Event: transport.EventClear})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"event":"clear"}` {
		t.Errorf("clear envelope = %s", data)
	}
}

func TestProfileByName(t *testing.T) {
	t.Parallel()

	tel, err := transport.ProfileByName("telephony")
	if err != nil {
		t.Fatalf("telephony: %v", err)
	}
	if tel.SampleRate != 8000 || tel.InboundFrameBytes != 160 || tel.OutboundFrameBytes != 160 {
		t.Errorf("telephony profile = %+v", tel)
	}
	if tel.OutboundInterval != 20*time.Millisecond {
		t.Errorf("telephony pacing = %v, want 20ms", tel.OutboundInterval)
	}

	web, err := transport.ProfileByName("web")
	if err != nil {
		t.Fatalf("web: %v", err)
	}
	if web.SampleRate != 16000 || web.InboundFrameBytes != 640 || web.OutboundFrameBytes != 6400 {
		t.Errorf("web profile = %+v", web)
	}
	if web.OutboundInterval != 200*time.Millisecond {
		t.Errorf("web pacing = %v, want 200ms", web.OutboundInterval)
	}

	if _, err := transport.ProfileByName("carrier-pigeon"); err == nil {
		t.Error("expected error for unknown profile")
	}
}
