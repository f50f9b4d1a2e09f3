package connection

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/ledgernet/internal/wire"
)

func pipeConns(t *testing.T, cfg Config) (Conn, Conn) {
	t.Helper()
	a, b := net.Pipe()
	ca, cb := New(a, cfg), New(b, cfg)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

func TestStreamConn_RoundTrip(t *testing.T) {
	client, server := pipeConns(t, DefaultConfig())

	want := wire.NewMessage(wire.PostBlockchain, bytes.Repeat([]byte{1}, 12))
	errCh := make(chan error, 1)
	go func() { errCh <- client.WriteMessage(want) }()

	got, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	if got.Header != want.Header {
		t.Errorf("Header = %+v, want %+v", got.Header, want.Header)
	}
	if !bytes.Equal(got.Body, want.Body) {
		t.Errorf("Body = %v, want %v", got.Body, want.Body)
	}
}

func TestStreamConn_ShortReadIsConnectionClosed(t *testing.T) {
	a, b := net.Pipe()
	server := New(b, DefaultConfig())
	defer server.Close()

	frame, _ := wire.Encode(wire.NewMessage(wire.ReturnBlockchain, []byte("0123456789")))
	go func() {
		a.Write(frame[:wire.HeaderSize+4]) // peer dies mid-body
		a.Close()
	}()

	_, err := server.ReadMessage()
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("error = %v, want ErrConnectionClosed", err)
	}
	if errors.Is(err, wire.ErrTruncatedBody) {
		t.Errorf("short stream read reported as decode error: %v", err)
	}
}

func TestStreamConn_EOFBetweenFrames(t *testing.T) {
	a, b := net.Pipe()
	server := New(b, DefaultConfig())
	defer server.Close()

	a.Close()

	_, err := server.ReadMessage()
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("error = %v, want ErrConnectionClosed", err)
	}
}

func TestStreamConn_MalformedHeaderKeepsAlignment(t *testing.T) {
	a, b := net.Pipe()
	server := New(b, DefaultConfig())
	defer server.Close()
	defer a.Close()

	bad := []byte{9, 0, 0, 0, 3, 0, 0, 0, 'x', 'y', 'z'}
	good, _ := wire.Encode(wire.NewMessage(wire.ConfirmRFS, []byte("ok")))

	go func() {
		a.Write(bad)
		a.Write(good)
	}()

	if _, err := server.ReadMessage(); !errors.Is(err, wire.ErrMalformedHeader) {
		t.Fatalf("first read error = %v, want ErrMalformedHeader", err)
	}

	m, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("second read failed: %v", err)
	}
	if m.Type() != wire.ConfirmRFS || string(m.Body) != "ok" {
		t.Errorf("got %v %q, want ConfirmRFS \"ok\"", m.Type(), m.Body)
	}
}

func TestStreamConn_OversizedBody(t *testing.T) {
	a, b := net.Pipe()
	cfg := DefaultConfig()
	cfg.MaxBodySize = 4
	server := New(b, cfg)
	defer server.Close()
	defer a.Close()

	hdr := wire.EncodeHeader(wire.MessageHeader{Type: wire.ReturnBlockchain, Size: 100})
	go a.Write(hdr[:])

	_, err := server.ReadMessage()
	if !errors.Is(err, wire.ErrOversizedBody) {
		t.Errorf("error = %v, want ErrOversizedBody", err)
	}
}

func TestStreamConn_ConcurrentWritesDoNotInterleave(t *testing.T) {
	client, server := pipeConns(t, DefaultConfig())

	const writers = 8
	const perWriter = 20

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(fill byte) {
			defer wg.Done()
			body := bytes.Repeat([]byte{fill}, 512)
			for i := 0; i < perWriter; i++ {
				if err := client.WriteMessage(wire.NewMessage(wire.PostBlockchain, body)); err != nil {
					t.Errorf("WriteMessage failed: %v", err)
					return
				}
			}
		}(byte('a' + w))
	}

	for i := 0; i < writers*perWriter; i++ {
		m, err := server.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage %d failed: %v", i, err)
		}
		if len(m.Body) != 512 {
			t.Fatalf("frame %d body = %d bytes, want 512", i, len(m.Body))
		}
		if !bytes.Equal(m.Body, bytes.Repeat(m.Body[:1], 512)) {
			t.Fatalf("frame %d body mixes bytes from different writers", i)
		}
	}
	wg.Wait()
}

func TestStreamConn_WriteRejectsInvalidMessage(t *testing.T) {
	client, _ := pipeConns(t, DefaultConfig())

	bad := &wire.Message{Header: wire.MessageHeader{Type: wire.DenyRFS, Size: 5}}
	if err := client.WriteMessage(bad); !errors.Is(err, wire.ErrSizeMismatch) {
		t.Errorf("error = %v, want ErrSizeMismatch", err)
	}
}

// deadConn fails SetWriteDeadline the way a socket closed underneath us does.
type deadConn struct {
	net.Conn
	writes int
}

func (c *deadConn) SetWriteDeadline(time.Time) error { return net.ErrClosed }

func (c *deadConn) Write(p []byte) (int, error) {
	c.writes++
	return len(p), nil
}

func TestStreamConn_WriteDeadlineFailure(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	dead := &deadConn{Conn: a}
	conn := New(dead, DefaultConfig())
	defer conn.Close()

	err := conn.WriteMessage(wire.NewMessage(wire.PostBlockchain, []byte("block")))
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("WriteMessage error = %v, want ErrConnectionClosed", err)
	}
	if !errors.Is(err, net.ErrClosed) {
		t.Errorf("WriteMessage error = %v, want it to wrap net.ErrClosed", err)
	}
	if dead.writes != 0 {
		t.Errorf("Write called %d times after deadline failure, want 0", dead.writes)
	}
}

func TestStreamConn_DoubleClose(t *testing.T) {
	client, _ := pipeConns(t, DefaultConfig())

	if err := client.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	received := make(chan *wire.Message, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		c := New(nc, DefaultConfig())
		defer c.Close()
		m, err := c.ReadMessage()
		if err == nil {
			received <- m
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, ln.Addr().String(), DefaultConfig())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	if err := c.WriteMessage(wire.NewMessage(wire.RequestBlockchain, nil)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	select {
	case m := <-received:
		if m.Type() != wire.RequestBlockchain {
			t.Errorf("Type = %v, want RequestBlockchain", m.Type())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}
