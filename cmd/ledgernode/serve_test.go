package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/rickgao/ledgernet/internal/config"
	"github.com/rickgao/ledgernet/internal/router"
	"github.com/rickgao/ledgernet/internal/server"
	"github.com/rickgao/ledgernet/internal/wire"
)

func TestLoadNodeConfig_Defaults(t *testing.T) {
	cfg, err := loadNodeConfig("", "", "")
	if err != nil {
		t.Fatalf("loadNodeConfig failed: %v", err)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:1337" {
		t.Errorf("ListenAddr = %q, want 0.0.0.0:1337", cfg.Server.ListenAddr)
	}
}

func TestLoadNodeConfig_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte("instance:\n  id: from-file\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadNodeConfig(path, "127.0.0.1:7000", "debug")
	if err != nil {
		t.Fatalf("loadNodeConfig failed: %v", err)
	}
	if cfg.Instance.ID != "from-file" {
		t.Errorf("Instance.ID = %q, want from-file", cfg.Instance.ID)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:7000" {
		t.Errorf("ListenAddr = %q, want 127.0.0.1:7000", cfg.Server.ListenAddr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}

	if _, err := loadNodeConfig(path, "", "verbose"); err == nil {
		t.Error("loadNodeConfig accepted an unknown log level")
	}
}

type capturePublisher struct {
	msgs []*wire.Message
}

func (p *capturePublisher) Publish(m *wire.Message) (int, error) {
	p.msgs = append(p.msgs, m)
	return 1, nil
}

func TestRegisterHandlers(t *testing.T) {
	rtr := router.New(nil)
	pub := &capturePublisher{}
	announcement := server.DefaultConfig().Announcement

	if err := registerHandlers(rtr, pub, announcement); err != nil {
		t.Fatalf("registerHandlers failed: %v", err)
	}

	req := func(m *wire.Message) *router.Request {
		return &router.Request{SessionID: uuid.New(), Message: m}
	}

	post := wire.NewMessage(wire.PostBlockchain, []byte("block"))
	if resp, err := rtr.Handle(context.Background(), req(post)); err != nil || resp != nil {
		t.Errorf("PostBlockchain = %v, %v, want relay without response", resp, err)
	}
	if len(pub.msgs) != 1 || pub.msgs[0] != post {
		t.Errorf("relayed %d messages, want the posted block", len(pub.msgs))
	}

	resp, err := rtr.Handle(context.Background(), req(wire.NewMessage(wire.RequestBlockchain, nil)))
	if err != nil {
		t.Fatalf("RequestBlockchain failed: %v", err)
	}
	if resp.Type() != wire.ReturnBlockchain || !bytes.Equal(resp.Body, announcement.Body) {
		t.Errorf("response = %v %v, want ReturnBlockchain with the announced chain", resp.Type(), resp.Body)
	}
}

func TestRegisterHandlers_AnnouncementDisabled(t *testing.T) {
	rtr := router.New(nil)
	announcement := server.DefaultConfig().Announcement
	announcement.Enabled = false

	if err := registerHandlers(rtr, &capturePublisher{}, announcement); err != nil {
		t.Fatalf("registerHandlers failed: %v", err)
	}

	handled := rtr.Handled()
	if len(handled) != 1 || handled[0] != wire.PostBlockchain {
		t.Errorf("Handled() = %v, want [PostBlockchain]", handled)
	}

	resp, err := rtr.Handle(context.Background(), &router.Request{
		SessionID: uuid.New(),
		Message:   wire.NewMessage(wire.RequestBlockchain, nil),
	})
	if err != nil || resp != nil {
		t.Errorf("RequestBlockchain = %v, %v, want dropped", resp, err)
	}
}

func TestNewRouter_TracingExportsDispatchSpans(t *testing.T) {
	cfg := config.Default()
	cfg.Instance.ID = "traced-node"
	cfg.Tracing.Enabled = true

	var buf bytes.Buffer
	rtr, shutdown, err := newRouter(cfg, &buf, nil)
	if err != nil {
		t.Fatalf("newRouter failed: %v", err)
	}
	if err := registerHandlers(rtr, &capturePublisher{}, server.DefaultConfig().Announcement); err != nil {
		t.Fatalf("registerHandlers failed: %v", err)
	}

	if _, err := rtr.Handle(context.Background(), &router.Request{
		SessionID: uuid.New(),
		Message:   wire.NewMessage(wire.RequestBlockchain, nil),
	}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"Name":"router.dispatch"`) {
		t.Errorf("no dispatch span exported: %s", out)
	}
	if !strings.Contains(out, "RequestBlockchain") {
		t.Errorf("dispatch span missing message type: %s", out)
	}
}

func TestNewRouter_TracingDisabled(t *testing.T) {
	var buf bytes.Buffer
	rtr, shutdown, err := newRouter(config.Default(), &buf, nil)
	if err != nil {
		t.Fatalf("newRouter failed: %v", err)
	}
	if rtr == nil {
		t.Fatal("newRouter returned nil router")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown = %v, want nil", err)
	}
	if buf.Len() != 0 {
		t.Errorf("disabled tracing wrote %q", buf.String())
	}
}
