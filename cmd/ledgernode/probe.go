package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/ledgernet/internal/connection"
	"github.com/rickgao/ledgernet/internal/wire"
)

type probeOptions struct {
	addr    string
	send    string
	bodyHex string
	count   int
	timeout time.Duration
}

func probeCmd() *cobra.Command {
	var opts probeOptions

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Connect as a peer and print received frames",
		Long: `Connect to a node as an ordinary peer, optionally send one message,
and print every frame received.

The address is host:port for TCP or a ws:// URL for the WebSocket gateway.

Examples:
  ledgernode probe --addr 127.0.0.1:1337
  ledgernode probe --addr 127.0.0.1:1337 --send RequestBlockchain --count 2
  ledgernode probe --addr ws://127.0.0.1:8081/ws --send PostBlockchain --body-hex 0a0b0c`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runProbe(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "127.0.0.1:1337", "Node address (host:port or ws:// URL)")
	cmd.Flags().StringVar(&opts.send, "send", "", "Message type to send after connecting (e.g. RequestBlockchain)")
	cmd.Flags().StringVar(&opts.bodyHex, "body-hex", "", "Hex-encoded body for --send")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "Frames to print before exiting (0 = until interrupted)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Dial timeout and wait per frame (0 = wait forever)")

	return cmd
}

func runProbe(ctx context.Context, opts probeOptions, out io.Writer) error {
	outgoing, err := probeMessage(opts.send, opts.bodyHex)
	if err != nil {
		return err
	}

	dialCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	conn, err := dialPeer(dialCtx, opts.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	fmt.Fprintf(out, "connected to %s\n", conn.RemoteAddr())

	if outgoing != nil {
		if err := conn.WriteMessage(outgoing); err != nil {
			return fmt.Errorf("send %s: %w", outgoing.Type(), err)
		}
		fmt.Fprintf(out, "sent     %s\n", formatMessage(outgoing))
	}

	for received := 0; opts.count == 0 || received < opts.count; received++ {
		if opts.timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(opts.timeout))
		}
		m, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		fmt.Fprintf(out, "received %s\n", formatMessage(m))
	}
	return nil
}

// probeMessage builds the optional outgoing message from flag values.
func probeMessage(typeName, bodyHex string) (*wire.Message, error) {
	if typeName == "" {
		if bodyHex != "" {
			return nil, errors.New("--body-hex requires --send")
		}
		return nil, nil
	}

	t, err := wire.ParseMessageType(typeName)
	if err != nil {
		return nil, err
	}
	body, err := hex.DecodeString(bodyHex)
	if err != nil {
		return nil, fmt.Errorf("--body-hex: %w", err)
	}
	return wire.NewMessage(t, body), nil
}

func dialPeer(ctx context.Context, addr string) (connection.Conn, error) {
	cfg := connection.DefaultConfig()
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return connection.DialWebSocket(ctx, addr, cfg)
	}
	return connection.Dial(ctx, addr, cfg)
}

func formatMessage(m *wire.Message) string {
	const maxShown = 64
	body := m.Body
	suffix := ""
	if len(body) > maxShown {
		body = body[:maxShown]
		suffix = "..."
	}
	return fmt.Sprintf("%-26s size=%-6d body=%s%s", m.Type(), m.Header.Size, hex.EncodeToString(body), suffix)
}
