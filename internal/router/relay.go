package router

import (
	"context"
	"fmt"

	"github.com/rickgao/ledgernet/internal/wire"
)

// RelayHandler re-broadcasts every message it receives to all peers,
// including the sender. It never produces a direct response.
func RelayHandler(p Publisher) Handler {
	return HandlerFunc(func(ctx context.Context, req *Request) (*wire.Message, error) {
		if _, err := p.Publish(req.Message); err != nil {
			return nil, fmt.Errorf("relay %s: %w", req.Message.Type(), err)
		}
		return nil, nil
	})
}
