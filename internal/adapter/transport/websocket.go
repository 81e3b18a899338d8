package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"hostbridge/internal/adapter/transport/proto"
	"hostbridge/internal/domain"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultInboundSize  = 64
	maxFrameBytes       = 1 << 20
)

// WebSocketOptions configures DialWebSocket.
type WebSocketOptions struct {
	Token        string
	WriteTimeout time.Duration
	Buffer       int
	Logger       *slog.Logger
}

// WebSocketClient is a domain.Transport over a single WebSocket connection.
// Each envelope travels as one JSON text message.
type WebSocketClient struct {
	ws           *websocket.Conn
	inbound      chan domain.Inbound
	writeMu      sync.Mutex
	writeTimeout time.Duration
	logger       *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// DialWebSocket connects to a host's /ws endpoint. The token, if any, is sent
// as the token query parameter.
func DialWebSocket(ctx context.Context, rawURL string, opts WebSocketOptions) (*WebSocketClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("websocket url: %w", err)
	}
	if opts.Token != "" {
		q := u.Query()
		q.Set("token", opts.Token)
		u.RawQuery = q.Encode()
	}

	ws, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", u.Redacted(), err)
	}
	ws.SetReadLimit(maxFrameBytes)

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultInboundSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c := &WebSocketClient{
		ws:           ws,
		inbound:      make(chan domain.Inbound, opts.Buffer),
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go c.readLoop(readCtx)
	return c, nil
}

// Send implements domain.Transport.
func (c *WebSocketClient) Send(ctx context.Context, req domain.RequestEnvelope) error {
	select {
	case <-c.done:
		return domain.ErrTransportClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	// A failed write closes the connection.
	if err := wsjson.Write(writeCtx, c.ws, FrameFromRequest(req)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: websocket write: %v", domain.ErrTransportClosed, err)
	}
	return nil
}

// Inbound implements domain.Transport. The channel closes when the
// connection ends.
func (c *WebSocketClient) Inbound() <-chan domain.Inbound { return c.inbound }

// Close implements domain.Transport.
func (c *WebSocketClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close(websocket.StatusNormalClosure, "")
		c.cancel()
	})
	return err
}

func (c *WebSocketClient) readLoop(ctx context.Context) {
	defer close(c.inbound)
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, c.ws, &frame); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("websocket read ended", "error", err)
			}
			return
		}

		msg, err := InboundFromFrame(&frame)
		if err != nil {
			c.logger.Warn("websocket frame dropped", "error", err)
			continue
		}

		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

var _ domain.Transport = (*WebSocketClient)(nil)
