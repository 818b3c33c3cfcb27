package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/opsdesk/internal/logging"
	"github.com/tOgg1/opsdesk/internal/models"
)

const (
	defaultDialTimeout       = 2 * time.Second
	defaultReconnectInterval = 2 * time.Second
	defaultBuffer            = 256
	writeTimeout             = 2 * time.Second
)

// ErrNotConnected is returned by Send while no stream is established.
var ErrNotConnected = errors.New("push transport not connected")

// Config configures a Client.
type Config struct {
	Addr              string
	UserID            int64
	DialTimeout       time.Duration
	ReconnectInterval time.Duration
	Buffer            int
	Logger            *zerolog.Logger
}

// Client keeps one subscription open to the push hub.
type Client struct {
	addr              string
	userID            int64
	dialTimeout       time.Duration
	reconnectInterval time.Duration
	buffer            int
	logger            zerolog.Logger

	mu     sync.Mutex
	writer *bufio.Writer
	conn   net.Conn
}

// New validates cfg and returns an unconnected client.
func New(cfg Config) (*Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("push addr is required")
	}
	if cfg.UserID <= 0 {
		return nil, models.ErrInvalidUser
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	reconnectInterval := cfg.ReconnectInterval
	if reconnectInterval <= 0 {
		reconnectInterval = defaultReconnectInterval
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	logger := logging.Component("transport")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		addr:              addr,
		userID:            cfg.UserID,
		dialTimeout:       dialTimeout,
		reconnectInterval: reconnectInterval,
		buffer:            buffer,
		logger:            logger,
	}, nil
}

// Subscribe streams push events until ctx is cancelled. The channel is
// closed on return. After every reconnect (not the first connect) a
// synthetic EventReconnected is delivered before any other event.
func (c *Client) Subscribe(ctx context.Context) <-chan models.PushEvent {
	out := make(chan models.PushEvent, c.buffer)
	go c.subscribeLoop(ctx, out)
	return out
}

func (c *Client) subscribeLoop(ctx context.Context, out chan<- models.PushEvent) {
	defer close(out)
	connected := false

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.stream(ctx, out, &connected)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Dur("retry_in", c.reconnectInterval).Msg("push stream dropped")

		timer := time.NewTimer(c.reconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) stream(ctx context.Context, out chan<- models.PushEvent, connected *bool) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	reader := bufio.NewReaderSize(conn, 64*1024)
	writer := bufio.NewWriter(conn)
	if err := WriteLine(writer, Request{Cmd: CmdSubscribe, UserID: c.userID}); err != nil {
		return err
	}

	ackLine, err := ReadLine(reader)
	if err != nil {
		return err
	}
	var ack Ack
	if err := json.Unmarshal(ackLine, &ack); err != nil {
		return fmt.Errorf("invalid push ack: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("push subscribe rejected: %s", formatFrameErr(ack.Error))
	}

	c.setWriter(conn, writer)
	defer c.setWriter(nil, nil)

	if *connected {
		c.logger.Info().Msg("push stream reconnected")
		if err := deliver(ctx, out, models.PushEvent{Kind: models.EventReconnected, Timestamp: time.Now().UTC()}); err != nil {
			return err
		}
	}
	*connected = true

	for {
		line, err := ReadLine(reader)
		if err != nil {
			return err
		}
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.logger.Debug().Err(err).Msg("skipping undecodable push frame")
			continue
		}
		if env.OK != nil && !*env.OK {
			return fmt.Errorf("push stream error: %s", formatFrameErr(env.Error))
		}
		if env.Event == nil || env.Event.Kind == "" {
			continue
		}
		if err := deliver(ctx, out, models.ClonePushEvent(*env.Event)); err != nil {
			return err
		}
	}
}

func deliver(ctx context.Context, out chan<- models.PushEvent, event models.PushEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- event:
		return nil
	}
}

// SendTyping emits an advisory typing signal for channelID. It fails fast
// with ErrNotConnected instead of queueing.
func (c *Client) SendTyping(ctx context.Context, channelID int64) error {
	return c.send(ctx, Request{Cmd: CmdTyping, UserID: c.userID, ChannelID: channelID})
}

func (c *Client) send(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writer == nil || c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	return WriteLine(c.writer, req)
}

func (c *Client) setWriter(conn net.Conn, writer *bufio.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.writer = writer
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.dialTimeout}
	network := "tcp"
	if looksLikeUnixSocket(c.addr) {
		network = "unix"
	}
	return dialer.DialContext(ctx, network, c.addr)
}

func looksLikeUnixSocket(addr string) bool {
	if strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, "./") {
		return true
	}
	return strings.HasSuffix(addr, ".sock") && !strings.Contains(addr, ":")
}
