package cmv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
)

const (
	// DefaultPort is the TCP port of the Helty Flow controller.
	DefaultPort = 5001

	// DefaultTimeout bounds one connect, write and read exchange.
	DefaultTimeout = 10 * time.Second

	// maxResponseSize is the size of the single read per exchange.
	maxResponseSize = 1024
)

// Config identifies one CMV unit.
type Config struct {
	Host string
	Port int

	// Name is the display name. Default: Host.
	Name string

	// Timeout for a whole exchange. Default: 10 seconds.
	Timeout time.Duration
}

// Stats holds operational statistics.
type Stats struct {
	CommandsSent   uint64    `json:"commands_sent"`
	CommandsFailed uint64    `json:"commands_failed"`
	WentOffline    uint64    `json:"went_offline"` // online true -> false transitions
	CameOnline     uint64    `json:"came_online"`  // online false -> true transitions
	LastSuccess    time.Time `json:"last_success"`
	Online         bool      `json:"online"`
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Dialer opens the per-command TCP connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option customises a Client.
type Option func(*Client)

// WithDialer replaces the default net.Dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger used for online/offline transitions.
func WithLogger(l Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client talks to one CMV unit. Every command opens a fresh TCP
// connection, sends the command, reads one response and closes.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Concurrent commands use
//     independent connections.
type Client struct {
	host    string
	port    int
	id      string
	name    string
	timeout time.Duration
	dialer  Dialer
	logger  Logger

	// online is written only by ExecuteCommand.
	onlineMu sync.RWMutex
	online   bool

	commandsSent   atomic.Uint64
	commandsFailed atomic.Uint64
	wentOffline    atomic.Uint64
	cameOnline     atomic.Uint64
	lastSuccess    atomic.Int64 // Unix nanoseconds
}

// New creates a Client for cfg. The device starts out assumed online.
//
// Parameters:
//   - cfg: Device host, port, display name and exchange timeout
//   - opts: Optional dialer and logger
//
// Returns:
//   - *Client: Client ready to issue commands; no connection is held between commands
func New(cfg Config, opts ...Option) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Host
	}

	c := &Client{
		host:    cfg.Host,
		port:    cfg.Port,
		id:      strings.ToLower(cfg.Host),
		name:    cfg.Name,
		timeout: cfg.Timeout,
		dialer:  &net.Dialer{},
		logger:  noopLogger{},
		online:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the device identifier (the lower-cased host).
func (c *Client) ID() string { return c.id }

// Name returns the display name.
func (c *Client) Name() string { return c.name }

// Host returns the configured host.
func (c *Client) Host() string { return c.host }

// Port returns the configured port.
func (c *Client) Port() int { return c.port }

// Address returns host:port.
func (c *Client) Address() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Online reports whether the last exchange reached the device.
func (c *Client) Online() bool {
	c.onlineMu.RLock()
	defer c.onlineMu.RUnlock()
	return c.online
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	var last time.Time
	if ns := c.lastSuccess.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		CommandsSent:   c.commandsSent.Load(),
		CommandsFailed: c.commandsFailed.Load(),
		WentOffline:    c.wentOffline.Load(),
		CameOnline:     c.cameOnline.Load(),
		LastSuccess:    last,
		Online:         c.Online(),
	}
}

// ExecuteCommand performs one request/response exchange and returns the
// response as trimmed ASCII text.
//
// The whole exchange (connect, write, read) is bounded by the client
// timeout. Any I/O failure is returned wrapped in ErrDeviceUnreachable
// and marks the device offline; the first success afterwards marks it
// online again. Each transition is logged once.
//
// Parameters:
//   - ctx: Cancels the exchange early; the client timeout applies regardless
//   - cmd: ASCII command to send
//
// Returns:
//   - string: Response with surrounding whitespace removed
//   - error: ErrDeviceUnreachable wrapping the I/O failure
func (c *Client) ExecuteCommand(ctx context.Context, cmd Command) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.commandsSent.Add(1)

	raw, err := c.exchange(ctx, cmd)
	if err != nil {
		c.commandsFailed.Add(1)
		c.setOnline(false, err)
		return "", fmt.Errorf("%w: %s: %w", ErrDeviceUnreachable, c.Address(), err)
	}

	c.lastSuccess.Store(time.Now().UnixNano())
	c.setOnline(true, nil)

	if !isASCII(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidResponse, raw)
	}
	return strings.TrimSpace(string(raw)), nil
}

// exchange dials, writes cmd and performs a single read.
func (c *Client) exchange(ctx context.Context, cmd Command) ([]byte, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.Address())
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("setting deadline: %w", err)
		}
	}
	// Unblock I/O if the caller's context ends before the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0)) //nolint:errcheck // best-effort unblock
	})
	defer stop()

	if _, err := conn.Write([]byte(cmd)); err != nil {
		return nil, fmt.Errorf("writing command: %w", err)
	}

	buf := make([]byte, maxResponseSize)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return buf[:n], nil
}

// setOnline records reachability and logs only on transitions.
func (c *Client) setOnline(online bool, cause error) {
	c.onlineMu.Lock()
	changed := c.online != online
	c.online = online
	c.onlineMu.Unlock()

	if !changed {
		return
	}
	if online {
		c.cameOnline.Add(1)
		c.logger.Info("cmv device back online", "device_id", c.id, "name", c.name)
		return
	}
	c.wentOffline.Add(1)
	c.logger.Warn("cmv device offline", "device_id", c.id, "name", c.name, "address", c.Address(), "error", cause)
}

func isASCII(b []byte) bool {
	for _, ch := range b {
		if ch > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
