package signetdev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"signet/internal/account"
	"signet/internal/keyboard"
)

// Client errors
var (
	ErrNotConnected   = errors.New("signetdev: not connected")
	ErrConnectionLost = errors.New("signetdev: connection lost")
	ErrTimeout        = errors.New("signetdev: request timeout")
)

// ClientConfig configures a Client.
type ClientConfig struct {
	RequestTimeout time.Duration
	ResponseBuffer int
	Logger         *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RequestTimeout: 10 * time.Second,
		ResponseBuffer: 64,
	}
}

// Client multiplexes commands over one device connection. One goroutine
// reads responses; writes are serialised by a mutex. Responses nobody waits
// for synchronously are published on Responses.
type Client struct {
	mu   sync.Mutex
	conn io.ReadWriteCloser
	log  *slog.Logger

	connected atomic.Bool
	nextToken atomic.Uint32

	pending   map[uint32]chan *Response
	pendingMu sync.Mutex

	responses chan *Response
	timeout   time.Duration

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient starts a client on an open transport.
func NewClient(conn io.ReadWriteCloser, cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ResponseBuffer <= 0 {
		cfg.ResponseBuffer = def.ResponseBuffer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		conn:      conn,
		log:       log.With(slog.String("component", "signetdev")),
		pending:   make(map[uint32]chan *Response),
		responses: make(chan *Response, cfg.ResponseBuffer),
		timeout:   cfg.RequestTimeout,
		closed:    make(chan struct{}),
	}
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop()
	return c
}

// Open dials the configured transport and starts a client on it.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	conn, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, ClientConfig{
		RequestTimeout: cfg.RequestTimeout,
		Logger:         cfg.Logger,
	}), nil
}

// IsConnected reports whether the transport is still usable.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Responses delivers completions of commands issued with Send. The channel
// is closed when the connection ends.
func (c *Client) Responses() <-chan *Response {
	return c.responses
}

// Close shuts the connection down and waits for the reader to exit.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.connected.Store(false)
		err = c.conn.Close()
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		c.log.Warn("reader did not stop")
	}
	return err
}

func (c *Client) token() uint32 {
	for {
		if t := c.nextToken.Add(1); t != 0 {
			return t
		}
	}
}

func (c *Client) write(cmd Command, token uint32, payload []byte) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := NewFrame(cmd, token, payload).Write(c.conn); err != nil {
		c.connectionLost(err)
		return fmt.Errorf("write %s: %w", cmd, err)
	}
	return nil
}

// Send queues a command and returns its token without waiting. The
// completion arrives on Responses.
func (c *Client) Send(cmd Command, payload []byte) (uint32, error) {
	tok := c.token()
	if err := c.write(cmd, tok, payload); err != nil {
		return 0, err
	}
	c.log.Debug("command sent", "cmd", cmd, "seq", tok)
	return tok, nil
}

// Request sends a command and waits for its completion.
func (c *Client) Request(ctx context.Context, cmd Command, payload []byte) (*Response, error) {
	tok := c.token()
	ch := make(chan *Response, 1)

	c.pendingMu.Lock()
	c.pending[tok] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, tok)
		c.pendingMu.Unlock()
	}()

	if err := c.write(cmd, tok, payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrConnectionLost
		}
		if err := resp.Err(); err != nil {
			return resp, err
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", cmd, ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrNotConnected
	}
}

// TypeRaw makes the device type raw key reports. It returns as soon as the
// command is written; the confirmation arrives on Responses.
func (c *Client) TypeRaw(codes []byte, keyCount int) (uint32, error) {
	p, err := EncodeTypeRaw(codes, keyCount)
	if err != nil {
		return 0, err
	}
	return c.Send(CmdTypeRaw, p)
}

// Stop releases any key the device is holding.
func (c *Client) Stop() (uint32, error) {
	return c.TypeRaw([]byte{0, 0}, 1)
}

// Startup reads firmware version and lock state.
func (c *Client) Startup(ctx context.Context) (DeviceInfo, error) {
	resp, err := c.Request(ctx, CmdStartup, nil)
	if err != nil {
		return DeviceInfo{}, err
	}
	return DecodeDeviceInfo(resp.Payload)
}

// ReadEntries reads all raw entry blocks of a module.
func (c *Client) ReadEntries(ctx context.Context, module string) ([]account.VersionedBlock, error) {
	p, err := EncodeModule(module)
	if err != nil {
		return nil, err
	}
	resp, err := c.Request(ctx, CmdReadEntries, p)
	if err != nil {
		return nil, err
	}
	return DecodeEntries(resp.Payload)
}

// AddEntry stores a new entry block in a module and returns the id the
// device gave it. b.EntryID is ignored.
func (c *Client) AddEntry(ctx context.Context, module string, b account.VersionedBlock) (int, error) {
	p, err := EncodeAddEntry(module, b)
	if err != nil {
		return 0, err
	}
	resp, err := c.Request(ctx, CmdAddEntry, p)
	if err != nil {
		return 0, err
	}
	return DecodeEntryID(resp.Payload)
}

// GetKeyboardLayout reads the layout stored on the device.
func (c *Client) GetKeyboardLayout(ctx context.Context) (keyboard.Layout, error) {
	resp, err := c.Request(ctx, CmdGetKeyboardLayout, nil)
	if err != nil {
		return nil, err
	}
	var l keyboard.Layout
	if err := l.UnmarshalBinary(resp.Payload); err != nil {
		return nil, err
	}
	return l, nil
}

// SetKeyboardLayout stores a layout on the device.
func (c *Client) SetKeyboardLayout(ctx context.Context, l keyboard.Layout) error {
	p, err := l.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.Request(ctx, CmdSetKeyboardLayout, p)
	return err
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.responses)

	for {
		f, err := ReadFrame(c.conn)
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.connectionLost(err)
			}
			c.failPending()
			return
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f *Frame) {
	if !f.IsResponse() {
		c.log.Warn("ignoring non-response frame", "cmd", f.Header.Command)
		return
	}
	resp, err := responseFromFrame(f)
	if err != nil {
		c.log.Warn("bad response frame", "error", err)
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[resp.Token]
	if ok {
		delete(c.pending, resp.Token)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- resp
		return
	}

	select {
	case c.responses <- resp:
	case <-c.closed:
	default:
		c.log.Warn("response dropped, consumer too slow", "cmd", resp.Command, "seq", resp.Token)
	}
}

func (c *Client) connectionLost(err error) {
	if c.connected.Swap(false) {
		c.log.Error("device connection lost", "error", err)
	}
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for tok, ch := range c.pending {
		close(ch)
		delete(c.pending, tok)
	}
}
