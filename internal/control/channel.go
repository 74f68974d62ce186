// Package control implements the loopback command channel the agent uses
// to steer the pipeline. Frames are a four ASCII digit decimal length
// followed by the payload, in both directions; the very first frame must
// carry the shared secret handed to the agent out of band.
package control

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/vmtel/vmeventbuf/internal/errors"
	"github.com/vmtel/vmeventbuf/internal/observability"
)

// Commander is the pipeline surface the command channel drives.
type Commander interface {
	Disable() error
	SetNotificationEnabled(kind int, enabled bool) error
	DrainQueues(force, stopAfter bool) error
	RegisterAgent(name string) error
	RegisterCallback(kind int, method string) error
}

// Config carries the per-frame I/O deadlines. A stalled peer can hold a
// frame open for at most ReadTimeout before the connection is dropped.
type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const (
	defaultReadTimeout  = 2 * time.Minute
	defaultWriteTimeout = 10 * time.Second

	frameLenDigits = 4
	maxFrameSize   = 1024
)

// Channel is the listening side of the command protocol. It serves one
// agent connection at a time.
type Channel struct {
	ln     net.Listener
	port   int
	secret string
	cmd    Commander
	cfg    Config

	log     *slog.Logger
	metrics *observability.Metrics

	stop atomic.Bool

	connMu sync.Mutex
	conn   net.Conn
}

// Listen binds a loopback listener on an ephemeral port and generates the
// connection secret.
func Listen(cfg Config, cmd Commander, log *slog.Logger, metrics *observability.Metrics) (*Channel, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to bind control listener: %w", err)
	}

	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to generate control secret: %w", err)
	}

	c := &Channel{
		ln:      ln,
		port:    ln.Addr().(*net.TCPAddr).Port,
		secret:  strconv.FormatUint(binary.BigEndian.Uint64(raw[:]), 10),
		cmd:     cmd,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
	}
	log.Info("control channel listening", "port", c.port)
	return c, nil
}

// Port returns the bound loopback port.
func (c *Channel) Port() int { return c.port }

// AgentArgs returns the handoff string carrying the connection endpoint
// and secret, in the form the agent bootstrap expects.
func (c *Channel) AgentArgs() string {
	return fmt.Sprintf("agentAuth=%d+%s,", c.port, c.secret)
}

// Serve accepts and handles agent connections until Stop is called or a
// disable command winds the channel down. Connections are handled one at
// a time.
func (c *Channel) Serve() error {
	defer c.ln.Close()
	for !c.stop.Load() {
		conn, err := c.ln.Accept()
		if err != nil {
			if c.stop.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("control accept failed: %w", err)
		}
		c.handle(conn)
	}
	return nil
}

// Stop ends the serve loop, closing the listener and any connected agent
// so a frame read in flight unblocks immediately.
func (c *Channel) Stop() {
	if c.stop.Swap(true) {
		return
	}
	c.ln.Close()
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()
}

func (c *Channel) handle(conn net.Conn) {
	c.connMu.Lock()
	if c.stop.Load() {
		c.connMu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
	}()

	frame, err := c.readFrame(conn)
	if err != nil {
		c.log.Warn("control handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	if frame != c.secret {
		c.log.Warn("control channel rejected connection",
			"remote", conn.RemoteAddr(), "error", apperrors.ErrAuthFailed)
		return
	}
	if err := c.writeFrame(conn, "OK"); err != nil {
		return
	}
	c.log.Info("agent connected", "remote", conn.RemoteAddr())

	for !c.stop.Load() {
		cmd, err := c.readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Warn("control read failed", "error", err)
			}
			return
		}
		if err := c.writeFrame(conn, c.dispatch(cmd)); err != nil {
			c.log.Warn("control write failed", "error", err)
			return
		}
	}
}

// dispatch runs one command. The reply is always empty; only errors and
// unknown commands differ, and both are logged rather than reported to
// the agent.
func (c *Channel) dispatch(cmd string) string {
	name := cmd
	if i := strings.IndexByte(cmd, '('); i >= 0 {
		name = cmd[:i]
	}
	c.metrics.IncControlCommands(name)

	var err error
	switch {
	case cmd == "disableCRS()":
		err = c.cmd.Disable()
		c.stop.Store(true)

	case strings.HasPrefix(cmd, "enableEventNotifications("):
		var kind, flag int
		if kind, flag, err = twoIntArgs(cmd); err == nil {
			err = c.cmd.SetNotificationEnabled(kind, flag != 0)
		}

	case strings.HasPrefix(cmd, "drainQueues("):
		var force, stopAfter int
		if force, stopAfter, err = twoIntArgs(cmd); err == nil {
			err = c.cmd.DrainQueues(force != 0, stopAfter != 0)
		}

	case strings.HasPrefix(cmd, "registerAgent("):
		var agent string
		if agent, err = args(cmd); err == nil {
			err = c.cmd.RegisterAgent(agent)
		}

	case strings.HasPrefix(cmd, "registerCallback("):
		var inner string
		if inner, err = args(cmd); err == nil {
			kindStr, method, ok := strings.Cut(inner, ",")
			if !ok {
				err = fmt.Errorf("want kind,method arguments, got %q", inner)
				break
			}
			var kind int
			if kind, err = strconv.Atoi(strings.TrimSpace(kindStr)); err == nil {
				err = c.cmd.RegisterCallback(kind, strings.TrimSpace(method))
			}
		}

	default:
		c.log.Warn("unknown control command", "command", cmd)
	}

	if err != nil {
		c.log.Warn("control command failed",
			"error", &apperrors.CommandError{Command: name, Err: err})
	}
	return ""
}

func (c *Channel) readFrame(conn net.Conn) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return "", err
	}

	var head [frameLenDigits]byte
	if _, err := io.ReadFull(conn, head[:]); err != nil {
		return "", err
	}
	n := 0
	for _, d := range head {
		if d < '0' || d > '9' {
			return "", apperrors.ErrBadFrame
		}
		n = n*10 + int(d-'0')
	}
	if n > maxFrameSize {
		return "", apperrors.ErrFrameTooLarge
	}
	if n == 0 {
		return "", nil
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return "", err
	}
	return string(payload), nil
}

func (c *Channel) writeFrame(conn net.Conn, payload string) error {
	if len(payload) > maxFrameSize {
		return apperrors.ErrFrameTooLarge
	}
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(conn, "%04d%s", len(payload), payload)
	return err
}

// args extracts the text between the parentheses of a command.
func args(cmd string) (string, error) {
	open := strings.IndexByte(cmd, '(')
	if open < 0 || !strings.HasSuffix(cmd, ")") {
		return "", fmt.Errorf("malformed command %q", cmd)
	}
	return cmd[open+1 : len(cmd)-1], nil
}

func twoIntArgs(cmd string) (int, int, error) {
	inner, err := args(cmd)
	if err != nil {
		return 0, 0, err
	}
	first, second, ok := strings.Cut(inner, ",")
	if !ok {
		return 0, 0, fmt.Errorf("want two arguments, got %q", inner)
	}
	a, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.Atoi(strings.TrimSpace(second))
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
