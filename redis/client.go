package redis

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Connection handling and the RESP codec. The store speaks the protocol
// directly over a small channel-based connection pool; the command surface
// is the minimal capability set the engine needs: string get/set/del/exists
// plus ttl and hash primitives for the tag ledger.

type dialFunc func(context.Context, Options) (net.Conn, error)

type clientConn struct {
	net.Conn
	reader *bufio.Reader
}

// WithDial allows overriding the dialer (useful for tests/mocks).
func (s *Store) WithDial(fn dialFunc) {
	if fn != nil {
		s.dialFn = fn
	}
}

func (s *Store) withConn(ctx context.Context, fn func(*clientConn) error) error {
	conn, err := s.acquireConn(ctx)
	if err != nil {
		return err
	}
	broken := false
	defer func() {
		s.releaseConn(conn, broken)
	}()
	if err := fn(conn); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || isTimeout(err) {
			broken = true
		}
		return err
	}
	return nil
}

// do runs a single command on a pooled connection and returns the decoded
// reply.
func (s *Store) do(ctx context.Context, parts ...string) (any, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var resp any
	err := s.withConn(ctx, func(conn *clientConn) error {
		if err := s.send(conn, parts...); err != nil {
			return err
		}
		r, err := s.read(conn)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

func (s *Store) doOK(ctx context.Context, parts ...string) error {
	resp, err := s.do(ctx, parts...)
	if err != nil {
		return err
	}
	if msg, ok := resp.(string); ok && strings.EqualFold(msg, "OK") {
		return nil
	}
	return fmt.Errorf("redis: %s failed: %v", parts[0], resp)
}

func (s *Store) doInt(ctx context.Context, parts ...string) (int64, error) {
	resp, err := s.do(ctx, parts...)
	if err != nil {
		return 0, err
	}
	n, ok := resp.(int64)
	if !ok {
		return 0, fmt.Errorf("redis: %s: unexpected response %T", parts[0], resp)
	}
	return n, nil
}

// doBytes returns the bulk-string reply, or (nil, false) for a nil reply.
func (s *Store) doBytes(ctx context.Context, parts ...string) ([]byte, bool, error) {
	resp, err := s.do(ctx, parts...)
	if err != nil {
		return nil, false, err
	}
	switch v := resp.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return append([]byte(nil), v...), true, nil
	default:
		return nil, false, fmt.Errorf("redis: %s: unexpected response %T", parts[0], resp)
	}
}

func (s *Store) dial(ctx context.Context) (net.Conn, error) {
	if s.dialFn == nil {
		s.dialFn = defaultDial
	}
	return s.dialFn(ctx, s.opts)
}

func (s *Store) handshake(conn net.Conn, reader *bufio.Reader) error {
	if s.opts.Password != "" {
		if err := s.sendRaw(conn, "AUTH", s.opts.Password); err != nil {
			return err
		}
		if err := s.expectOK(reader); err != nil {
			return err
		}
	}
	if s.opts.DB > 0 {
		if err := s.sendRaw(conn, "SELECT", strconv.Itoa(s.opts.DB)); err != nil {
			return err
		}
		if err := s.expectOK(reader); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) expectOK(reader *bufio.Reader) error {
	resp, err := decodeRESP(reader)
	if err != nil {
		return err
	}
	if msg, ok := resp.(string); ok && strings.EqualFold(msg, "OK") {
		return nil
	}
	return fmt.Errorf("redis: expected OK, got %v", resp)
}

func (s *Store) send(conn *clientConn, parts ...string) error {
	if err := applyDeadline(conn.SetWriteDeadline, s.opts.WriteTimeout); err != nil {
		return err
	}
	payload := buildCommand(parts...)
	_, err := conn.Write(payload)
	return err
}

func (s *Store) read(conn *clientConn) (any, error) {
	if err := applyDeadline(conn.SetReadDeadline, s.opts.ReadTimeout); err != nil {
		return nil, err
	}
	return decodeRESP(conn.reader)
}

// Pipeline acquires a dedicated connection and allows batching commands
// before reading their responses, reducing round-trips under load. The tag
// ledger reads ride on this: one HGET per tag, settled in a single exchange.
func (s *Store) Pipeline(ctx context.Context) (*Pipeline, error) {
	conn, err := s.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	return &Pipeline{store: s, conn: conn}, nil
}

type Pipeline struct {
	store   *Store
	conn    *clientConn
	cmds    [][]string
	closed  bool
	closing sync.Mutex
}

// Queue appends a command to the pipeline.
func (p *Pipeline) Queue(parts ...string) {
	if p.closed {
		return
	}
	p.cmds = append(p.cmds, append([]string(nil), parts...))
}

// Exec sends all queued commands and reads the replies in order.
func (p *Pipeline) Exec(ctx context.Context) ([]any, error) {
	if p.closed {
		return nil, errors.New("redis pipeline closed")
	}
	if len(p.cmds) == 0 {
		return nil, nil
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var broken bool
	defer func() {
		p.closeInternal(broken)
	}()
	for _, cmd := range p.cmds {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		if err := p.store.send(p.conn, cmd...); err != nil {
			broken = true
			return nil, err
		}
	}
	responses := make([]any, 0, len(p.cmds))
	for range p.cmds {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		resp, err := p.store.read(p.conn)
		if err != nil {
			broken = true
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// Close releases the underlying connection without executing queued commands.
func (p *Pipeline) Close() {
	p.closeInternal(false)
}

func (p *Pipeline) closeInternal(broken bool) {
	p.closing.Lock()
	defer p.closing.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.store.releaseConn(p.conn, broken)
}

func (s *Store) acquireConn(ctx context.Context) (*clientConn, error) {
	select {
	case conn := <-s.pool:
		return conn, nil
	default:
		return s.newConn(ctx)
	}
}

func (s *Store) releaseConn(conn *clientConn, broken bool) {
	if conn == nil {
		return
	}
	if broken {
		_ = conn.Close()
		return
	}
	select {
	case s.pool <- conn:
	default:
		_ = conn.Close()
	}
}

func (s *Store) newConn(ctx context.Context) (*clientConn, error) {
	nc, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	reader := bufio.NewReader(nc)
	if err := s.handshake(nc, reader); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return &clientConn{Conn: nc, reader: reader}, nil
}

// sendRaw is used during handshake before the buffered reader is available.
func (s *Store) sendRaw(conn net.Conn, parts ...string) error {
	if err := applyDeadline(conn.SetWriteDeadline, s.opts.WriteTimeout); err != nil {
		return err
	}
	payload := buildCommand(parts...)
	_, err := conn.Write(payload)
	return err
}

func defaultDial(ctx context.Context, opts Options) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	return dialer.DialContext(ctx, "tcp", opts.Addr)
}

func buildCommand(parts ...string) []byte {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "*%d\r\n", len(parts))
	for _, part := range parts {
		fmt.Fprintf(buf, "$%d\r\n%s\r\n", len(part), part)
	}
	return buf.Bytes()
}

func decodeRESP(r *bufio.Reader) (any, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\r\n")
	switch prefix {
	case '+':
		return line, nil
	case '-':
		return nil, errors.New(line)
	case ':':
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	case '$':
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, err
		}
		if n == -1 {
			return nil, nil
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		if err := consumeCRLF(r); err != nil {
			return nil, err
		}
		return data, nil
	case '*':
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, err
		}
		if n == -1 {
			return nil, nil
		}
		arr := make([]any, n)
		for i := 0; i < int(n); i++ {
			val, err := decodeRESP(r)
			if err != nil {
				return nil, err
			}
			arr[i] = val
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("redis: unsupported RESP prefix %q", prefix)
	}
}

func consumeCRLF(r *bufio.Reader) error {
	b1, err := r.ReadByte()
	if err != nil {
		return err
	}
	b2, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return errors.New("redis: malformed RESP terminator")
	}
	return nil
}

func applyDeadline(setter func(time.Time) error, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	return setter(time.Now().Add(timeout))
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
