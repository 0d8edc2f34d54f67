package destination

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/causalprof/profilomatic/pkg/compression"
	"github.com/causalprof/profilomatic/pkg/profiler"
)

// SocketConfig configures the TCP streaming sink.
type SocketConfig struct {
	Address  string
	Compress bool // snappy-frame each record when true
	DialTimeout time.Duration
}

// Socket streams each emitted root as a length-prefixed JSON record
// over a persistent TCP connection, optionally snappy-compressed,
// mirroring the original library's raw socket output destination.
type Socket struct {
	mu       sync.Mutex
	address  string
	compress bool
	dialTO   time.Duration

	conn net.Conn
	w    *bufio.Writer
}

// NewSocket creates a Socket sink. The connection is established lazily
// on first Send so a misconfigured address doesn't fail startup.
func NewSocket(cfg SocketConfig) *Socket {
	dialTO := cfg.DialTimeout
	if dialTO <= 0 {
		dialTO = 5 * time.Second
	}
	return &Socket{address: cfg.Address, compress: cfg.Compress, dialTO: dialTO}
}

// Name identifies this sink for Fanout's failure logging.
func (s *Socket) Name() string { return "socket" }

// Send writes root as one length-prefixed frame. On a write error the
// connection is dropped so the next Send reconnects.
func (s *Socket) Send(root *profiler.CallGraphRoot) error {
	data, err := root.ToJSON()
	if err != nil {
		return fmt.Errorf("destination/socket: marshal root: %w", err)
	}

	if s.compress {
		compressed, err := compression.NewSnappyCompressor().Compress(data)
		if err != nil {
			return fmt.Errorf("destination/socket: compress: %w", err)
		}
		data = compressed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := s.connectLocked(); err != nil {
			return err
		}
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := s.w.Write(lenBuf[:]); err != nil {
		s.closeLocked()
		return fmt.Errorf("destination/socket: write length: %w", err)
	}
	if _, err := s.w.Write(data); err != nil {
		s.closeLocked()
		return fmt.Errorf("destination/socket: write payload: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		s.closeLocked()
		return fmt.Errorf("destination/socket: flush: %w", err)
	}
	return nil
}

func (s *Socket) connectLocked() error {
	conn, err := net.DialTimeout("tcp", s.address, s.dialTO)
	if err != nil {
		return fmt.Errorf("destination/socket: dial %s: %w", s.address, err)
	}
	s.conn = conn
	s.w = bufio.NewWriter(conn)
	return nil
}

func (s *Socket) closeLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.w = nil
	}
}

// Close releases the underlying connection, if any.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}
