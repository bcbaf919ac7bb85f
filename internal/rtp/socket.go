package rtp

import (
	"net"
	"syscall"

	ovio "github.com/openvocs/ovio"
	"github.com/openvocs/ovio/internal/bufpool"
	"github.com/openvocs/ovio/internal/logging"
)

// mtu bounds a single datagram read; RTP over Ethernet never needs
// more.
const mtu = 1500

// SocketAdapter owns one datagram socket and feeds decoded frames into
// a JitterBuffer. It is driven by the reactor: ReadOnce is called once
// per read-readiness event.
type SocketAdapter struct {
	conn     net.PacketConn
	buffer   *JitterBuffer
	logger   *logging.Logger
	observer ovio.Observer
}

// NewSocketAdapter wraps conn (typically a *net.UDPConn) to feed
// buffer.
func NewSocketAdapter(conn net.PacketConn, buffer *JitterBuffer, logger *logging.Logger, observer ovio.Observer) *SocketAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("rtp")
	if observer == nil {
		observer = ovio.NoOpObserver{}
	}
	return &SocketAdapter{conn: conn, buffer: buffer, logger: logger, observer: observer}
}

// FD returns the adapter's underlying file descriptor for registration
// with a reactor, without duplicating it.
func (s *SocketAdapter) FD() (int, error) {
	sc, ok := s.conn.(syscall.Conn)
	if !ok {
		return -1, ovio.NewError("rtp.SocketAdapter.FD", ovio.ErrInvalidArgument, "connection does not expose a raw fd")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, ovio.WrapError("rtp.SocketAdapter.FD", err)
	}

	var fd int
	ctrlErr := raw.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return -1, ovio.WrapError("rtp.SocketAdapter.FD", ctrlErr)
	}
	return fd, nil
}

// ReadOnce reads exactly one datagram into a pooled MTU-sized buffer,
// decodes it, and pushes the frame into the jitter buffer. A malformed
// datagram is logged and dropped; the caller's fd registration is left
// untouched, so the next readiness event is handled normally.
func (s *SocketAdapter) ReadOnce() {
	buf := bufpool.Get(mtu)
	defer bufpool.Put(buf)

	n, _, err := s.conn.ReadFrom(buf)
	if err != nil {
		s.logger.Warnf("rtp: datagram read failed: %v", err)
		return
	}

	frame, err := Unmarshal(buf[:n])
	if err != nil {
		s.observer.ObserveRTP(0, 0, 1)
		s.logger.WithErrorKind(ovio.ErrProtocolMismatch).Warnf("rtp: dropping malformed datagram: %v", err)
		return
	}

	s.buffer.Add(frame)
}

// Close closes the underlying connection.
func (s *SocketAdapter) Close() error {
	return s.conn.Close()
}
