// Package network abstracts the datagram socket used by the telemetry
// transport so the protocol can be exercised without a real network.
package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket is the client-side datagram channel. The transport writes
// reports to the resolved destination and the receive loop reads
// acknowledgments from the same socket.
type UDPSocket interface {
	// WriteToUDP sends a datagram to addr.
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)

	// ReadFromUDP reads the next inbound datagram.
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)

	// SetReadDeadline bounds the next ReadFromUDP call.
	SetReadDeadline(t time.Time) error

	// Close releases the socket. A blocked ReadFromUDP returns with an
	// error once the socket is closed.
	Close() error

	// LocalAddr returns the bound local address.
	LocalAddr() net.Addr
}

// UDPSocketFactory opens sockets; injected so tests never touch the network.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocket wraps *net.UDPConn.
type RealUDPSocket struct {
	conn *net.UDPConn
}

// NewRealUDPSocket wraps an existing connection.
func NewRealUDPSocket(conn *net.UDPConn) *RealUDPSocket {
	return &RealUDPSocket{conn: conn}
}

// WriteToUDP sends a datagram to addr.
func (r *RealUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	return r.conn.WriteToUDP(b, addr)
}

// ReadFromUDP reads from the connection.
func (r *RealUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	return r.conn.ReadFromUDP(b)
}

// SetReadDeadline sets the read deadline.
func (r *RealUDPSocket) SetReadDeadline(t time.Time) error {
	return r.conn.SetReadDeadline(t)
}

// Close closes the connection.
func (r *RealUDPSocket) Close() error {
	return r.conn.Close()
}

// LocalAddr returns the bound local address.
func (r *RealUDPSocket) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// RealUDPSocketFactory opens sockets with net.ListenUDP.
type RealUDPSocketFactory struct{}

// ListenUDP opens a real UDP socket.
func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return NewRealUDPSocket(conn), nil
}

// MockUDPSocket implements UDPSocket in memory for tests. Inbound datagrams
// are queued with Inject; outbound datagrams are captured in Sent.
type MockUDPSocket struct {
	mu sync.Mutex

	inbound chan []byte
	closed  bool

	// Sent records every outbound datagram in order.
	Sent []MockSentDatagram
	// WriteErr, when set, is returned by every WriteToUDP call.
	WriteErr error
}

// MockSentDatagram is one captured outbound datagram.
type MockSentDatagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockUDPSocket returns an empty mock socket.
func NewMockUDPSocket() *MockUDPSocket {
	return &MockUDPSocket{inbound: make(chan []byte, 64)}
}

// Inject queues an inbound datagram for the next ReadFromUDP.
func (m *MockUDPSocket) Inject(b []byte) {
	m.inbound <- append([]byte(nil), b...)
}

// WriteToUDP captures the datagram.
func (m *MockUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.Sent = append(m.Sent, MockSentDatagram{Data: append([]byte(nil), b...), Addr: addr})
	return len(b), nil
}

// SentCount returns how many datagrams have been written.
func (m *MockUDPSocket) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// SentData returns a copy of the captured datagrams.
func (m *MockUDPSocket) SentData() []MockSentDatagram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockSentDatagram(nil), m.Sent...)
}

// SetWriteErr makes subsequent writes fail (or succeed again when nil).
func (m *MockUDPSocket) SetWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteErr = err
}

// ReadFromUDP returns the next injected datagram, a timeout when none is
// queued, or net.ErrClosed after Close.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	m.mu.Unlock()

	select {
	case pkt, ok := <-m.inbound:
		if !ok {
			return 0, nil, net.ErrClosed
		}
		n := copy(b, pkt)
		return n, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 41234}, nil
	default:
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
}

// SetReadDeadline is a no-op for the mock.
func (m *MockUDPSocket) SetReadDeadline(t time.Time) error { return nil }

// Close marks the socket closed.
func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// LocalAddr returns a fixed loopback address.
func (m *MockUDPSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40000}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
