//go:build linux || darwin
// +build linux darwin

package utils

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// SocketCANReader implements CANReader using Einride's socketcan
type SocketCANReader struct {
	conn   net.Conn
	recv   *socketcan.Receiver
	frames chan can.Frame
	done   chan struct{}
	err    error // set before frames is closed
	once   sync.Once
}

// NewSocketCANReader creates a new SocketCAN reader
func NewSocketCANReader(ctx context.Context, ifname string, retries int) (*SocketCANReader, error) {
	conn, err := dialSocketCAN(ctx, ifname, retries)
	if err != nil {
		return nil, err
	}

	r := &SocketCANReader{
		conn:   conn,
		recv:   socketcan.NewReceiver(conn),
		frames: make(chan can.Frame, 16),
		done:   make(chan struct{}),
	}
	go r.receive()
	return r, nil
}

// receive owns the socket until Close; one goroutine per reader.
func (r *SocketCANReader) receive() {
	defer close(r.frames)
	for r.recv.Receive() {
		select {
		case r.frames <- r.recv.Frame():
		case <-r.done:
			r.err = fmt.Errorf("receive: reader closed")
			return
		}
	}
	r.err = r.recv.Err()
	if r.err == nil {
		r.err = fmt.Errorf("receive: socket closed")
	}
}

// ReadFrame returns the next frame or ctx's error.
func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case frame, ok := <-r.frames:
		if !ok {
			return can.Frame{}, r.err
		}
		return frame, nil
	}
}

// Close closes the CAN socket
func (r *SocketCANReader) Close() error {
	r.once.Do(func() { close(r.done) })
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
