package utils

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

// CANReader defines the interface for reading CAN frames
type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
}

// RetryPolicy returns the exponential backoff used for SocketCAN dial and
// transmit, giving up after retries further attempts or when ctx ends.
// retries <= 0 allows a single attempt.
func RetryPolicy(ctx context.Context, retries int) backoff.BackOff {
	if retries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      5 * time.Second,
		Clock:               backoff.SystemClock,
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// dialSocketCAN opens iface, retrying transient failures.
func dialSocketCAN(ctx context.Context, iface string, retries int) (net.Conn, error) {
	var conn net.Conn
	op := func() error {
		c, err := socketcan.DialContext(ctx, "can", iface)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, RetryPolicy(ctx, retries)); err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return conn, nil
}

func NewSocketCANWriter(ctx context.Context, iface string, retries int) (*SocketCANWriter, error) {
	conn, err := dialSocketCAN(ctx, iface, retries)
	if err != nil {
		return nil, err
	}
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	return w.tx.TransmitFrame(ctx, frame)
}

func (w *SocketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// WriteWithRetry transmits frame, retrying with RetryPolicy.
// notify, when non-nil, sees each failed attempt.
func WriteWithRetry(ctx context.Context, w CANWriter, frame can.Frame, retries int, notify func(error, time.Duration)) error {
	op := func() error {
		err := w.WriteFrame(ctx, frame)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, RetryPolicy(ctx, retries), notify)
}

// WaitForFrame reads until a frame with id arrives or timeout elapses.
func WaitForFrame(ctx context.Context, r CANReader, id uint32, timeout time.Duration) (can.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		f, err := r.ReadFrame(ctx)
		if err != nil {
			return can.Frame{}, fmt.Errorf("waiting for frame 0x%X: %w", id, err)
		}
		if f.ID == id {
			return f, nil
		}
	}
}
