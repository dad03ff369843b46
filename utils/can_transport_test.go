package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"
)

type flakyWriter struct {
	failures int
	sent     []can.Frame
}

func (w *flakyWriter) WriteFrame(_ context.Context, f can.Frame) error {
	if w.failures > 0 {
		w.failures--
		return errors.New("no buffer space available")
	}
	w.sent = append(w.sent, f)
	return nil
}

func (w *flakyWriter) Close() error { return nil }

type scriptedReader struct {
	frames []can.Frame
}

func (r *scriptedReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	if len(r.frames) == 0 {
		<-ctx.Done()
		return can.Frame{}, ctx.Err()
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, nil
}

func (r *scriptedReader) Close() error { return nil }

func TestWriteWithRetry(t *testing.T) {
	w := &flakyWriter{failures: 2}
	var attempts int
	err := WriteWithRetry(context.Background(), w, can.Frame{ID: 0x5A0, Length: 8}, 3,
		func(error, time.Duration) { attempts++ })

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	require.Len(t, w.sent, 1)
	assert.Equal(t, uint32(0x5A0), w.sent[0].ID)
}

func TestWriteWithRetryGivesUp(t *testing.T) {
	w := &flakyWriter{failures: 10}
	err := WriteWithRetry(context.Background(), w, can.Frame{ID: 0x5A0}, 1, nil)
	assert.Error(t, err)
	assert.Empty(t, w.sent)
	assert.Equal(t, 8, w.failures, "one try plus one retry")
}

func TestWriteWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &flakyWriter{failures: 10}
	err := WriteWithRetry(ctx, w, can.Frame{ID: 0x5A0}, 5, nil)
	assert.Error(t, err)
	assert.Equal(t, 9, w.failures)
}

func TestWaitForFrame(t *testing.T) {
	r := &scriptedReader{frames: []can.Frame{{ID: 0x100}, {ID: 0x5A2, Length: 2, Data: can.Data{1}}}}
	f, err := WaitForFrame(context.Background(), r, 0x5A2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), f.Data[0])

	_, err = WaitForFrame(context.Background(), r, 0x5A2, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteWithRetryZeroRetries(t *testing.T) {
	w := &flakyWriter{failures: 10}
	err := WriteWithRetry(context.Background(), w, can.Frame{ID: 0x5A0}, 0, nil)
	assert.Error(t, err)
	assert.Equal(t, 9, w.failures)
}
