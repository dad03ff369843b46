package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"

	tuning "autopilot-gain-tuner/closed_loop/gain_tuning"
	"autopilot-gain-tuner/utils"
)

type recordingWriter struct {
	failures int
	sent     []can.Frame
}

func (w *recordingWriter) WriteFrame(_ context.Context, f can.Frame) error {
	if w.failures > 0 {
		w.failures--
		return errors.New("no buffer space available")
	}
	w.sent = append(w.sent, f)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type queuedReader struct {
	frames []can.Frame
}

func (r *queuedReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	if len(r.frames) == 0 {
		<-ctx.Done()
		return can.Frame{}, ctx.Err()
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, nil
}

func (r *queuedReader) Close() error { return nil }

func testPublisher(t *testing.T, w utils.CANWriter, r utils.CANReader) (*GainPublisher, *utils.CANMap) {
	t.Helper()
	cmap, err := utils.LoadCANMap("../config/can/gains_map.csv")
	require.NoError(t, err)

	cfg := DefaultTuningConfig().CAN
	cfg.AckTimeout = 200 * time.Millisecond
	p, err := newGainPublisher(cfg, cmap, w, r, utils.NewNopLogger())
	require.NoError(t, err)
	return p, cmap
}

func ackFrame(t *testing.T, cmap *utils.CANMap, status, code float64) can.Frame {
	t.Helper()
	f, err := cmap.EncodeFrame("GAINS_ACK", map[string]float64{"status": status, "error_code": code})
	require.NoError(t, err)
	return f
}

func TestPublishSendsBothFrames(t *testing.T) {
	w := &recordingWriter{failures: 1}
	p, cmap := testPublisher(t, w, nil)

	require.NoError(t, p.Publish(context.Background(), DefaultVerifyGains))
	require.Len(t, w.sent, 2)
	assert.Equal(t, uint32(0x5A0), w.sent[0].ID)
	assert.Equal(t, uint32(0x5A1), w.sent[1].ID)

	x, err := cmap.DecodeFrame(w.sent[0])
	require.NoError(t, err)
	assert.InDelta(t, 2.153, x["Kp_x"], 1e-6)
	assert.InDelta(t, 0.096, x["Ki_x"], 1e-6)
	assert.InDelta(t, 0.133, x["Kd_x"], 1e-6)

	y, err := cmap.DecodeFrame(w.sent[1])
	require.NoError(t, err)
	assert.InDelta(t, -0.981, y["Kp_phi"], 1e-8)
	assert.InDelta(t, -0.0001, y["Kp_y"], 1e-10)
}

func TestPublishWaitsForAck(t *testing.T) {
	cmap, err := utils.LoadCANMap("../config/can/gains_map.csv")
	require.NoError(t, err)

	tests := []struct {
		name    string
		frames  []can.Frame
		wantErr string
	}{
		{"accepted after pending", []can.Frame{
			{ID: 0x123, Length: 1},
			ackFrame(t, cmap, 0, 0),
			ackFrame(t, cmap, 1, 0),
		}, ""},
		{"rejected", []can.Frame{ackFrame(t, cmap, 2, 17)}, "rejected gains (error_code=17)"},
		{"unknown status", []can.Frame{ackFrame(t, cmap, 3, 0)}, "unexpected GAINS_ACK status 3"},
		{"no reply", nil, "no GAINS_ACK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &recordingWriter{}
			p, _ := testPublisher(t, w, &queuedReader{frames: tt.frames})

			err := p.Publish(context.Background(), DefaultVerifyGains)
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
			assert.Len(t, w.sent, 2)
		})
	}
}

func TestPublishRejectsBeforeTransmit(t *testing.T) {
	w := &recordingWriter{}
	p, _ := testPublisher(t, w, nil)

	err := p.Publish(context.Background(), tuning.GainVector{-1, 0, 0, 0, 0})
	assert.ErrorIs(t, err, tuning.ErrInvalidGains)

	// Kp_x above the 16 the frame can carry.
	err = p.Publish(context.Background(), tuning.GainVector{20, 0, 0, -1, -0.01})
	assert.ErrorContains(t, err, "Kp_x")
	assert.Empty(t, w.sent)
}

func TestNewGainPublisherChecksFrames(t *testing.T) {
	cmap, err := utils.LoadCANMap("../config/can/gains_map.csv")
	require.NoError(t, err)

	cfg := DefaultTuningConfig().CAN
	cfg.FrameY = "GAINS_ACK"
	_, err = newGainPublisher(cfg, cmap, &recordingWriter{}, nil, utils.NewNopLogger())
	assert.ErrorContains(t, err, "not a tx frame")

	cfg = DefaultTuningConfig().CAN
	cfg.AckFrame = "MISSING"
	_, err = newGainPublisher(cfg, cmap, &recordingWriter{}, &queuedReader{}, utils.NewNopLogger())
	assert.ErrorContains(t, err, "ack frame")
}
