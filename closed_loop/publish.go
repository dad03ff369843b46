package main

import (
	"context"
	"fmt"
	"time"

	"go.einride.tech/can"

	tuning "autopilot-gain-tuner/closed_loop/gain_tuning"
	"autopilot-gain-tuner/utils"
)

// GAINS_ACK status values.
const (
	ackPending  = 0
	ackAccepted = 1
	ackRejected = 2
)

// GainPublisher sends tuned gains to the controller over CAN.
type GainPublisher struct {
	cfg    CANConfig
	cmap   *utils.CANMap
	writer utils.CANWriter
	reader utils.CANReader // nil when no ACK is expected
	ack    *utils.FrameDef
	log    *utils.Logger
}

// NewGainPublisher loads the signal map and opens the CAN interface.
func NewGainPublisher(ctx context.Context, cfg CANConfig, log *utils.Logger) (*GainPublisher, error) {
	cmap, err := utils.LoadCANMap(cfg.MapPath)
	if err != nil {
		return nil, fmt.Errorf("load can map: %w", err)
	}

	writer, err := utils.NewSocketCANWriter(ctx, cfg.Interface, cfg.Retries)
	if err != nil {
		return nil, err
	}

	var reader utils.CANReader
	if cfg.AckFrame != "" {
		r, err := utils.NewSocketCANReader(ctx, cfg.Interface, cfg.Retries)
		if err != nil {
			writer.Close()
			return nil, err
		}
		reader = r
	}

	p, err := newGainPublisher(cfg, cmap, writer, reader, log)
	if err != nil {
		writer.Close()
		if reader != nil {
			reader.Close()
		}
		return nil, err
	}
	return p, nil
}

func newGainPublisher(cfg CANConfig, cmap *utils.CANMap, w utils.CANWriter, r utils.CANReader, log *utils.Logger) (*GainPublisher, error) {
	for _, name := range []string{cfg.FrameX, cfg.FrameY} {
		fd, err := cmap.FrameByName(name)
		if err != nil {
			return nil, fmt.Errorf("frame: %w", err)
		}
		if fd.Direction != utils.DirectionTX {
			return nil, fmt.Errorf("frame %s is not a tx frame", name)
		}
	}

	p := &GainPublisher{cfg: cfg, cmap: cmap, writer: w, reader: r, log: log}
	if r != nil {
		fd, err := cmap.FrameByName(cfg.AckFrame)
		if err != nil {
			return nil, fmt.Errorf("ack frame: %w", err)
		}
		if _, ok := fd.Signal("status"); !ok {
			return nil, fmt.Errorf("ack frame %s has no status signal", fd.Name)
		}
		p.ack = fd
	}
	return p, nil
}

// Frames encodes g into the X and Y gain frames.
func (p *GainPublisher) Frames(g tuning.GainVector) ([]can.Frame, error) {
	fx, err := p.cmap.EncodeFrame(p.cfg.FrameX, map[string]float64{
		tuning.GainNames[tuning.KpX]: g[tuning.KpX],
		tuning.GainNames[tuning.KiX]: g[tuning.KiX],
		tuning.GainNames[tuning.KdX]: g[tuning.KdX],
	})
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	fy, err := p.cmap.EncodeFrame(p.cfg.FrameY, map[string]float64{
		tuning.GainNames[tuning.KpPhi]: g[tuning.KpPhi],
		tuning.GainNames[tuning.KpY]:   g[tuning.KpY],
	})
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return []can.Frame{fx, fy}, nil
}

// Publish transmits g and, when configured, waits for the controller's ACK.
func (p *GainPublisher) Publish(ctx context.Context, g tuning.GainVector) error {
	if err := g.Validate(); err != nil {
		return err
	}
	frames, err := p.Frames(g)
	if err != nil {
		return err
	}

	for _, f := range frames {
		notify := func(err error, wait time.Duration) {
			p.log.Warn("Transmit 0x%X failed, retrying in %v: %v", f.ID, wait, err)
		}
		if err := utils.WriteWithRetry(ctx, p.writer, f, p.cfg.Retries, notify); err != nil {
			return fmt.Errorf("transmit 0x%X: %w", f.ID, err)
		}
		p.log.Debug("TX id=0x%X len=%d data=% X", f.ID, f.Length, f.Data[:f.Length])
	}
	p.log.Info("Published gains %s on %s", g, p.cfg.Interface)

	if p.reader == nil {
		return nil
	}
	return p.awaitAck(ctx)
}

func (p *GainPublisher) awaitAck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.AckTimeout)
	defer cancel()
	for {
		f, err := utils.WaitForFrame(ctx, p.reader, p.ack.ID, p.cfg.AckTimeout)
		if err != nil {
			return fmt.Errorf("no %s: %w", p.ack.Name, err)
		}
		values, err := p.cmap.DecodeFrame(f)
		if err != nil {
			return err
		}
		switch int(values["status"]) {
		case ackPending:
			p.log.Trace("%s pending", p.ack.Name)
			continue
		case ackAccepted:
			p.log.Info("Controller accepted gains")
			return nil
		case ackRejected:
			return fmt.Errorf("controller rejected gains (error_code=%g)", values["error_code"])
		default:
			return fmt.Errorf("unexpected %s status %g", p.ack.Name, values["status"])
		}
	}
}

func (p *GainPublisher) Close() {
	if p.reader != nil {
		_ = p.reader.Close()
	}
	if p.writer != nil {
		_ = p.writer.Close()
	}
}
