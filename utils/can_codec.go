package utils

import (
	"fmt"
	"math"

	"go.einride.tech/can"
)

// EncodeFrame packs values into the named frame. Missing signals take their
// default. A value outside the signal's physical range is an error rather
// than being clamped, so a tuned gain is never silently altered on the wire.
func (m *CANMap) EncodeFrame(frameName string, values map[string]float64) (can.Frame, error) {
	fd, err := m.FrameByName(frameName)
	if err != nil {
		return can.Frame{}, err
	}
	if fd.DLC <= 0 || fd.DLC > 8 {
		return can.Frame{}, fmt.Errorf("frame %s has invalid DLC %d", fd.Name, fd.DLC)
	}
	for name := range values {
		if _, ok := fd.Signal(name); !ok {
			return can.Frame{}, fmt.Errorf("frame %s has no signal %q", fd.Name, name)
		}
	}

	f := can.Frame{ID: fd.ID, Length: uint8(fd.DLC)}
	for _, s := range fd.Signals {
		v, ok := values[s.Name]
		if !ok {
			v = s.Default
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return can.Frame{}, fmt.Errorf("frame %s signal %s: value %v is not finite", fd.Name, s.Name, v)
		}
		lo, hi := physLimits(s)
		if v < lo || v > hi {
			return can.Frame{}, fmt.Errorf("frame %s signal %s: value %g outside [%g, %g] %s",
				fd.Name, s.Name, v, lo, hi, s.Unit)
		}

		raw := clampRaw(int64(math.Round((v-s.Offset)/s.Resolution())), s.BitLength, s.Signed)
		start, length := uint8(s.StartBit), uint8(s.BitLength)
		if s.Signed {
			f.Data.SetSignedBitsLittleEndian(start, length, raw)
		} else {
			f.Data.SetUnsignedBitsLittleEndian(start, length, uint64(raw))
		}
	}
	return f, nil
}

// DecodeFrame unpacks every signal of a known frame into physical values.
func (m *CANMap) DecodeFrame(f can.Frame) (map[string]float64, error) {
	fd, err := m.FrameByID(f.ID)
	if err != nil {
		return nil, err
	}
	if int(f.Length) < fd.DLC {
		return nil, fmt.Errorf("frame 0x%X expects DLC %d, got %d", f.ID, fd.DLC, f.Length)
	}

	out := make(map[string]float64, len(fd.Signals))
	for _, s := range fd.Signals {
		start, length := uint8(s.StartBit), uint8(s.BitLength)
		var raw int64
		if s.Signed {
			raw = f.Data.SignedBitsLittleEndian(start, length)
		} else {
			raw = int64(f.Data.UnsignedBitsLittleEndian(start, length))
		}
		out[s.Name] = float64(raw)*s.Resolution() + s.Offset
	}
	return out, nil
}
