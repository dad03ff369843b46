package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

var requiredColumns = []string{
	"direction", "frame_id", "frame_name", "cycle_ms", "dlc",
	"signal_name", "start_bit", "bit_length", "endianness",
	"signed", "factor", "offset", "min", "max", "default", "unit", "comment",
}

// LoadCANMap reads a signal map CSV from disk.
func LoadCANMap(csvPath string) (*CANMap, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ParseCANMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", csvPath, err)
	}
	return m, nil
}

// ParseCANMap reads one row per signal; rows sharing a frame_id form a frame.
func ParseCANMap(in io.Reader) (*CANMap, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true
	r.Comment = '#'

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, k := range requiredColumns {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("can map missing required column: %q", k)
		}
	}

	m := &CANMap{
		ByID:   map[uint32]*FrameDef{},
		ByName: map[string]*FrameDef{},
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := r.FieldPos(0)
		col := func(name string) string { return strings.TrimSpace(rec[idx[name]]) }

		p := fieldParser{}
		frameID := p.id("frame_id", col("frame_id"))
		frameName := col("frame_name")
		direction := strings.ToLower(col("direction"))
		cycleMS := p.integer("cycle_ms", col("cycle_ms"))
		dlc := p.integer("dlc", col("dlc"))

		sig := SignalDef{
			Name:       col("signal_name"),
			StartBit:   p.integer("start_bit", col("start_bit")),
			BitLength:  p.integer("bit_length", col("bit_length")),
			Endianness: col("endianness"),
			Signed:     p.flag(col("signed")),
			Factor:     p.number("factor", col("factor")),
			Offset:     p.number("offset", col("offset")),
			Min:        p.number("min", col("min")),
			Max:        p.number("max", col("max")),
			Default:    p.number("default", col("default")),
			Unit:       col("unit"),
			Comment:    col("comment"),
		}
		if p.err != nil {
			return nil, fmt.Errorf("line %d: %w", line, p.err)
		}

		if direction != DirectionTX && direction != DirectionRX {
			return nil, fmt.Errorf("line %d: frame %s: direction must be tx or rx, got %q", line, frameName, direction)
		}
		if sig.Endianness != "" && sig.Endianness != "little" {
			return nil, fmt.Errorf("frame %s signal %s: unsupported endianness %q (only little supported)",
				frameName, sig.Name, sig.Endianness)
		}
		if sig.BitLength <= 0 || sig.BitLength > 64 {
			return nil, fmt.Errorf("frame %s signal %s: invalid bit_length %d", frameName, sig.Name, sig.BitLength)
		}
		if dlc <= 0 || dlc > 8 {
			return nil, fmt.Errorf("frame %s (0x%X): invalid dlc %d", frameName, frameID, dlc)
		}
		if sig.StartBit < 0 || sig.StartBit+sig.BitLength > 8*dlc {
			return nil, fmt.Errorf("frame %s signal %s: bits [%d, %d) exceed dlc %d",
				frameName, sig.Name, sig.StartBit, sig.StartBit+sig.BitLength, dlc)
		}
		if sig.Factor == 0 {
			return nil, fmt.Errorf("frame %s signal %s: factor must be non-zero", frameName, sig.Name)
		}

		fd, ok := m.ByID[frameID]
		if !ok {
			if _, dup := m.ByName[frameName]; dup {
				return nil, fmt.Errorf("frame name %s used by more than one frame id", frameName)
			}
			fd = &FrameDef{
				ID:        frameID,
				Name:      frameName,
				DLC:       dlc,
				Direction: direction,
				CycleMS:   cycleMS,
				Signals:   []SignalDef{},
			}
			m.ByID[frameID] = fd
			m.ByName[frameName] = fd
		}

		if fd.DLC != dlc {
			return nil, fmt.Errorf("frame %s (0x%X) has inconsistent DLC (%d vs %d)", frameName, frameID, fd.DLC, dlc)
		}
		if _, dup := fd.Signal(sig.Name); dup {
			return nil, fmt.Errorf("frame %s: duplicate signal %s", frameName, sig.Name)
		}

		fd.Signals = append(fd.Signals, sig)
	}

	for _, fd := range m.ByID {
		sort.Slice(fd.Signals, func(i, j int) bool { return fd.Signals[i].StartBit < fd.Signals[j].StartBit })
		for i := 1; i < len(fd.Signals); i++ {
			prev, cur := fd.Signals[i-1], fd.Signals[i]
			if prev.StartBit+prev.BitLength > cur.StartBit {
				return nil, fmt.Errorf("frame %s: signals %s and %s overlap", fd.Name, prev.Name, cur.Name)
			}
		}
	}

	return m, nil
}

func (m *CANMap) FrameByName(name string) (*FrameDef, error) {
	fd, ok := m.ByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown frame %q (available: %v)", name, m.FrameNames())
	}
	return fd, nil
}

func (m *CANMap) FrameByID(id uint32) (*FrameDef, error) {
	fd, ok := m.ByID[id]
	if !ok {
		return nil, fmt.Errorf("unknown frame id 0x%X", id)
	}
	return fd, nil
}

// fieldParser collects every malformed column of a row.
type fieldParser struct {
	err error
}

func (p *fieldParser) id(name, s string) uint32 {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	u, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		p.err = multierr.Append(p.err, fmt.Errorf("invalid %s %q: %w", name, s, err))
	}
	return uint32(u)
}

func (p *fieldParser) integer(name, s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		p.err = multierr.Append(p.err, fmt.Errorf("invalid %s %q: %w", name, s, err))
	}
	return v
}

func (p *fieldParser) number(name, s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = multierr.Append(p.err, fmt.Errorf("invalid %s %q: %w", name, s, err))
	}
	return v
}

func (p *fieldParser) flag(s string) bool {
	ss := strings.ToLower(s)
	return ss == "true" || ss == "1" || ss == "yes"
}
