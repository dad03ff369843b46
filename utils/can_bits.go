package utils

// rawLimits returns the representable raw range of a bitLen-bit field.
func rawLimits(bitLen int, signed bool) (int64, int64) {
	if bitLen <= 0 || bitLen > 63 {
		bitLen = 63
	}
	if !signed {
		return 0, int64(1)<<bitLen - 1
	}
	return -(int64(1) << (bitLen - 1)), int64(1)<<(bitLen-1) - 1
}

// physLimits intersects the declared [Min, Max] with what the raw field can hold.
func physLimits(s SignalDef) (float64, float64) {
	rawMin, rawMax := rawLimits(s.BitLength, s.Signed)
	lo := float64(rawMin)*s.Factor + s.Offset
	hi := float64(rawMax)*s.Factor + s.Offset
	if s.Factor < 0 {
		lo, hi = hi, lo
	}
	if s.Min > lo {
		lo = s.Min
	}
	if s.Max < hi {
		hi = s.Max
	}
	return lo, hi
}

func clampRaw(raw int64, bitLen int, signed bool) int64 {
	min, max := rawLimits(bitLen, signed)
	if raw < min {
		return min
	}
	if raw > max {
		return max
	}
	return raw
}
