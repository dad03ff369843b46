package utils

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"
)

const gainsMapCSV = `direction,frame_id,frame_name,cycle_ms,dlc,signal_name,start_bit,bit_length,endianness,signed,factor,offset,min,max,default,unit,comment
tx,0x5A0,TUNED_GAINS_X,0,8,Kp_x,0,24,little,false,0.000001,0,0,16,0,-,proportional
tx,0x5A0,TUNED_GAINS_X,0,8,Ki_x,24,20,little,false,0.000001,0,0,1,0,1/s,integral
tx,0x5A0,TUNED_GAINS_X,0,8,Kd_x,44,20,little,false,0.000001,0,0,1,0,s,derivative
tx,0x5A1,TUNED_GAINS_Y,0,8,Kp_phi,0,32,little,true,0.00000001,0,-20,0,0,-,heading
tx,0x5A1,TUNED_GAINS_Y,0,8,Kp_y,32,32,little,true,0.0000000001,0,-0.2,0,0,rad/ft,lateral
rx,0x5A2,GAINS_ACK,0,2,status,0,8,little,false,1,0,0,3,0,-,ack
rx,0x5A2,GAINS_ACK,0,2,error_code,8,8,little,false,1,0,0,255,0,-,reason
`

func loadGainsMap(t *testing.T) *CANMap {
	t.Helper()
	m, err := ParseCANMap(strings.NewReader(gainsMapCSV))
	require.NoError(t, err)
	return m
}

func TestEncodeDecodeGains(t *testing.T) {
	m := loadGainsMap(t)

	tests := []struct {
		frame  string
		values map[string]float64
	}{
		{"TUNED_GAINS_X", map[string]float64{"Kp_x": 2.153, "Ki_x": 0.096, "Kd_x": 0.133}},
		{"TUNED_GAINS_Y", map[string]float64{"Kp_phi": -0.981, "Kp_y": -0.0001}},
		{"TUNED_GAINS_Y", map[string]float64{"Kp_phi": -19.5, "Kp_y": -0.19999}},
	}
	for _, tt := range tests {
		t.Run(tt.frame, func(t *testing.T) {
			f, err := m.EncodeFrame(tt.frame, tt.values)
			require.NoError(t, err)
			assert.Equal(t, uint8(8), f.Length)

			got, err := m.DecodeFrame(f)
			require.NoError(t, err)
			fd, _ := m.FrameByName(tt.frame)
			for name, want := range tt.values {
				s, _ := fd.Signal(name)
				assert.InDelta(t, want, got[name], s.Resolution()/2+1e-15, name)
			}
		})
	}
}

func TestEncodeFrameLayout(t *testing.T) {
	m := loadGainsMap(t)
	f, err := m.EncodeFrame("TUNED_GAINS_Y", map[string]float64{"Kp_phi": -0.00000001, "Kp_y": 0})
	require.NoError(t, err)

	assert.Equal(t, uint32(0x5A1), f.ID)
	// -1 raw in the low 32 bits, zero above.
	assert.Equal(t, can.Data{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0}, f.Data)
}

func TestEncodeFrameRejects(t *testing.T) {
	m := loadGainsMap(t)

	tests := []struct {
		name   string
		frame  string
		values map[string]float64
	}{
		{"unknown frame", "TUNED_GAINS_Z", nil},
		{"unknown signal", "TUNED_GAINS_X", map[string]float64{"Kp_z": 1}},
		{"above max", "TUNED_GAINS_X", map[string]float64{"Kp_x": 16.5}},
		{"wrong sign", "TUNED_GAINS_Y", map[string]float64{"Kp_y": 0.0001}},
		{"not finite", "TUNED_GAINS_X", map[string]float64{"Ki_x": math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.EncodeFrame(tt.frame, tt.values)
			assert.Error(t, err)
		})
	}
}

func TestEncodeFrameUsesDefaults(t *testing.T) {
	m := loadGainsMap(t)
	f, err := m.EncodeFrame("TUNED_GAINS_X", map[string]float64{"Kp_x": 1})
	require.NoError(t, err)

	got, err := m.DecodeFrame(f)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got["Ki_x"])
	assert.Equal(t, 0.0, got["Kd_x"])
}

func TestDecodeFrameShortPayload(t *testing.T) {
	m := loadGainsMap(t)
	_, err := m.DecodeFrame(can.Frame{ID: 0x5A0, Length: 4})
	assert.Error(t, err)

	_, err = m.DecodeFrame(can.Frame{ID: 0x7FF, Length: 8})
	assert.Error(t, err)

	ack, err := m.DecodeFrame(can.Frame{ID: 0x5A2, Length: 2, Data: can.Data{1, 0}})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"status": 1, "error_code": 0}, ack)
}
