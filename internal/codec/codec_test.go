// internal/codec/codec_test.go
package codec

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
)

func hub(t *testing.T) *registermap.ControllerKind {
	t.Helper()
	c, err := registermap.Default()
	require.NoError(t, err)
	ck, err := c.Resolve(registermap.KindHub, 0)
	require.NoError(t, err)
	return ck
}

func reg(t *testing.T, ck *registermap.ControllerKind, name string) *registermap.Register {
	t.Helper()
	r, ok := ck.Lookup(name)
	require.True(t, ok, name)
	return r
}

// ---- decode ----

func TestDecode_Uptime(t *testing.T) {
	ck := hub(t)
	v, err := DecodeRegister(reg(t, ck, "uptime"), []uint16{0, 120})
	require.NoError(t, err)
	assert.Equal(t, int64(120), v)

	v, err = DecodeRegister(reg(t, ck, "uptime"), []uint16{1, 0})
	require.NoError(t, err)
	assert.Equal(t, int64(65536), v)
}

func TestDecode_Conversions(t *testing.T) {
	ck := hub(t)

	cases := []struct {
		name  string
		words []uint16
		want  any
	}{
		{"psu48v_voltage_1", []uint16{4810}, 48.1},
		{"panel_temperature", []uint16{uint16(0xFFFF - 249)}, -2.5},
		{"cpu_id", []uint16{0x00AB, 0xCDEF}, "00ABCDEF"},
		{"status", []uint16{2}, "ALARM"},
		{"warning_flags", []uint16{0b101}, []string{"psu48v_voltage_1", "psu48v_current"}},
		{"warning_flags", []uint16{0}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := DecodeRegister(reg(t, ck, tc.name), tc.words)
			require.NoError(t, err)
			if f, ok := tc.want.(float64); ok {
				assert.InDelta(t, f, v, 1e-9)
				return
			}
			if diff := cmp.Diff(tc.want, v); diff != "" {
				t.Fatalf("decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_GroupIsolatesFailures(t *testing.T) {
	ck := hub(t)
	status := reg(t, ck, "status")
	led := reg(t, ck, "led_pattern")

	// status=99 is not a defined enum value
	d := Decode(24, []*registermap.Register{status, led}, []uint16{99, 7})

	assert.ErrorIs(t, d.Errors["status"], ErrDecoding)
	assert.NotContains(t, d.Values, "status")
	assert.Equal(t, int64(7), d.Values["led_pattern"])
}

func TestDecode_UndefinedFlagBit(t *testing.T) {
	ck := hub(t)
	_, err := DecodeRegister(reg(t, ck, "alarm_flags"), []uint16{1 << 15})

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "alarm_flags", ce.Register)
	assert.ErrorIs(t, err, ErrDecoding)
}

func TestDecode_PortFields(t *testing.T) {
	ck := hub(t)
	words := make([]uint16, 28)
	words[0] = 0x8000 | 0x4000 | 0x3000 | 0x0080 // enabled, online, DSON on, sensed
	words[1] = 0x2000 | 0x0800                   // DSON off, DSOFF off
	words[2] = 0x0300 | 0x0040                   // forced on, power

	dson, err := DecodeRegister(reg(t, ck, "ports_desired_power_when_online"), words)
	require.NoError(t, err)
	got := dson.([]TriState)
	assert.Equal(t, []TriState{On, Off, Unset}, got[:3])

	online, err := DecodeRegister(reg(t, ck, "ports_online"), words)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, online.([]bool)[:3])

	forcing, err := DecodeRegister(reg(t, ck, "ports_forcings"), words)
	require.NoError(t, err)
	assert.Equal(t, On, forcing.([]TriState)[2])

	power, err := DecodeRegister(reg(t, ck, "ports_power_control"), words)
	require.NoError(t, err)
	assert.True(t, power.([]bool)[2])
}

// ---- encode ----

func TestEncode_PortPowerWrite(t *testing.T) {
	ck := hub(t)
	r := reg(t, ck, "port_powers_online")

	in := make([]any, 28)
	in[0] = true
	in[1] = false
	// remaining entries nil: leave unchanged

	words, err := Encode(r, in)
	require.NoError(t, err)
	require.Len(t, words, 28)
	assert.Equal(t, uint16(0x3000), words[0])
	assert.Equal(t, uint16(0x2000), words[1])
	for i := 2; i < 28; i++ {
		assert.Zero(t, words[i], "port %d", i+1)
	}
}

func TestEncode_Rejects(t *testing.T) {
	ck := hub(t)

	cases := []struct {
		reg string
		v   any
	}{
		{"port_powers_online", make([]any, 27)},
		{"port_powers_online", []any{"yes"}},
		{"psu48v_voltage_1", 700.0},
		{"psu48v_voltage_1", -1.0},
		{"panel_temperature", 400.0},
		{"status", "EXPLODED"},
		{"status", 42},
		{"warning_flags", []any{"not_a_sensor"}},
		{"warning_flags", 1 << 13},
		{"led_pattern", 1 << 16},
		{"led_pattern", 1.5},
		{"sys_address", "abc"},
	}
	for _, tc := range cases {
		_, err := Encode(reg(t, ck, tc.reg), tc.v)
		assert.ErrorIs(t, err, ErrEncoding, "%s <- %v", tc.reg, tc.v)
	}
}

func TestEncode_RejectsNonCanonical(t *testing.T) {
	id := &registermap.Register{Name: "cpu_id", Count: 2, Conversion: registermap.ConvHex, Type: registermap.TypeString}
	f := &registermap.Register{Name: "gain", Count: 2, Conversion: registermap.ConvFloat32, Type: registermap.TypeFloat}

	_, err := Encode(id, "deadbeef")
	assert.ErrorIs(t, err, ErrEncoding)
	_, err = Encode(f, math.NaN())
	assert.ErrorIs(t, err, ErrEncoding)

	words, err := Encode(id, "DEADBEEF")
	require.NoError(t, err)
	assert.Equal(t, []uint16{0xDEAD, 0xBEEF}, words)
}

func TestRoundTrip_Hex(t *testing.T) {
	r := &registermap.Register{Name: "cpu_id", Count: 2, Conversion: registermap.ConvHex, Type: registermap.TypeString}

	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[0-9A-Fa-f]{8}`).Draw(t, "s")
		words, err := Encode(r, s)
		if err != nil {
			return
		}
		back, err := DecodeRegister(r, words)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if back != s {
			t.Fatalf("round trip %q -> %q", s, back)
		}
	})
}

func TestRoundTrip_Float32(t *testing.T) {
	r := &registermap.Register{Name: "gain", Count: 2, Conversion: registermap.ConvFloat32, Type: registermap.TypeFloat}

	rapid.Check(t, func(t *rapid.T) {
		v := float64(rapid.Float32().Draw(t, "v"))
		words, err := Encode(r, v)
		if err != nil {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				t.Fatalf("encode %v: %v", v, err)
			}
			return
		}
		back, err := DecodeRegister(r, words)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if back != v {
			t.Fatalf("round trip %v -> %v", v, back)
		}
	})
}

func TestEncode_SingleBitPortRejectsUnset(t *testing.T) {
	c, err := registermap.Default()
	require.NoError(t, err)
	sb, err := c.Resolve(registermap.KindSecondary, 0)
	require.NoError(t, err)

	r := reg(t, sb, "port_breaker_resets")
	in := make([]any, 12)
	_, err = Encode(r, in)
	assert.ErrorIs(t, err, ErrEncoding)

	bs := make([]bool, 12)
	bs[4] = true
	words, err := Encode(r, bs)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0080), words[4])
}

func TestEncode_JSONInput(t *testing.T) {
	ck := hub(t)
	var v any
	require.NoError(t, json.Unmarshal([]byte(`[true, null, false, null, null, null, null, null, null, null,
		null, null, null, null, null, null, null, null, null, null,
		null, null, null, null, null, null, null, true]`), &v))

	words, err := Encode(reg(t, ck, "ports_desired_power_when_offline"), v)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0C00), words[0])
	assert.Equal(t, uint16(0x0000), words[1])
	assert.Equal(t, uint16(0x0800), words[2])
	assert.Equal(t, uint16(0x0C00), words[27])
}

func TestTriState_JSON(t *testing.T) {
	b, err := json.Marshal([]TriState{On, Off, Unset})
	require.NoError(t, err)
	assert.JSONEq(t, `[true,false,null]`, string(b))

	var back []TriState
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, []TriState{On, Off, Unset}, back)

	assert.Nil(t, Unset.Bool())
	require.NotNil(t, Off.Bool())
	assert.False(t, *Off.Bool())
	assert.Equal(t, On, TriStateOf(On.Bool()))
}

// ---- round trips ----

func TestRoundTrip_Scaled(t *testing.T) {
	ck := hub(t)
	r := reg(t, ck, "psu48v_voltage_1")

	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.Uint16().Draw(t, "raw")
		v := float64(raw) / r.Scale

		words, err := Encode(r, v)
		if err != nil {
			t.Fatalf("encode %v: %v", v, err)
		}
		back, err := DecodeRegister(r, words)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if math.Abs(back.(float64)-v) > 0.5/r.Scale {
			t.Fatalf("round trip %v -> %v", v, back)
		}
	})
}

func TestRoundTrip_SignedScaled(t *testing.T) {
	ck := hub(t)
	r := reg(t, ck, "outside_temperature")

	rapid.Check(t, func(t *rapid.T) {
		v := float64(rapid.Int16().Draw(t, "raw")) / r.Scale

		words, err := Encode(r, v)
		if err != nil {
			t.Fatalf("encode %v: %v", v, err)
		}
		back, _ := DecodeRegister(r, words)
		if math.Abs(back.(float64)-v) > 0.5/r.Scale {
			t.Fatalf("round trip %v -> %v", v, back)
		}
	})
}

func TestRoundTrip_PortPower(t *testing.T) {
	ck := hub(t)
	r := reg(t, ck, "ports_desired_power_when_online")

	rapid.Check(t, func(t *rapid.T) {
		states := rapid.SliceOfN(rapid.SampledFrom([]TriState{Unset, Off, On}), 28, 28).Draw(t, "states")

		words, err := Encode(r, states)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		back, err := DecodeRegister(r, words)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(states, back.([]TriState)); diff != "" {
			t.Fatalf("round trip (-want +got):\n%s", diff)
		}
	})
}

func TestRoundTrip_Flags(t *testing.T) {
	ck := hub(t)
	r := reg(t, ck, "warning_flags")

	rapid.Check(t, func(t *rapid.T) {
		mask := rapid.IntRange(0, 1<<len(r.Flags)-1).Draw(t, "mask")

		words, err := Encode(r, mask)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		names, err := DecodeRegister(r, words)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		again, err := Encode(r, names.([]string))
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if diff := cmp.Diff(words, again); diff != "" {
			t.Fatalf("round trip (-want +got):\n%s", diff)
		}
	})
}

func TestRoundTrip_Uptime(t *testing.T) {
	r := reg(t, hub(t), "uptime")

	rapid.Check(t, func(t *rapid.T) {
		up := rapid.Int64Range(0, math.MaxUint32).Draw(t, "uptime")
		words, err := Encode(r, up)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		back, _ := DecodeRegister(r, words)
		if back != up {
			t.Fatalf("uptime %d -> %v", up, back)
		}
	})
}

func TestRoundTrip_ASCII(t *testing.T) {
	r := &registermap.Register{Name: "id", Count: 4, Conversion: registermap.ConvASCII, Type: registermap.TypeString}

	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[A-Za-z0-9 _-]{0,8}`).Draw(t, "s")
		words, err := Encode(r, s)
		if err != nil {
			t.Fatalf("encode %q: %v", s, err)
		}
		back, err := DecodeRegister(r, words)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if back != s {
			t.Fatalf("round trip %q -> %q", s, back)
		}
	})
}
