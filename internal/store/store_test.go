// internal/store/store_test.go
package store

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/codec"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/status"
)

func newHubStore(t *testing.T) (*Store, *registermap.ControllerKind) {
	t.Helper()
	cat, err := registermap.Default()
	require.NoError(t, err)
	ck, err := cat.Resolve(registermap.KindHub, 0)
	require.NoError(t, err)

	s := New()
	s.Register("fndh", ck)
	return s, ck
}

func TestRegister_StartsInvalid(t *testing.T) {
	s, ck := newHubStore(t)

	v, err := s.Snapshot("fndh")
	require.NoError(t, err)
	assert.Equal(t, len(ck.Registers), v.Len())
	for _, n := range v.Names() {
		e, _ := v.Get(n)
		assert.Equal(t, Invalid, e.Quality, n)
	}

	_, err = s.Snapshot("smartbox9")
	assert.ErrorIs(t, err, ErrUnknownController)
}

func TestApplyPoll_ValidAndInvalid(t *testing.T) {
	s, _ := newHubStore(t)
	at := time.Now()

	require.NoError(t, s.ApplyPoll("fndh", map[string]any{"uptime": int64(120)}, []string{"status"}, at))

	v, _ := s.Snapshot("fndh")
	up, _ := v.Get("uptime")
	assert.Equal(t, Value{Value: int64(120), Quality: Valid, Updated: at}, up)

	st, _ := v.Get("status")
	assert.Equal(t, Invalid, st.Quality)
}

func TestMarkStale_LeavesStaticAndInvalid(t *testing.T) {
	s, _ := newHubStore(t)
	at := time.Now()

	require.NoError(t, s.ApplyPoll("fndh", map[string]any{
		"firmware_version": int64(3),
		"uptime":           int64(10),
	}, nil, at))
	require.NoError(t, s.MarkStale("fndh", at.Add(time.Second)))

	v, _ := s.Snapshot("fndh")
	fw, _ := v.Get("firmware_version")
	up, _ := v.Get("uptime")
	led, _ := v.Get("led_pattern")

	assert.Equal(t, Valid, fw.Quality)
	assert.Equal(t, int64(3), fw.Value)
	assert.Equal(t, Stale, up.Quality)
	assert.Equal(t, int64(10), up.Value)
	assert.Equal(t, Invalid, led.Quality)

	// a later successful poll supersedes STALE
	require.NoError(t, s.ApplyPoll("fndh", map[string]any{"uptime": int64(11)}, nil, at.Add(2*time.Second)))
	v, _ = s.Snapshot("fndh")
	up, _ = v.Get("uptime")
	assert.Equal(t, Valid, up.Quality)
}

func TestApplyWriteAck_KeepsQualityAndUnsetPorts(t *testing.T) {
	s, _ := newHubStore(t)
	at := time.Now()

	before := make([]codec.TriState, 28)
	before[2] = codec.On
	require.NoError(t, s.ApplyPoll("fndh", map[string]any{"ports_desired_power_when_online": before}, nil, at))

	written := make([]codec.TriState, 28)
	written[0] = codec.On
	written[1] = codec.Off
	require.NoError(t, s.ApplyWriteAck("fndh", "ports_desired_power_when_online", written, at.Add(time.Second)))

	v, _ := s.Snapshot("fndh")
	e, _ := v.Get("ports_desired_power_when_online")
	got := e.Value.([]codec.TriState)
	assert.Equal(t, Valid, e.Quality)
	assert.Equal(t, []codec.TriState{codec.On, codec.Off, codec.On}, got[:3])

	assert.Error(t, s.ApplyWriteAck("fndh", "nope", 1, at))
}

func TestSnapshot_IsImmutable(t *testing.T) {
	s, _ := newHubStore(t)
	v1, _ := s.Snapshot("fndh")

	require.NoError(t, s.ApplyPoll("fndh", map[string]any{"uptime": int64(1)}, nil, time.Now()))

	e, _ := v1.Get("uptime")
	assert.Equal(t, Invalid, e.Quality)

	v2, _ := s.Snapshot("fndh")
	assert.Greater(t, v2.Version, v1.Version)
}

func TestApplyPoll_TouchesOnlyPolledRegisters(t *testing.T) {
	s, _ := newHubStore(t)
	at := time.Now()

	before, _ := s.Snapshot("fndh")
	require.NoError(t, s.ApplyPoll("fndh", map[string]any{"uptime": int64(7)}, nil, at))
	after, _ := s.Snapshot("fndh")

	want := before.Map()
	want["uptime"] = Value{Value: int64(7), Quality: Valid, Updated: at}
	if diff := cmp.Diff(want, after.Map()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_NeverTorn(t *testing.T) {
	s, _ := newHubStore(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	torn := make(chan string, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			v, _ := s.Snapshot("fndh")
			a, _ := v.Get("psu48v_voltage_1")
			b, _ := v.Get("psu48v_voltage_2")
			if a.Value != b.Value {
				select {
				case torn <- "voltages diverged":
				default:
				}
				return
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		f := float64(i)
		_ = s.ApplyPoll("fndh", map[string]any{"psu48v_voltage_1": f, "psu48v_voltage_2": f}, nil, time.Now())
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-torn:
		t.Fatal(msg)
	default:
	}
}

func TestRegister_RebindKeepsValues(t *testing.T) {
	cat, err := registermap.Default()
	require.NoError(t, err)
	v1, _ := cat.Resolve(registermap.KindSecondary, 1)
	v2, _ := cat.Resolve(registermap.KindSecondary, 2)

	s := New()
	s.Register("sb1", v1)
	require.NoError(t, s.ApplyPoll("sb1", map[string]any{"uptime": int64(5)}, nil, time.Now()))

	s.Register("sb1", v2)
	v, _ := s.Snapshot("sb1")
	up, _ := v.Get("uptime")
	hum, ok := v.Get("fem_ambient_humidity")

	assert.Equal(t, Valid, up.Quality)
	assert.True(t, ok)
	assert.Equal(t, Invalid, hum.Quality)
}

func TestStatus_RoundTrip(t *testing.T) {
	s, _ := newHubStore(t)
	require.NoError(t, s.SetStatus("fndh", status.Snapshot{State: status.Polling, Attached: true}))

	st, err := s.Status("fndh")
	require.NoError(t, err)
	assert.Equal(t, "fndh", st.Controller)
	assert.Equal(t, status.Polling, st.State)

	_, err = s.Status("x")
	assert.ErrorIs(t, err, ErrUnknownController)
}
