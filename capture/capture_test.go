package capture

import (
	"bytes"
	"testing"
	"time"

	"felicaplug.dev/driver/rcs926"
	"github.com/benbjohnson/clock"
)

// pump advances a mock clock in one microsecond steps until stopped,
// letting the device's timed bus operations complete on a synthetic
// timeline.
func pump(mock *clock.Mock, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			mock.Add(time.Microsecond)
		}
	}
}

func mockDevice(t *testing.T) (*rcs926.Device, *rcs926.Simulator, *Recorder) {
	t.Helper()
	mock := clock.NewMock()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go pump(mock, stop)
	sim := rcs926.NewSimulator()
	rec := NewRecorder(mock)
	d := rcs926.New(rec.Wrap(sim.Pins()))
	if err := d.Configure(rcs926.Config{Clock: mock}); err != nil {
		t.Fatal(err)
	}
	return d, sim, rec
}

func TestExchangeRoundTrip(t *testing.T) {
	sim := rcs926.NewSimulator()
	rec := NewRecorder(nil)
	d := rcs926.New(rec.Wrap(sim.Pins()))
	if err := d.Configure(rcs926.Config{}); err != nil {
		t.Fatal(err)
	}
	d.Resume()
	cmd := []byte{0xa5, 0x12}
	d.BeginSend()
	if err := d.Send(cmd); err != nil {
		t.Fatal(err)
	}
	d.EndSend()
	sim.QueueResponse(0x3c, 0xff)
	resp := make([]byte, 2)
	if err := d.Get(resp); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := Write(&buf, rec.Recording()); err != nil {
		t.Fatal(err)
	}
	rd, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	exs := rd.Exchanges()
	if len(exs) != 1 {
		t.Fatalf("decoded %d exchanges, want 1", len(exs))
	}
	ex := exs[0]
	if !bytes.Equal(ex.Command, cmd) {
		t.Errorf("decoded command % x, want % x", ex.Command, cmd)
	}
	if want := []byte{0x3c, 0xff}; !bytes.Equal(ex.Response, want) {
		t.Errorf("decoded response % x, want % x", ex.Response, want)
	}
	if ex.CommandBits != 0 || ex.ResponseBits != 0 {
		t.Errorf("leftover bits %d/%d, want none", ex.CommandBits, ex.ResponseBits)
	}
}

func TestBitPattern(t *testing.T) {
	d, _, rec := mockDevice(t)
	d.BeginSend()
	d.SendByte(0xa5)
	d.EndSend()

	// Reconstruct the data levels latched at each rising clock edge.
	var (
		bits         []bool
		rises, falls []time.Duration
		dataLvl      bool
		dataOut      bool
		clkHigh      = true
	)
	for _, e := range rec.Recording().Events {
		switch {
		case e.Line == DATA && e.Kind == KindDir:
			dataOut = e.Output
		case e.Line == DATA && e.Kind == KindLevel:
			dataLvl = e.High
		case e.Line == CLK && e.Kind == KindLevel && dataOut:
			if e.High && !clkHigh {
				bits = append(bits, dataLvl)
				rises = append(rises, e.At)
			}
			if !e.High && clkHigh {
				falls = append(falls, e.At)
			}
			clkHigh = e.High
		}
	}
	want := []bool{true, false, true, false, false, true, false, true}
	if len(bits) != len(want) || len(falls) != len(rises) {
		t.Fatalf("clocked %d bits over %d/%d edges, want %d", len(bits), len(falls), len(rises), len(want))
	}
	for i := range want {
		if bits[i] != want[i] {
			t.Errorf("bit %d: %t, want %t", i, bits[i], want[i])
		}
	}
	for i := range rises {
		if held := rises[i] - falls[i]; held < time.Microsecond {
			t.Errorf("bit %d: clock low held %v, want at least %v", i, held, time.Microsecond)
		}
		if i > 0 {
			if held := falls[i] - rises[i-1]; held < time.Microsecond {
				t.Errorf("bit %d: clock high held %v, want at least %v", i, held, time.Microsecond)
			}
		}
	}
}

func TestResumeSpacing(t *testing.T) {
	d, _, rec := mockDevice(t)
	d.Resume()
	d.DataReady()

	var swAt, sampleAt time.Duration
	swSeen, sampleSeen := false, false
	for _, e := range rec.Recording().Events {
		switch {
		case e.Line == SW && e.Kind == KindLevel && e.High && !swSeen:
			swAt, swSeen = e.At, true
		case e.Line == IRQ && e.Kind == KindSample && !sampleSeen:
			sampleAt, sampleSeen = e.At, true
		}
	}
	if !swSeen || !sampleSeen {
		t.Fatal("power-up or sample event missing from the recording")
	}
	if held := sampleAt - swAt; held < 50*time.Microsecond {
		t.Errorf("bus used %v after power-up, want at least %v", held, 50*time.Microsecond)
	}
}
