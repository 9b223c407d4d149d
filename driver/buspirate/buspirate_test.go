package buspirate

import (
	"bytes"
	"errors"
	"testing"

	"felicaplug.dev/driver/rcs926"
)

// fakePirate emulates the raw bitbang protocol over an in-memory
// connection. Replies queue synchronously, so reads never block and an
// empty queue reads as EOF like a timed-out serial port.
type fakePirate struct {
	entered bool
	dirs    byte
	levels  byte
	inputs  byte // levels driven onto input lines from outside
	out     bytes.Buffer

	writes []pinWrite
}

// pinWrite is the pirate's register state after one pin command.
type pinWrite struct {
	dirs, levels byte
}

func (f *fakePirate) Write(p []byte) (int, error) {
	for _, b := range p {
		f.step(b)
	}
	return len(p), nil
}

func (f *fakePirate) Read(p []byte) (int, error) {
	return f.out.Read(p)
}

func (f *fakePirate) step(b byte) {
	switch {
	case b == 0x00:
		if !f.entered {
			f.entered = true
			f.dirs = ioBits
			f.levels = 0
		}
		f.out.WriteString("BBIO1")
	case !f.entered:
	case b == cmdReset:
		f.entered = false
	case b&0b1110_0000 == cmdSetDirs:
		f.dirs = b & ioBits
		f.reply()
	case b&cmdSetLevels != 0:
		f.levels = b &^ cmdSetLevels
		f.reply()
	}
}

func (f *fakePirate) reply() {
	f.writes = append(f.writes, pinWrite{f.dirs, f.levels})
	f.out.WriteByte(f.pinState())
}

// pinState mirrors the hardware readback: input lines read the externally
// driven level, output lines read the output register.
func (f *fakePirate) pinState() byte {
	s := f.levels &^ ioBits
	s |= f.levels & ^f.dirs & ioBits
	s |= f.inputs & f.dirs & ioBits
	return s
}

func newTestPort(t *testing.T) (*Port, *fakePirate) {
	t.Helper()
	f := &fakePirate{}
	p, err := New(f)
	if err != nil {
		t.Fatal(err)
	}
	return p, f
}

func TestHandshake(t *testing.T) {
	p, f := newTestPort(t)
	if !f.entered {
		t.Error("pirate not in binary mode")
	}
	if f.dirs != ioBits {
		t.Errorf("directions %05b, want all inputs", f.dirs)
	}
	if f.levels != 0 {
		t.Errorf("levels %07b, want all low", f.levels)
	}
	if err := p.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestPinMapping(t *testing.T) {
	p, f := newTestPort(t)
	pins := p.Pins()
	pins.SEL.Output()
	pins.SEL.Set(true)
	if f.dirs&bitCS != 0 {
		t.Error("CS still an input")
	}
	if f.levels&bitCS == 0 {
		t.Error("CS low, want high")
	}
	pins.CLK.Output()
	pins.DATA.Output()
	if f.dirs&(bitCLK|bitMOSI) != 0 {
		t.Errorf("directions %05b, want CLK and MOSI driven", f.dirs)
	}
	pins.DATA.Input()
	if f.dirs&bitMOSI == 0 {
		t.Error("MOSI not released")
	}
	if err := p.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestLatchAcrossDirection(t *testing.T) {
	p, f := newTestPort(t)
	pins := p.Pins()
	// A level set while the line is an input lands in the output
	// register and appears once the line is driven.
	pins.DATA.Set(true)
	if f.levels&bitMOSI == 0 {
		t.Error("output register not written while input")
	}
	if f.pinState()&bitMOSI != 0 {
		t.Error("MOSI driven while an input")
	}
	pins.DATA.Output()
	if f.pinState()&bitMOSI == 0 {
		t.Error("latched level not driven on direction change")
	}
	if err := p.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestInputs(t *testing.T) {
	p, f := newTestPort(t)
	pins := p.Pins()
	if pins.IRQ.Get() {
		t.Error("IRQ high with nothing driving it")
	}
	f.inputs = bitMISO
	if !pins.IRQ.Get() {
		t.Error("IRQ low, want high")
	}
	if pins.RFDET.Get() {
		t.Error("RFDET high, want low")
	}
	f.inputs |= bitAUX
	if !pins.RFDET.Get() {
		t.Error("RFDET low, want high")
	}
	if err := p.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestPower(t *testing.T) {
	p, f := newTestPort(t)
	pins := p.Pins()
	pins.SW.Set(true)
	if f.levels&bitPower == 0 {
		t.Error("power off, want on")
	}
	if !pins.SW.Get() {
		t.Error("power reads off, want on")
	}
	pins.SW.Set(false)
	if f.levels&bitPower != 0 {
		t.Error("power on, want off")
	}
	if err := p.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestDeviceOverPirate(t *testing.T) {
	p, f := newTestPort(t)
	d := rcs926.New(p.Pins())
	if err := d.Configure(rcs926.Config{}); err != nil {
		t.Fatal(err)
	}
	d.Resume()
	d.BeginSend()
	d.SendByte(0xa5)
	d.EndSend()
	if err := p.Err(); err != nil {
		t.Fatal(err)
	}

	// Reassemble the byte like the plug would: sample MOSI on every
	// rising CLK edge while CS is low and MOSI is driven.
	var got byte
	bits := 0
	clk := false
	for _, w := range f.writes {
		high := w.levels&bitCLK != 0
		if high && !clk && w.dirs&bitMOSI == 0 && w.levels&bitCS == 0 {
			got <<= 1
			if w.levels&bitMOSI != 0 {
				got |= 1
			}
			bits++
		}
		clk = high
	}
	if bits != 8 || got != 0xa5 {
		t.Errorf("pirate clocked %d bits (%#x), want 8 bits (0xa5)", bits, got)
	}
	if f.levels&bitPower == 0 {
		t.Error("plug power dropped during the exchange")
	}
	if f.dirs&bitMOSI == 0 {
		t.Error("MOSI still driven after EndSend")
	}
	if f.levels&bitCS == 0 {
		t.Error("CS low after EndSend")
	}
}

// flaky fails all writes after a budget, emulating an unplugged bridge.
type flaky struct {
	*fakePirate
	writesLeft int
}

func (f *flaky) Write(p []byte) (int, error) {
	if f.writesLeft <= 0 {
		return 0, errors.New("unplugged")
	}
	f.writesLeft--
	return f.fakePirate.Write(p)
}

func TestStickyError(t *testing.T) {
	// The handshake takes three writes: the zero burst and two sync
	// commands.
	f := &flaky{fakePirate: &fakePirate{}, writesLeft: 3}
	p, err := New(f)
	if err != nil {
		t.Fatal(err)
	}
	pins := p.Pins()
	pins.SEL.Set(true)
	if p.Err() == nil {
		t.Fatal("transport failure not reported")
	}
	pins.CLK.Set(true)
	if f.levels != 0 {
		t.Errorf("levels %07b reached the pirate after a failure", f.levels)
	}
}
