// package rcs926 implements a driver for the three-wire serial bus of the
// [Sony FeliCa Plug] (RC-S926) NFC module.
//
// The plug is the slave on a half-duplex bus of three lines: SEL, held low
// by the host while it drives data, CLK, the host-generated bit clock, and
// DATA, shared by both directions. Two further inputs report received data
// (IRQ) and RF field presence (RFDET), and the SW line switches the module's
// power between exchanges.
//
// [Sony FeliCa Plug]: https://www.sony.net/Products/felica/business/tech-support/
package rcs926

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/physic"
)

// Pin is a single line of the bus. Implementations switch the line between
// high-impedance input and driven output, and keep an output latch that is
// independent of the direction: a level set while the line is an input takes
// effect when the line next becomes an output, and switching direction never
// changes the latched level.
type Pin interface {
	// Input switches the line to high-impedance input.
	Input()
	// Output switches the line to output, driving the latched level.
	Output()
	// Set latches the output level, driving it if the line is an output.
	Set(high bool)
	// Get samples the line.
	Get() bool
}

// WakeSource selects one of the plug's wake conditions.
type WakeSource int

const (
	// WakeOnField wakes the host on RFDET level changes.
	WakeOnField WakeSource = iota
	// WakeOnDataReady wakes the host on IRQ level changes.
	WakeOnDataReady
)

// IRQControl arms host wakeups on plug line changes. The two sources have
// individual masks routed through a single shared enable, reflecting
// controllers where several pin-change sources share one interrupt.
type IRQControl interface {
	SetSourceEnabled(src WakeSource, on bool)
	SetEnabled(on bool)
}

// Pins is the bus as wired to the host.
type Pins struct {
	SEL   Pin // output; low while the host drives DATA
	CLK   Pin // output; one low/high cycle per bit
	DATA  Pin // bidirectional; output only between BeginSend and EndSend
	SW    Pin // output; high powers the plug
	IRQ   Pin // input; high when the plug holds received data
	RFDET Pin // input; low while an external RF field is present

	// Wake arms wakeups on IRQ and RFDET changes. It may be nil, in which
	// case SetWakeOnField and SetWakeOnDataReady do nothing.
	Wake IRQControl
}

// Config is the device configuration passed to Configure.
type Config struct {
	// RefCountedWake clears the shared wake enable once the last wake
	// source is disabled. The default leaves the shared enable set
	// forever after the first use, like the plug's original host
	// firmware.
	RefCountedWake bool

	// Clock overrides the time source for the bus delays. It defaults
	// to the wall clock; tests substitute a mock.
	Clock clock.Clock
}

// Device drives a FeliCa Plug through a Pins handle.
type Device struct {
	pins  Pins
	cfg   Config
	clock clock.Clock

	fieldWake bool
	dataWake  bool
}

// MaxBitRate is the highest clock rate the plug accepts.
const MaxBitRate = 1 * physic.MegaHertz

const (
	// Settle time between line transitions. One microsecond per
	// half-cycle keeps the bit clock within MaxBitRate.
	settleTime = 1 * time.Microsecond
	// Power-up time from SW high until the plug accepts bus traffic.
	powerUpTime = 50 * time.Microsecond
)

var (
	// ErrZeroLength is reported by Send, SendString and Get when the
	// buffer is empty.
	ErrZeroLength = errors.New("rcs926: zero-length buffer")
	// ErrMissingPin is reported by Configure when a bus line is unset.
	ErrMissingPin = errors.New("rcs926: missing bus line")
)

func New(p Pins) *Device {
	return &Device{pins: p, clock: clock.New()}
}

// Configure claims the bus: SEL, CLK and SW become outputs, driving
// whatever levels their latches hold. DATA stays an input until BeginSend.
// The plug is unpowered until Resume.
func (d *Device) Configure(cfg Config) error {
	for _, p := range []Pin{d.pins.SEL, d.pins.CLK, d.pins.DATA, d.pins.SW, d.pins.IRQ, d.pins.RFDET} {
		if p == nil {
			return ErrMissingPin
		}
	}
	d.cfg = cfg
	if cfg.Clock != nil {
		d.clock = cfg.Clock
	}
	d.pins.SEL.Output()
	d.pins.CLK.Output()
	d.pins.SW.Output()
	return nil
}

// Disable releases the bus, returning SEL, CLK and SW to high-impedance
// inputs. Configure claims the bus again.
func (d *Device) Disable() {
	d.pins.SEL.Input()
	d.pins.CLK.Input()
	d.pins.SW.Input()
}

// Suspend removes power from the plug. The plug loses all state.
func (d *Device) Suspend() {
	d.pins.SW.Set(false)
}

// Resume powers the plug and waits out its power-up time.
func (d *Device) Resume() {
	d.pins.SW.Set(true)
	d.clock.Sleep(powerUpTime)
}

// DataReady reports whether the plug holds received data for the host to
// collect.
func (d *Device) DataReady() bool {
	return d.pins.IRQ.Get()
}

// FieldPresent reports whether the plug detects an external RF field.
// RFDET is active low.
func (d *Device) FieldPresent() bool {
	return !d.pins.RFDET.Get()
}

// SetWakeOnField arms or disarms host wakeup on RF field changes.
//
// Enabling either wake source also sets the shared enable. Disabling a
// source clears only that source's mask; the shared enable stays set even
// after the last source is disabled, unless the device was configured with
// RefCountedWake.
func (d *Device) SetWakeOnField(on bool) {
	d.fieldWake = on
	d.setWake(WakeOnField, on)
}

// SetWakeOnDataReady arms or disarms host wakeup on data-ready changes.
// The shared enable behaves as described for SetWakeOnField.
func (d *Device) SetWakeOnDataReady(on bool) {
	d.dataWake = on
	d.setWake(WakeOnDataReady, on)
}

func (d *Device) setWake(src WakeSource, on bool) {
	w := d.pins.Wake
	if w == nil {
		return
	}
	if on {
		w.SetEnabled(true)
		w.SetSourceEnabled(src, true)
		return
	}
	w.SetSourceEnabled(src, false)
	if d.cfg.RefCountedWake && !d.fieldWake && !d.dataWake {
		w.SetEnabled(false)
	}
}

// BeginSend opens a host-to-plug transfer: SEL goes low and DATA becomes
// an output. Pair every BeginSend with an EndSend.
func (d *Device) BeginSend() {
	d.pins.SEL.Set(false)
	d.clock.Sleep(settleTime)
	d.pins.DATA.Output()
}

// EndSend closes a host-to-plug transfer: DATA returns to an input and SEL
// goes high, releasing the data line to the plug.
func (d *Device) EndSend() {
	d.clock.Sleep(settleTime)
	d.pins.DATA.Input()
	d.clock.Sleep(settleTime)
	d.pins.SEL.Set(true)
}

// SendByte shifts one byte onto the bus, most significant bit first, one
// full clock cycle per bit. Valid only between BeginSend and EndSend.
func (d *Device) SendByte(c byte) {
	for i := 0; i < 8; i++ {
		d.pins.CLK.Set(false)
		d.pins.DATA.Set(c&0x80 != 0)
		c <<= 1
		d.clock.Sleep(settleTime)
		d.pins.CLK.Set(true)
		d.clock.Sleep(settleTime)
	}
}

// Send shifts buf onto the bus in order. It reports ErrZeroLength for an
// empty buffer, before touching the bus.
func (d *Device) Send(buf []byte) error {
	if len(buf) == 0 {
		return ErrZeroLength
	}
	for _, c := range buf {
		d.SendByte(c)
	}
	return nil
}

// SendString shifts s onto the bus in order, like Send.
func (d *Device) SendString(s string) error {
	if len(s) == 0 {
		return ErrZeroLength
	}
	for i := 0; i < len(s); i++ {
		d.SendByte(s[i])
	}
	return nil
}

// GetByte shifts one byte off the bus, most significant bit first. The host
// generates the clock; the plug presents each bit after the falling edge.
// Valid only outside BeginSend/EndSend, with the data line released.
func (d *Device) GetByte() byte {
	var c byte
	for i := 0; i < 8; i++ {
		d.pins.CLK.Set(false)
		d.clock.Sleep(settleTime)
		c <<= 1
		if d.pins.DATA.Get() {
			c |= 1
		}
		d.pins.CLK.Set(true)
		d.clock.Sleep(settleTime)
	}
	return c
}

// Get fills buf with bytes shifted off the bus. It reports ErrZeroLength
// for an empty buffer, before touching the bus.
func (d *Device) Get(buf []byte) error {
	if len(buf) == 0 {
		return ErrZeroLength
	}
	for i := range buf {
		buf[i] = d.GetByte()
	}
	return nil
}
