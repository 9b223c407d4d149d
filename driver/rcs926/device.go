//go:build !tinygo

package rcs926

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/bcm283x"
)

// Default wiring on the Raspberry Pi header. SEL, CLK and DATA sit on the
// SPI0 pads so a plug breakout can share an existing SPI header.
var (
	PLUG_SEL   = bcm283x.GPIO8
	PLUG_CLK   = bcm283x.GPIO11
	PLUG_DATA  = bcm283x.GPIO10
	PLUG_SW    = bcm283x.GPIO22
	PLUG_IRQ   = bcm283x.GPIO24
	PLUG_RFDET = bcm283x.GPIO25
)

// Open claims the default Raspberry Pi wiring and configures the device.
func Open(cfg Config) (*Device, error) {
	pins, err := DefaultPins()
	if err != nil {
		return nil, err
	}
	d := New(pins)
	if err := d.Configure(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// DefaultPins assembles a bus handle from the default Raspberry Pi wiring.
func DefaultPins() (Pins, error) {
	if _, err := host.Init(); err != nil {
		return Pins{}, err
	}
	return hostPins(PLUG_SEL, PLUG_CLK, PLUG_DATA, PLUG_SW, PLUG_IRQ, PLUG_RFDET)
}

// PinsByName assembles a bus handle from named GPIOs, resolved through the
// host pin registry.
func PinsByName(sel, clk, data, sw, irq, rfdet string) (Pins, error) {
	if _, err := host.Init(); err != nil {
		return Pins{}, err
	}
	var pins [6]gpio.PinIO
	for i, name := range []string{sel, clk, data, sw, irq, rfdet} {
		p := gpioreg.ByName(name)
		if p == nil {
			return Pins{}, fmt.Errorf("rcs926: no GPIO %q", name)
		}
		pins[i] = p
	}
	return hostPins(pins[0], pins[1], pins[2], pins[3], pins[4], pins[5])
}

func hostPins(sel, clk, data, sw, irq, rfdet gpio.PinIO) (Pins, error) {
	for _, p := range []gpio.PinIO{data, irq, rfdet} {
		if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return Pins{}, fmt.Errorf("rcs926: %s: %w", p.Name(), err)
		}
	}
	return Pins{
		SEL:   newGPIOPin(sel),
		CLK:   newGPIOPin(clk),
		DATA:  newGPIOPin(data),
		SW:    newGPIOPin(sw),
		IRQ:   newGPIOPin(irq),
		RFDET: newGPIOPin(rfdet),
		Wake:  &gpioWake{irq: irq, rfdet: rfdet},
	}, nil
}

// gpioPin adapts a host GPIO to the Pin contract. Host GPIOs couple a
// direction switch with a level write, so the adapter keeps the output
// latch itself and re-drives it on Output.
type gpioPin struct {
	pin   gpio.PinIO
	fast  fastOut
	out   bool
	latch gpio.Level
}

// fastOut is the write fast path of bcm283x pins.
type fastOut interface {
	FastOut(gpio.Level)
}

func newGPIOPin(p gpio.PinIO) *gpioPin {
	gp := &gpioPin{pin: p}
	gp.fast, _ = p.(fastOut)
	return gp
}

func (p *gpioPin) Input() {
	p.out = false
	p.pin.In(gpio.PullNoChange, gpio.NoEdge)
}

func (p *gpioPin) Output() {
	p.out = true
	p.pin.Out(p.latch)
}

func (p *gpioPin) Set(high bool) {
	p.latch = gpio.Level(high)
	if !p.out {
		return
	}
	if p.fast != nil {
		p.fast.FastOut(p.latch)
		return
	}
	p.pin.Out(p.latch)
}

func (p *gpioPin) Get() bool {
	return bool(p.pin.Read())
}

// gpioWake arms wake sources by switching edge detection on the input
// pins. The host exposes no shared pin-change enable, so the shared flag
// has no hardware counterpart here.
type gpioWake struct {
	irq, rfdet gpio.PinIO
}

func (w *gpioWake) SetSourceEnabled(src WakeSource, on bool) {
	pin := w.rfdet
	if src == WakeOnDataReady {
		pin = w.irq
	}
	edge := gpio.NoEdge
	if on {
		edge = gpio.BothEdges
	}
	pin.In(gpio.PullNoChange, edge)
}

func (w *gpioWake) SetEnabled(on bool) {}
