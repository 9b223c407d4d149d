//go:build tinygo

package rcs926

import "machine"

// NewPins assembles a bus handle from machine pins. The input lines are
// configured immediately; SEL, CLK and SW are claimed by Configure.
func NewPins(sel, clk, data, sw, irq, rfdet machine.Pin) Pins {
	for _, p := range []machine.Pin{data, irq, rfdet} {
		p.Configure(machine.PinConfig{Mode: machine.PinInput})
	}
	return Pins{
		SEL:   &machinePin{pin: sel},
		CLK:   &machinePin{pin: clk},
		DATA:  &machinePin{pin: data},
		SW:    &machinePin{pin: sw},
		IRQ:   &machinePin{pin: irq},
		RFDET: &machinePin{pin: rfdet},
		Wake:  &machineWake{irq: irq, rfdet: rfdet},
	}
}

// machinePin adapts a machine pin to the Pin contract. The machine API
// carries no separate output latch, so the adapter keeps one and re-drives
// it on Output.
type machinePin struct {
	pin   machine.Pin
	out   bool
	latch bool
}

func (p *machinePin) Input() {
	p.out = false
	p.pin.Configure(machine.PinConfig{Mode: machine.PinInput})
}

func (p *machinePin) Output() {
	p.out = true
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.Set(p.latch)
}

func (p *machinePin) Set(high bool) {
	p.latch = high
	if p.out {
		p.pin.Set(high)
	}
}

func (p *machinePin) Get() bool {
	return p.pin.Get()
}

// machineWake arms pin-change interrupts on the wake inputs. There is no
// per-controller shared enable in the machine API; the shared flag lives
// only in the driver's bookkeeping.
type machineWake struct {
	irq, rfdet machine.Pin
}

func (w *machineWake) SetSourceEnabled(src WakeSource, on bool) {
	pin := w.rfdet
	if src == WakeOnDataReady {
		pin = w.irq
	}
	if on {
		pin.SetInterrupt(machine.PinToggle, func(machine.Pin) {})
		return
	}
	pin.SetInterrupt(machine.PinToggle, nil)
}

func (w *machineWake) SetEnabled(on bool) {}
