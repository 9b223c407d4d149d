package rcs926

// Simulator models the plug's side of the three-wire bus at pin level. It
// assembles the bytes the host shifts out, presents queued response bytes
// on the data line, and records power and clock activity for inspection.
//
// Like the bus it models, the simulator is not safe for concurrent use;
// drive it from a single goroutine.
type Simulator struct {
	// Sent collects the bytes shifted out by the host, in arrival order.
	Sent []byte
	// Power logs every driven SW level, true for power on.
	Power []bool
	// Clocks counts rising clock edges.
	Clocks int

	sel, clk, data, sw, irq, rfdet *simPin

	rx     byte
	rxBits int

	resp    []byte
	tx      byte
	txBits  int
	present bool

	irqLevel   bool
	rfdetLevel bool

	fieldSrc bool
	dataSrc  bool
	wakeTop  bool
}

const (
	lineSEL = iota
	lineCLK
	lineDATA
	lineSW
	lineIRQ
	lineRFDET
)

func NewSimulator() *Simulator {
	s := &Simulator{
		// No field detected; RFDET is active low.
		rfdetLevel: true,
	}
	s.sel = &simPin{s: s, line: lineSEL}
	s.clk = &simPin{s: s, line: lineCLK, latch: true}
	s.data = &simPin{s: s, line: lineDATA}
	s.sw = &simPin{s: s, line: lineSW}
	s.irq = &simPin{s: s, line: lineIRQ}
	s.rfdet = &simPin{s: s, line: lineRFDET}
	return s
}

// Pins returns the bus handle a Device uses to reach the simulator. The
// simulator itself serves as the wake controller.
func (s *Simulator) Pins() Pins {
	return Pins{
		SEL:   s.sel,
		CLK:   s.clk,
		DATA:  s.data,
		SW:    s.sw,
		IRQ:   s.irq,
		RFDET: s.rfdet,
		Wake:  s,
	}
}

// QueueResponse appends bytes for the plug to present on the data line,
// one bit per falling clock edge while the host has released the line.
func (s *Simulator) QueueResponse(resp ...byte) {
	s.resp = append(s.resp, resp...)
}

// SetDataReady drives the IRQ line.
func (s *Simulator) SetDataReady(on bool) {
	s.irqLevel = on
}

// SetFieldPresent drives the RFDET line, which is active low.
func (s *Simulator) SetFieldPresent(on bool) {
	s.rfdetLevel = !on
}

// SetSourceEnabled implements IRQControl.
func (s *Simulator) SetSourceEnabled(src WakeSource, on bool) {
	if src == WakeOnField {
		s.fieldSrc = on
		return
	}
	s.dataSrc = on
}

// SetEnabled implements IRQControl.
func (s *Simulator) SetEnabled(on bool) {
	s.wakeTop = on
}

// WakeArmed reports whether a wake source's mask is set.
func (s *Simulator) WakeArmed(src WakeSource) bool {
	if src == WakeOnField {
		return s.fieldSrc
	}
	return s.dataSrc
}

// WakeEnabled reports the shared wake enable.
func (s *Simulator) WakeEnabled() bool {
	return s.wakeTop
}

// State is a snapshot of the bus lines as the plug sees them.
type State struct {
	SELOutput, SELHigh   bool
	CLKOutput, CLKHigh   bool
	DATAOutput, DATAHigh bool
	SWOutput, SWHigh     bool
}

func (s *Simulator) State() State {
	return State{
		SELOutput: s.sel.out, SELHigh: s.sel.latch,
		CLKOutput: s.clk.out, CLKHigh: s.clk.latch,
		DATAOutput: s.data.out, DATAHigh: s.data.latch,
		SWOutput: s.sw.out, SWHigh: s.sw.latch,
	}
}

// drive handles a level driven onto a line by the host. Direction changes
// clock nothing; only driven transitions matter to the plug.
func (s *Simulator) drive(line int, old, level bool) {
	switch line {
	case lineSW:
		s.Power = append(s.Power, level)
	case lineSEL:
		if old && !level {
			// Select fell: align to a fresh command frame.
			s.rx, s.rxBits = 0, 0
		}
	case lineCLK:
		switch {
		case !old && level:
			s.Clocks++
			if !s.sel.latch && s.data.out {
				s.sampleHostBit()
			}
		case old && !level:
			if !s.data.out {
				s.presentBit()
			}
		}
	}
}

// sampleHostBit latches the host-driven data level on a rising clock edge.
func (s *Simulator) sampleHostBit() {
	s.rx <<= 1
	if s.data.latch {
		s.rx |= 1
	}
	s.rxBits++
	if s.rxBits == 8 {
		s.Sent = append(s.Sent, s.rx)
		s.rx, s.rxBits = 0, 0
	}
}

// presentBit puts the next response bit on the data line after a falling
// clock edge. With nothing queued the line idles low.
func (s *Simulator) presentBit() {
	if s.txBits == 0 {
		s.tx = 0
		if len(s.resp) > 0 {
			s.tx = s.resp[0]
			s.resp = s.resp[1:]
		}
		s.txBits = 8
	}
	s.present = s.tx&0x80 != 0
	s.tx <<= 1
	s.txBits--
}

type simPin struct {
	s     *Simulator
	line  int
	out   bool
	latch bool
}

func (p *simPin) Input() {
	p.out = false
}

func (p *simPin) Output() {
	p.out = true
}

func (p *simPin) Set(high bool) {
	old := p.latch
	p.latch = high
	if p.out {
		p.s.drive(p.line, old, high)
	}
}

func (p *simPin) Get() bool {
	if p.out {
		return p.latch
	}
	switch p.line {
	case lineDATA:
		return p.s.present
	case lineIRQ:
		return p.s.irqLevel
	case lineRFDET:
		return p.s.rfdetLevel
	}
	return p.latch
}
