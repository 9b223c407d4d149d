package capture

// Exchange is one command/response pair recovered from a recording.
type Exchange struct {
	// Command holds the bytes the host drove while SEL was low.
	Command []byte
	// Response holds the bytes the host sampled off the released data
	// line.
	Response []byte
	// CommandBits and ResponseBits count trailing bits that never
	// completed a byte.
	CommandBits  int
	ResponseBits int
}

// Exchanges decodes a recording into exchanges. A new exchange opens on
// every falling SEL edge. Command bits are the data levels latched at
// rising clock edges while SEL is low and the host drives the data line,
// most significant bit first. Response bits are the host's samples of the
// released data line, in sample order.
func (r *Recording) Exchanges() []Exchange {
	var (
		exs    []Exchange
		cur    Exchange
		active bool

		selHigh = true
		clkHigh = true
		dataOut = false
		dataLvl = false

		cmdShift, respShift byte
		cmdBits, respBits   int
	)
	finish := func() {
		if !active {
			return
		}
		cur.CommandBits, cur.ResponseBits = cmdBits, respBits
		exs = append(exs, cur)
		cur = Exchange{}
		cmdShift, cmdBits = 0, 0
		respShift, respBits = 0, 0
		active = false
	}
	for _, e := range r.Events {
		switch {
		case e.Line == SEL && e.Kind == KindLevel:
			if selHigh && !e.High {
				finish()
				active = true
			}
			selHigh = e.High
		case e.Line == DATA && e.Kind == KindDir:
			dataOut = e.Output
		case e.Line == DATA && e.Kind == KindLevel:
			dataLvl = e.High
		case e.Line == DATA && e.Kind == KindSample && !dataOut:
			active = true
			respShift <<= 1
			if e.High {
				respShift |= 1
			}
			if respBits++; respBits == 8 {
				cur.Response = append(cur.Response, respShift)
				respShift, respBits = 0, 0
			}
		case e.Line == CLK && e.Kind == KindLevel:
			rising := e.High && !clkHigh
			clkHigh = e.High
			if !rising || selHigh || !dataOut {
				break
			}
			active = true
			cmdShift <<= 1
			if dataLvl {
				cmdShift |= 1
			}
			if cmdBits++; cmdBits == 8 {
				cur.Command = append(cur.Command, cmdShift)
				cmdShift, cmdBits = 0, 0
			}
		}
	}
	finish()
	return exs
}
