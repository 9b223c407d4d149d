// package buspirate drives the plug's three-wire bus through the raw
// bitbang mode of a [Bus Pirate] serial bridge, for bench work without a
// host GPIO header.
//
// Probe wiring:
//
//	CS   -> SEL
//	CLK  -> CLK
//	MOSI -> DATA
//	MISO <- IRQ
//	AUX  <- RFDET
//	Vpu  -> SW (the switched supply, driven by the POWER bit)
//
// [Bus Pirate]: http://dangerousprototypes.com/docs/Bitbang
package buspirate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"felicaplug.dev/driver/rcs926"
	"github.com/tarm/serial"
)

// Raw bitbang mode commands. Every pin command is answered with one byte
// holding the current pin states in the same bit layout.
const (
	cmdReset     = 0x0f
	cmdSetDirs   = 0b0100_0000 // low five bits select input (1) or output (0)
	cmdSetLevels = 0b1000_0000 // low seven bits are the output levels
)

const (
	bitCS     = 1 << 0
	bitMISO   = 1 << 1
	bitCLK    = 1 << 2
	bitMOSI   = 1 << 3
	bitAUX    = 1 << 4
	bitPullup = 1 << 5
	bitPower  = 1 << 6

	ioBits = bitCS | bitMISO | bitCLK | bitMOSI | bitAUX
)

// Port is a Bus Pirate in raw bitbang mode. Its methods are not safe for
// concurrent use.
type Port struct {
	conn   io.ReadWriter
	dirs   byte // direction register, 1 for input
	levels byte // output register, persists across direction changes
	state  byte // last pin readback
	err    error
}

// Open connects to a Bus Pirate on a serial device and enters raw bitbang
// mode.
func Open(dev string) (*Port, error) {
	c := &serial.Config{Name: dev, Baud: 115200, ReadTimeout: time.Second}
	s, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("buspirate: %w", err)
	}
	p, err := New(s)
	if err != nil {
		s.Close()
		return nil, err
	}
	return p, nil
}

// New enters raw bitbang mode on an open connection. Reads from conn must
// time out while the pirate is idle; Open arranges that.
func New(conn io.ReadWriter) (*Port, error) {
	p := &Port{conn: conn, dirs: ioBits}
	// Up to 20 zero bytes enter binary mode from anywhere in the
	// terminal interface. The pirate answers BBIO1, possibly after
	// terminal noise.
	if _, err := conn.Write(bytes.Repeat([]byte{0x00}, 20)); err != nil {
		return nil, fmt.Errorf("buspirate: %w", err)
	}
	var window []byte
	buf := make([]byte, 64)
	for !bytes.Contains(window, []byte("BBIO1")) {
		if len(window) > 4096 {
			return nil, errors.New("buspirate: no BBIO1 handshake")
		}
		n, err := conn.Read(buf)
		if n == 0 {
			if err == nil || err == io.EOF {
				err = errors.New("no BBIO1 handshake")
			}
			return nil, fmt.Errorf("buspirate: %w", err)
		}
		window = append(window, buf[:n]...)
	}
	p.drain()
	// Known state: all lines released, outputs low, power off. The
	// replies also realign the command stream after the handshake.
	p.command(cmdSetDirs | p.dirs)
	p.command(cmdSetLevels)
	if p.err != nil {
		return nil, p.err
	}
	return p, nil
}

// drain discards stale pirate output, such as extra handshake answers.
func (p *Port) drain() {
	buf := make([]byte, 64)
	for {
		n, err := p.conn.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}

// Pins returns the plug wiring. The pirate offers no host wakeup
// facility, so the handle carries no wake controller.
func (p *Port) Pins() rcs926.Pins {
	return rcs926.Pins{
		SEL:   &pin{p: p, mask: bitCS},
		CLK:   &pin{p: p, mask: bitCLK},
		DATA:  &pin{p: p, mask: bitMOSI},
		SW:    &powerPin{p: p},
		IRQ:   &pin{p: p, mask: bitMISO},
		RFDET: &pin{p: p, mask: bitAUX},
	}
}

// Err reports the first transport failure. Once it is set, pin operations
// do nothing.
func (p *Port) Err() error {
	return p.err
}

// Close resets the pirate back to its terminal interface and closes the
// connection if it can be closed.
func (p *Port) Close() error {
	p.conn.Write([]byte{cmdReset})
	if c, ok := p.conn.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *Port) command(cmd byte) {
	if p.err != nil {
		return
	}
	if _, err := p.conn.Write([]byte{cmd}); err != nil {
		p.err = fmt.Errorf("buspirate: %w", err)
		return
	}
	var reply [1]byte
	if _, err := io.ReadFull(p.conn, reply[:]); err != nil {
		p.err = fmt.Errorf("buspirate: %w", err)
		return
	}
	p.state = reply[0]
}

// pin is one probe line. The pirate's output register persists across
// direction changes, so a level set while the line is an input appears
// when it next becomes an output.
type pin struct {
	p    *Port
	mask byte
}

func (n *pin) Input() {
	n.p.dirs |= n.mask
	n.p.command(cmdSetDirs | n.p.dirs)
}

func (n *pin) Output() {
	n.p.dirs &^= n.mask
	n.p.command(cmdSetDirs | n.p.dirs)
}

func (n *pin) Set(high bool) {
	if high {
		n.p.levels |= n.mask
	} else {
		n.p.levels &^= n.mask
	}
	n.p.command(cmdSetLevels | n.p.levels)
}

func (n *pin) Get() bool {
	// Rewriting the output register returns a fresh pin readback.
	n.p.command(cmdSetLevels | n.p.levels)
	return n.p.state&n.mask != 0
}

// powerPin switches the pirate's Vpu supply through the POWER bit. The
// supply has no direction, so Input and Output do nothing and the plug
// keeps whatever power state the host last set.
type powerPin struct {
	p *Port
}

func (n *powerPin) Input()  {}
func (n *powerPin) Output() {}

func (n *powerPin) Set(high bool) {
	if high {
		n.p.levels |= bitPower
	} else {
		n.p.levels &^= bitPower
	}
	n.p.command(cmdSetLevels | n.p.levels)
}

func (n *powerPin) Get() bool {
	return n.p.levels&bitPower != 0
}
