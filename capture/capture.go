// package capture records three-wire bus activity as a timestamped event
// stream, serializes recordings, and decodes them back into the command
// and response bytes carried on the wire.
package capture

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"felicaplug.dev/driver/rcs926"
	"github.com/benbjohnson/clock"
	"github.com/fxamacker/cbor/v2"
)

// Line identifies a bus line in a recording.
type Line int

const (
	SEL Line = iota
	CLK
	DATA
	SW
	IRQ
	RFDET
)

var lineNames = [...]string{"SEL", "CLK", "DATA", "SW", "IRQ", "RFDET"}

func (l Line) String() string {
	if l < 0 || int(l) >= len(lineNames) {
		return fmt.Sprintf("line(%d)", int(l))
	}
	return lineNames[l]
}

// Kind classifies an event.
type Kind int

const (
	// KindLevel is a level driven by the host.
	KindLevel Kind = iota
	// KindDir is a direction change.
	KindDir
	// KindSample is a host read of a line.
	KindSample
)

// Event is a single observed pin operation.
type Event struct {
	_      struct{} `cbor:",toarray"`
	At     time.Duration
	Line   Line
	Kind   Kind
	High   bool
	Output bool
}

func (e Event) String() string {
	switch e.Kind {
	case KindDir:
		dir := "input"
		if e.Output {
			dir = "output"
		}
		return fmt.Sprintf("%v %v %s", e.At, e.Line, dir)
	case KindSample:
		return fmt.Sprintf("%v %v sample %s", e.At, e.Line, level(e.High))
	default:
		return fmt.Sprintf("%v %v %s", e.At, e.Line, level(e.High))
	}
}

func level(high bool) string {
	if high {
		return "high"
	}
	return "low"
}

// Recording is a serializable bus trace.
type Recording struct {
	Events []Event `cbor:"1,keyasint"`
}

// Recorder observes a bus handle and collects every pin operation it
// carries.
type Recorder struct {
	clock clock.Clock
	start time.Time

	mu     sync.Mutex
	events []Event
}

// NewRecorder returns a recorder stamping events with c, or with the wall
// clock if c is nil.
func NewRecorder(c clock.Clock) *Recorder {
	if c == nil {
		c = clock.New()
	}
	return &Recorder{clock: c, start: c.Now()}
}

// Wrap returns a bus handle that forwards to p and records every pin
// operation. The wake controller is forwarded untouched.
func (r *Recorder) Wrap(p rcs926.Pins) rcs926.Pins {
	return rcs926.Pins{
		SEL:   r.pin(SEL, p.SEL),
		CLK:   r.pin(CLK, p.CLK),
		DATA:  r.pin(DATA, p.DATA),
		SW:    r.pin(SW, p.SW),
		IRQ:   r.pin(IRQ, p.IRQ),
		RFDET: r.pin(RFDET, p.RFDET),
		Wake:  p.Wake,
	}
}

func (r *Recorder) pin(l Line, p rcs926.Pin) rcs926.Pin {
	if p == nil {
		return nil
	}
	return &tap{r: r, line: l, pin: p}
}

func (r *Recorder) add(e Event) {
	e.At = r.clock.Now().Sub(r.start)
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Recording returns a snapshot of the events recorded so far.
func (r *Recorder) Recording() *Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Recording{Events: slices.Clone(r.events)}
}

type tap struct {
	r    *Recorder
	line Line
	pin  rcs926.Pin
}

func (t *tap) Input() {
	t.pin.Input()
	t.r.add(Event{Line: t.line, Kind: KindDir})
}

func (t *tap) Output() {
	t.pin.Output()
	t.r.add(Event{Line: t.line, Kind: KindDir, Output: true})
}

func (t *tap) Set(high bool) {
	t.pin.Set(high)
	t.r.add(Event{Line: t.line, Kind: KindLevel, High: high})
}

func (t *tap) Get() bool {
	v := t.pin.Get()
	t.r.add(Event{Line: t.line, Kind: KindSample, High: v})
	return v
}

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

// Write serializes a recording.
func Write(w io.Writer, rec *Recording) error {
	if err := encMode.NewEncoder(w).Encode(rec); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	return nil
}

// Read parses a recording written by Write.
func Read(r io.Reader) (*Recording, error) {
	rec := new(Recording)
	if err := decMode.NewDecoder(r).Decode(rec); err != nil {
		return nil, fmt.Errorf("capture: failed to decode recording: %w", err)
	}
	return rec, nil
}
