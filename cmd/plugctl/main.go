// command plugctl exercises a FeliCa Plug over its three-wire bus.
//
// It drives the bus through the host GPIO header by default, through a
// Bus Pirate with -device, or against the built-in simulator with -sim.
// Operations:
//
//	status          power the plug up and report field and data-ready state
//	resume          power the plug up
//	suspend         power the plug down
//	send <hex ...>  send command bytes
//	get <n>         read n response bytes
//	decode <file>   print the exchanges in a recorded bus trace
package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"felicaplug.dev/capture"
	"felicaplug.dev/driver/buspirate"
	"felicaplug.dev/driver/rcs926"
)

var (
	serialDev = flag.String("device", "", "drive the bus through a Bus Pirate on this serial device")
	simulate  = flag.Bool("sim", false, "drive the built-in plug simulator instead of hardware")
	gpioNames = flag.String("pins", "", "comma-separated GPIO names for SEL,CLK,DATA,SW,IRQ,RFDET")
	traceFile = flag.String("trace", "", "record the bus to this file")
	rawEvents = flag.Bool("events", false, "print raw pin events instead of exchanges when decoding")
	wakeField = flag.Bool("wake-field", false, "arm wakeup on RF field changes before exiting")
	wakeData  = flag.Bool("wake-data", false, "arm wakeup on data-ready changes before exiting")
	refWake   = flag.Bool("refcounted-wake", false, "clear the shared wake enable when no source is armed")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "plugctl: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		return errors.New("no operation; one of status, resume, suspend, send, get, decode")
	}
	op, args := args[0], args[1:]
	if op == "decode" {
		return decode(args)
	}

	pins, port, err := openPins()
	if err != nil {
		return err
	}
	if port != nil {
		defer port.Close()
	}
	var rec *capture.Recorder
	if *traceFile != "" {
		rec = capture.NewRecorder(nil)
		pins = rec.Wrap(pins)
	}
	lockTiming()
	d := rcs926.New(pins)
	if err := d.Configure(rcs926.Config{RefCountedWake: *refWake}); err != nil {
		return err
	}

	switch op {
	case "status":
		d.Resume()
		fmt.Printf("field present: %t\n", d.FieldPresent())
		fmt.Printf("data ready: %t\n", d.DataReady())
	case "resume":
		d.Resume()
	case "suspend":
		d.Suspend()
	case "send":
		buf, err := parseHex(args)
		if err != nil {
			return err
		}
		d.Resume()
		d.BeginSend()
		sendErr := d.Send(buf)
		d.EndSend()
		if sendErr != nil {
			return sendErr
		}
	case "get":
		if len(args) != 1 {
			return errors.New("get: need a byte count")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("get: bad byte count %q", args[0])
		}
		d.Resume()
		buf := make([]byte, n)
		if err := d.Get(buf); err != nil {
			return err
		}
		fmt.Printf("% x\n", buf)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}

	if *wakeField {
		d.SetWakeOnField(true)
	}
	if *wakeData {
		d.SetWakeOnDataReady(true)
	}
	if port != nil {
		if err := port.Err(); err != nil {
			return err
		}
	}

	if rec != nil {
		var buf bytes.Buffer
		if err := capture.Write(&buf, rec.Recording()); err != nil {
			return err
		}
		if err := os.WriteFile(*traceFile, buf.Bytes(), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func openPins() (rcs926.Pins, *buspirate.Port, error) {
	switch {
	case *simulate:
		return rcs926.NewSimulator().Pins(), nil, nil
	case *serialDev != "":
		p, err := buspirate.Open(*serialDev)
		if err != nil {
			return rcs926.Pins{}, nil, err
		}
		return p.Pins(), p, nil
	case *gpioNames != "":
		names := strings.Split(*gpioNames, ",")
		if len(names) != 6 {
			return rcs926.Pins{}, nil, fmt.Errorf("-pins: need 6 names, got %d", len(names))
		}
		pins, err := rcs926.PinsByName(names[0], names[1], names[2], names[3], names[4], names[5])
		if err != nil {
			return rcs926.Pins{}, nil, err
		}
		return pins, nil, nil
	default:
		pins, err := rcs926.DefaultPins()
		if err != nil {
			return rcs926.Pins{}, nil, err
		}
		return pins, nil, nil
	}
}

func parseHex(args []string) ([]byte, error) {
	raw := strings.Join(args, "")
	raw = strings.ReplaceAll(raw, ":", "")
	buf, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	if len(buf) == 0 {
		return nil, errors.New("send: no bytes")
	}
	return buf, nil
}

func decode(args []string) error {
	if len(args) != 1 {
		return errors.New("decode: need a trace file")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	rec, err := capture.Read(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if *rawEvents {
		for _, e := range rec.Events {
			fmt.Println(e)
		}
		return nil
	}
	for i, ex := range rec.Exchanges() {
		fmt.Printf("#%d cmd:", i)
		if len(ex.Command) > 0 {
			fmt.Printf(" % x", ex.Command)
		}
		if ex.CommandBits > 0 {
			fmt.Printf(" +%d bits", ex.CommandBits)
		}
		fmt.Printf(" resp:")
		if len(ex.Response) > 0 {
			fmt.Printf(" % x", ex.Response)
		}
		if ex.ResponseBits > 0 {
			fmt.Printf(" +%d bits", ex.ResponseBits)
		}
		fmt.Println()
	}
	return nil
}
