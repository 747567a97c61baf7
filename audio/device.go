package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

var ErrSelectionCancelled = errors.New("device selection cancelled")

// SelectDevice presents an interactive microphone picker starting on the
// system default. With a single device it returns that device without
// prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}

	if len(devices) == 0 {
		return nil, ErrDeviceUnavailable
	}

	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	p := newPicker(devices)
	p.render(os.Stdout)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch p.key(buf[:n]) {
		case pickDone:
			fmt.Print("\r\n")
			return &devices[p.cursor], nil
		case pickCancel:
			fmt.Print("\r\n")
			return nil, ErrSelectionCancelled
		}
		fmt.Printf("\x1b[%dA", len(devices)+2)
		p.render(os.Stdout)
	}
}

type pickResult int

const (
	pickMoved pickResult = iota
	pickDone
	pickCancel
)

type picker struct {
	devices []DeviceInfo
	cursor  int
}

func newPicker(devices []DeviceInfo) *picker {
	p := &picker{devices: devices}
	for i, d := range devices {
		if d.Default {
			p.cursor = i
			break
		}
	}
	return p
}

// key applies one read from a raw terminal: arrows or j/k move, 1-9 jump,
// Enter picks, Ctrl+C / Esc / q cancel.
func (p *picker) key(in []byte) pickResult {
	last := len(p.devices) - 1
	if len(in) == 3 && in[0] == 0x1b && in[1] == '[' {
		switch in[2] {
		case 'A':
			p.cursor = max(p.cursor-1, 0)
		case 'B':
			p.cursor = min(p.cursor+1, last)
		}
		return pickMoved
	}
	if len(in) != 1 {
		return pickMoved
	}
	switch c := in[0]; {
	case c == '\r' || c == '\n':
		return pickDone
	case c == 3 || c == 0x1b || c == 'q':
		return pickCancel
	case c == 'k':
		p.cursor = max(p.cursor-1, 0)
	case c == 'j':
		p.cursor = min(p.cursor+1, last)
	case c >= '1' && c <= '9' && int(c-'1') <= last:
		p.cursor = int(c - '1')
	}
	return pickMoved
}

func (p *picker) render(w io.Writer) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Select the classroom microphone (↑/↓ or 1-9, Enter to confirm, q to skip):\r\n\r\n")
	for i, d := range p.devices {
		tag := ""
		if d.Default {
			tag += " (default)"
		}
		if IsBluetooth(d.Name) {
			tag += " \x1b[33m[⚠ headset mic, levels may read low]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %d. %s%s\x1b[0m\r\n", i+1, d.Name, tag)
		} else {
			fmt.Fprintf(w, "    %d. %s%s\r\n", i+1, d.Name, tag)
		}
	}
}
