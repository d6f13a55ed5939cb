package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenPort opens a real serial device, typically an RFCOMM node bound to a
// paired phone.
func OpenPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}
