package serialmux

import (
	"io"
)

// SerialPorter defines the minimal interface needed for a serial port.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens the port at path. Tests substitute a fake.
type PortOpener func(path string, opts PortOptions) (SerialPorter, error)
