package station

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// ErrBusTimeout is returned when a bus line never reaches the expected level,
// typically a slave stretching the clock forever.
var ErrBusTimeout = fmt.Errorf("bus timeout")

// ErrNack is returned when a slave does not acknowledge an address or data byte.
var ErrNack = fmt.Errorf("byte not acknowledged")

// ErrMalformedReceive is returned when a read transaction cannot deliver data,
// e.g. the addressed device refused the read.
var ErrMalformedReceive = fmt.Errorf("malformed receive")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
}
