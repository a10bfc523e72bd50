package usitest

import (
	"sync"
	"time"
)

// Target is a slave device attached to the simulated bus.
type Target interface {
	Addr() byte
	// Start is called once the address byte is received; returning false NACKs it.
	Start(read bool) bool
	// WriteByte returns false to NACK the byte.
	WriteByte(b byte) bool
	ReadByte() byte
	Stop()
}

// RegisterTarget is a pointer-addressed register device. The first byte of a
// write selects the register, the following bytes replace its content. Reads
// stream the selected register followed by 0xFF.
type RegisterTarget struct {
	mx      sync.Mutex
	Address byte
	Regs    map[byte][]byte
	// NotReady makes the device refuse every read.
	NotReady bool
	// RejectAfter NACKs written bytes past the given count when positive.
	RejectAfter int
	// Conversion, when set with Clock, makes the device refuse reads for
	// that long after a bare pointer write to register 0x00.
	Conversion time.Duration
	Clock      *Clock

	writes  [][]byte
	current []byte
	ptr     byte
	offset  int
	reading bool
	busy    time.Time
}

var _ Target = &RegisterTarget{}

func NewRegisterTarget(addr byte) *RegisterTarget {
	return &RegisterTarget{Address: addr, Regs: map[byte][]byte{}}
}

func (t *RegisterTarget) Addr() byte {
	return t.Address
}

func (t *RegisterTarget) Start(read bool) bool {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.reading = read
	if read {
		if t.NotReady {
			return false
		}
		if t.Clock != nil && t.Clock.Now().Before(t.busy) {
			return false
		}
		t.offset = 0
		return true
	}
	t.current = []byte{}
	return true
}

func (t *RegisterTarget) WriteByte(b byte) bool {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.RejectAfter > 0 && len(t.current) >= t.RejectAfter {
		return false
	}
	t.current = append(t.current, b)
	return true
}

func (t *RegisterTarget) ReadByte() byte {
	t.mx.Lock()
	defer t.mx.Unlock()
	reg := t.Regs[t.ptr]
	if t.offset >= len(reg) {
		return 0xFF
	}
	b := reg[t.offset]
	t.offset++
	return b
}

func (t *RegisterTarget) Stop() {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.reading || len(t.current) == 0 {
		return
	}
	t.writes = append(t.writes, t.current)
	t.ptr = t.current[0]
	if len(t.current) > 1 {
		t.Regs[t.ptr] = append([]byte(nil), t.current[1:]...)
	} else if t.ptr == 0x00 && t.Clock != nil {
		t.busy = t.Clock.Now().Add(t.Conversion)
	}
	t.current = nil
}

// Writes returns every completed write transaction payload.
func (t *RegisterTarget) Writes() [][]byte {
	t.mx.Lock()
	defer t.mx.Unlock()
	return append([][]byte(nil), t.writes...)
}
