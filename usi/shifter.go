package usi

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

const counterMask = 0x0F

// Shifter is the shift-clocking helper driven by the master: an 8-bit data
// register whose MSB is presented on SDA and a 4-bit edge counter that flags
// completion on overflow.
type Shifter interface {
	Load(b byte) error
	Data() byte
	// SetCounter presets the edge counter and clears the complete flag.
	SetCounter(c uint8)
	Counter() uint8
	Complete() bool
	// Strobe toggles SCL and advances the counter by one edge.
	Strobe() error
}

// SoftShifter emulates the shifter in software over two lines.
type SoftShifter struct {
	scl, sda Line
	data     byte
	counter  uint8
	overflow bool
}

var _ Shifter = &SoftShifter{}

func NewSoftShifter(scl, sda Line) *SoftShifter {
	return &SoftShifter{scl: scl, sda: sda, data: 0xFF}
}

func (s *SoftShifter) Load(b byte) error {
	s.data = b
	return s.present()
}

func (s *SoftShifter) Data() byte {
	return s.data
}

func (s *SoftShifter) SetCounter(c uint8) {
	s.counter = c & counterMask
	s.overflow = false
}

func (s *SoftShifter) Counter() uint8 {
	return s.counter
}

func (s *SoftShifter) Complete() bool {
	return s.overflow
}

func (s *SoftShifter) Strobe() error {
	if s.scl.Latch() == gpio.Low {
		if err := s.scl.High(); err != nil {
			return fmt.Errorf("rising strobe: %w", err)
		}
		s.tick()
		return nil
	}
	lvl, err := s.sda.Read()
	if err != nil {
		return fmt.Errorf("sample sda: %w", err)
	}
	s.data <<= 1
	if lvl == gpio.High {
		s.data |= 1
	}
	if err := s.scl.Low(); err != nil {
		return fmt.Errorf("falling strobe: %w", err)
	}
	s.tick()
	return s.present()
}

func (s *SoftShifter) tick() {
	s.counter = (s.counter + 1) & counterMask
	if s.counter == 0 {
		s.overflow = true
	}
}

// present puts the register MSB on the SDA latch. The latch only reaches the
// wire while SDA is an output.
func (s *SoftShifter) present() error {
	var err error
	if s.data&0x80 != 0 {
		err = s.sda.High()
	} else {
		err = s.sda.Low()
	}
	if err != nil {
		return fmt.Errorf("present data bit: %w", err)
	}
	return nil
}
