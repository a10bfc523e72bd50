package usi

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/station"
	"periph.io/x/conn/v3/gpio"
)

const (
	counter8Bit uint8 = 0x00
	counter1Bit uint8 = 0x0E
)

// Timing holds the minimum SCL high and low periods.
type Timing struct {
	THigh time.Duration
	TLow  time.Duration
}

var (
	StandardMode = Timing{THigh: 4000 * time.Nanosecond, TLow: 4700 * time.Nanosecond}
	FastMode     = Timing{THigh: 600 * time.Nanosecond, TLow: 1300 * time.Nanosecond}
)

type Config struct {
	Timing Timing
	// Fast selects the fast-mode start setup delay (THigh instead of TLow).
	Fast bool
	// Timeout bounds every wait for a line level. Zero waits forever.
	Timeout      time.Duration
	PollInterval time.Duration
}

func StandardConfig() Config {
	return Config{
		Timing:       StandardMode,
		Timeout:      25 * time.Millisecond,
		PollInterval: time.Microsecond,
	}
}

func FastConfig() Config {
	return Config{
		Timing:       FastMode,
		Fast:         true,
		Timeout:      25 * time.Millisecond,
		PollInterval: time.Microsecond,
	}
}

type MasterOption func(*Master)

func WithConfig(cfg Config) MasterOption {
	return func(m *Master) {
		m.cfg = cfg
	}
}

func WithClock(clock station.Clock) MasterOption {
	return func(m *Master) {
		m.clock = clock
	}
}

func WithShifter(sh Shifter) MasterOption {
	return func(m *Master) {
		m.shifter = sh
	}
}

func WithLogger(logger *slog.Logger) MasterOption {
	return func(m *Master) {
		m.logger = logger
	}
}

// Master is a single-master I2C engine clocking bytes through a Shifter over
// two open-drain lines. It is not safe for concurrent use; Bus serializes
// access to it.
type Master struct {
	scl, sda Line
	shifter  Shifter
	cfg      Config
	clock    station.Clock
	logger   *slog.Logger
}

func NewMaster(scl, sda Line, opts ...MasterOption) *Master {
	m := &Master{
		scl:    scl,
		sda:    sda,
		cfg:    StandardConfig(),
		clock:  station.SystemClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.shifter == nil {
		m.shifter = NewSoftShifter(scl, sda)
	}
	if m.cfg.PollInterval <= 0 {
		m.cfg.PollInterval = time.Microsecond
	}
	return m
}

func (m *Master) Config() Config {
	return m.cfg
}

// SetTiming changes the bus timing between transactions.
func (m *Master) SetTiming(t Timing, fast bool) {
	m.cfg.Timing = t
	m.cfg.Fast = fast
}

// Transfer clocks 8 or 1 bits through the shifter and returns the data
// register. SDA is left as a released output.
func (m *Master) Transfer(bits int) (byte, error) {
	switch bits {
	case 8:
		m.shifter.SetCounter(counter8Bit)
	case 1:
		m.shifter.SetCounter(counter1Bit)
	default:
		return 0, fmt.Errorf("unsupported transfer width %d", bits)
	}
	for {
		m.clock.Sleep(m.cfg.Timing.TLow)
		if err := m.shifter.Strobe(); err != nil {
			return 0, err
		}
		if err := m.waitFor("scl high", m.lineHigh(m.scl)); err != nil {
			return 0, err
		}
		m.clock.Sleep(m.cfg.Timing.THigh)
		if err := m.shifter.Strobe(); err != nil {
			return 0, err
		}
		if m.shifter.Complete() {
			break
		}
	}
	m.clock.Sleep(m.cfg.Timing.TLow)
	data := m.shifter.Data()
	if err := m.shifter.Load(0xFF); err != nil {
		return 0, err
	}
	if err := m.sda.SetDirection(Output); err != nil {
		return 0, err
	}
	return data, nil
}

// Start generates a START condition. SCL is left low and SDA released.
func (m *Master) Start() error {
	if err := m.sda.High(); err != nil {
		return err
	}
	if err := m.sda.SetDirection(Output); err != nil {
		return err
	}
	if err := m.scl.High(); err != nil {
		return err
	}
	if err := m.scl.SetDirection(Output); err != nil {
		return err
	}
	if err := m.waitFor("scl high before start", m.lineHigh(m.scl)); err != nil {
		return err
	}
	if m.cfg.Fast {
		m.clock.Sleep(m.cfg.Timing.THigh)
	} else {
		m.clock.Sleep(m.cfg.Timing.TLow)
	}
	if err := m.sda.Low(); err != nil {
		return err
	}
	m.clock.Sleep(m.cfg.Timing.THigh)
	if err := m.scl.Low(); err != nil {
		return err
	}
	m.clock.Sleep(m.cfg.Timing.TLow)
	return m.sda.High()
}

// Stop generates a STOP condition and waits for SDA to be observed high.
func (m *Master) Stop() error {
	if err := m.sda.SetDirection(Output); err != nil {
		return err
	}
	if err := m.sda.Low(); err != nil {
		return err
	}
	m.clock.Sleep(m.cfg.Timing.TLow)
	if err := m.scl.High(); err != nil {
		return err
	}
	if err := m.waitFor("scl high before stop", m.lineHigh(m.scl)); err != nil {
		return err
	}
	m.clock.Sleep(m.cfg.Timing.THigh)
	if err := m.sda.High(); err != nil {
		return err
	}
	return m.waitFor("sda high after stop", m.lineHigh(m.sda))
}

// SendByte shifts b out and samples the acknowledge bit.
func (m *Master) SendByte(b byte) (bool, error) {
	if err := m.scl.Low(); err != nil {
		return false, err
	}
	if err := m.shifter.Load(b); err != nil {
		return false, err
	}
	if err := m.sda.SetDirection(Output); err != nil {
		return false, err
	}
	if _, err := m.Transfer(8); err != nil {
		return false, fmt.Errorf("send 0x%02x: %w", b, err)
	}
	if err := m.sda.SetDirection(Input); err != nil {
		return false, err
	}
	ack, err := m.Transfer(1)
	if err != nil {
		return false, fmt.Errorf("ack of 0x%02x: %w", b, err)
	}
	return ack&0x01 == 0, nil
}

// ReadByte shifts one byte in and answers with ACK, or NACK when nack is set.
func (m *Master) ReadByte(nack bool) (byte, error) {
	if err := m.sda.SetDirection(Input); err != nil {
		return 0, err
	}
	b, err := m.Transfer(8)
	if err != nil {
		return 0, fmt.Errorf("receive: %w", err)
	}
	if err := m.sda.SetDirection(Output); err != nil {
		return 0, err
	}
	answer := byte(0x00)
	if nack {
		answer = 0xFF
	}
	if err := m.shifter.Load(answer); err != nil {
		return 0, err
	}
	if _, err := m.Transfer(1); err != nil {
		return 0, fmt.Errorf("answer receive: %w", err)
	}
	return b, nil
}

// Recover clocks SCL up to nine times until the slave holding SDA lets go,
// then issues a STOP.
func (m *Master) Recover() error {
	if err := m.sda.High(); err != nil {
		return err
	}
	if err := m.sda.SetDirection(Input); err != nil {
		return err
	}
	for i := 0; i < 9; i++ {
		lvl, err := m.sda.Read()
		if err != nil {
			return err
		}
		if lvl == gpio.High {
			break
		}
		m.logger.Debug("clocking out stuck slave", "pulse", i+1)
		if err := m.scl.Low(); err != nil {
			return err
		}
		m.clock.Sleep(m.cfg.Timing.TLow)
		if err := m.scl.High(); err != nil {
			return err
		}
		if err := m.waitFor("scl high during recovery", m.lineHigh(m.scl)); err != nil {
			return err
		}
		m.clock.Sleep(m.cfg.Timing.THigh)
	}
	if err := m.scl.Low(); err != nil {
		return err
	}
	m.clock.Sleep(m.cfg.Timing.TLow)
	return m.Stop()
}

func (m *Master) lineHigh(l Line) func() (bool, error) {
	return func() (bool, error) {
		lvl, err := l.Read()
		return lvl == gpio.High, err
	}
}

// waitFor polls cond until it holds or the configured timeout elapses on the
// master clock.
func (m *Master) waitFor(what string, cond func() (bool, error)) error {
	start := m.clock.Now()
	for {
		ok, err := cond()
		if err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		if ok {
			return nil
		}
		if m.cfg.Timeout > 0 && m.clock.Now().Sub(start) >= m.cfg.Timeout {
			m.logger.Debug("bus line wait timed out", "wait", what, "timeout", m.cfg.Timeout)
			return fmt.Errorf("%s: %w", what, station.ErrBusTimeout)
		}
		m.clock.Sleep(m.cfg.PollInterval)
	}
}
