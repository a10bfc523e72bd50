package adapter

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/karalabe/hid"
	"github.com/mklimuk/station/busctx"
)

const reportSize = 64

// Transport exchanges one 64-byte report with the adapter.
type Transport interface {
	Exchange(ctx context.Context, request, response []byte) error
}

// HIDTransport opens the MCP2221 for every exchange, so several processes
// can share the adapter.
type HIDTransport struct {
	// Index selects one of several attached adapters, in enumeration order.
	Index        int
	Multiple     bool
	ResponseWait time.Duration
}

func (t *HIDTransport) Exchange(ctx context.Context, request, response []byte) error {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return fmt.Errorf("MCP2221 device not found")
	}
	if len(devs) > 1 && !t.Multiple {
		return fmt.Errorf("ambiguous device identification")
	}
	if t.Index >= len(devs) {
		return fmt.Errorf("no device with id %d", t.Index)
	}
	dev, err := devs[t.Index].Open()
	if err != nil {
		return fmt.Errorf("error opening device: %w", err)
	}
	defer func() {
		_ = dev.Close()
	}()
	busctx.Trace(ctx, "sending message to adapter", "report", hex.EncodeToString(request))
	n, err := dev.Write(request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if response == nil {
		return nil
	}
	time.Sleep(t.ResponseWait)
	n, err = dev.Read(response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	busctx.Trace(ctx, "read message from adapter", "report", hex.EncodeToString(response))
	return nil
}

type Device struct {
	Path         string
	Serial       string
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	Known        string
}

// Detect lists attached HID devices. With all unset only known adapters are
// returned.
func Detect(all bool) []Device {
	var out []Device
	for _, dev := range hid.Enumerate(0, 0) {
		d := Device{
			Path:         dev.Path,
			Serial:       dev.Serial,
			VendorID:     dev.VendorID,
			ProductID:    dev.ProductID,
			Manufacturer: dev.Manufacturer,
			Product:      dev.Product,
		}
		if dev.VendorID == VendorID && dev.ProductID == ProductID {
			d.Known = "MCP2221"
		}
		if all || d.Known != "" {
			out = append(out, d)
		}
	}
	return out
}
