package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"

	"keepkeyd/internal/wire"
)

// usbConfigNum/usbInterfaceNum mirror the single
// configuration/interface KeepKey bootloader-mode devices expose; unlike
// the teacher's ASIC, there is exactly one interface to claim.
const (
	usbConfigNum    = 1
	usbInterfaceNum = 0
	usbAltSetting   = 0
	usbEndpointOut  = 0x01
	usbEndpointIn   = 0x81
)

// USBInterruptOpener opens devices as raw USB interrupt endpoints via
// github.com/google/gousb, bypassing the HID subsystem for bootloader-mode
// devices that enumerate as a plain USB interface.
type USBInterruptOpener struct{}

func (USBInterruptOpener) Open(d Descriptor) (Transport, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(d.VendorID), gousb.ID(d.ProductID))
	if err != nil {
		ctx.Close()
		return nil, classifyGousbError(err)
	}
	if dev == nil {
		ctx.Close()
		return nil, newError(NotFound, fmt.Errorf("usb device not found (vid=%#04x pid=%#04x)", d.VendorID, d.ProductID))
	}

	cfg, err := dev.Config(usbConfigNum)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, newError(Hardware, fmt.Errorf("set usb config: %w", err))
	}

	intf, err := cfg.Interface(usbInterfaceNum, usbAltSetting)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, classifyGousbError(err)
	}

	epOut, err := intf.OutEndpoint(usbEndpointOut)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, newError(Hardware, fmt.Errorf("open out endpoint: %w", err))
	}

	epIn, err := intf.InEndpoint(usbEndpointIn)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, newError(Hardware, fmt.Errorf("open in endpoint: %w", err))
	}

	return &usbInterruptTransport{
		ctx: ctx, dev: dev, cfg: cfg, intf: intf,
		epOut: epOut, epIn: epIn,
		codec: wire.NewCodec(false),
	}, nil
}

func classifyGousbError(err error) *Error {
	switch {
	case errors.Is(err, gousb.ErrorAccess):
		return newError(PermissionDenied, err)
	case errors.Is(err, gousb.ErrorBusy):
		return newError(Busy, err)
	case errors.Is(err, gousb.ErrorNoDevice), errors.Is(err, gousb.ErrorNotFound):
		return newError(NotFound, err)
	default:
		return newError(Hardware, err)
	}
}

type usbInterruptTransport struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint
	codec *wire.Codec
}

func (t *usbInterruptTransport) Kind() Kind { return KindUSBInterrupt }

func (t *usbInterruptTransport) Send(m wire.Message) error {
	for _, report := range t.codec.Encode(m) {
		if _, err := t.epOut.Write(report); err != nil {
			return newError(WriteFailed, err)
		}
	}
	return nil
}

func (t *usbInterruptTransport) Recv(deadline time.Time) (wire.Message, error) {
	buf := make([]byte, wire.ReportSize)
	for {
		timeout := time.Until(deadline)
		if timeout <= 0 {
			return nil, newError(Timeout, nil)
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		n, err := t.epIn.ReadContext(ctx, buf)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, newError(Timeout, nil)
			}
			return nil, newError(ReadFailed, err)
		}
		if n == 0 {
			return nil, newError(Timeout, nil)
		}

		report := buf[:n]
		if len(report) < wire.ReportSize {
			padded := make([]byte, wire.ReportSize)
			copy(padded, report)
			report = padded
		}

		msg, complete, err := t.codec.FeedReport(report[:wire.ReportSize])
		if err != nil {
			return nil, newError(ReadFailed, err)
		}
		if complete {
			return msg, nil
		}
	}
}

func (t *usbInterruptTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
	}
	if t.cfg != nil {
		t.cfg.Close()
	}
	if t.dev != nil {
		t.dev.Close()
	}
	if t.ctx != nil {
		t.ctx.Close()
	}
	return nil
}
