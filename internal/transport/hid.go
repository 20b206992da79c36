package transport

import (
	"errors"
	"time"

	"github.com/karalabe/hid"

	"keepkeyd/internal/wire"
)

// HIDOpener opens devices over github.com/karalabe/hid, the USB HID
// transport used throughout the Trezor/Ledger/Ethereum hardware-wallet
// ecosystem for exactly this class of device.
type HIDOpener struct{}

func (HIDOpener) Open(d Descriptor) (Transport, error) {
	infos, err := hid.Enumerate(d.VendorID, d.ProductID)
	if err != nil {
		return nil, newError(Hardware, err)
	}

	var target *hid.DeviceInfo
	for i := range infos {
		info := infos[i]
		if d.Path != "" && info.Path == d.Path {
			target = &info
			break
		}
		if d.Serial != "" && info.Serial == d.Serial {
			target = &info
			break
		}
	}
	if target == nil && d.Path == "" && d.Serial == "" && len(infos) > 0 {
		target = &infos[0]
	}
	if target == nil {
		return nil, newError(NotFound, errors.New("no matching HID device in enumeration"))
	}

	dev, err := target.Open()
	if err != nil {
		return nil, classifyOpenError(err)
	}

	return &hidTransport{
		dev:   dev,
		codec: wire.NewCodec(true),
	}, nil
}

func classifyOpenError(err error) *Error {
	// hidapi does not expose structured errnos through this binding; the
	// message text is the only signal available, matching how the teacher's
	// device layer classifies gousb errors by substring.
	msg := err.Error()
	switch {
	case containsAny(msg, "permission", "access is denied", "access denied"):
		return newError(PermissionDenied, err)
	case containsAny(msg, "busy", "resource busy", "already open"):
		return newError(Busy, err)
	case containsAny(msg, "no such device", "not found"):
		return newError(NotFound, err)
	default:
		return newError(Hardware, err)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) && indexOfFold(s, sub) >= 0 {
			return true
		}
	}
	return false
}

// indexOfFold is a tiny case-insensitive substring search, avoiding a
// strings.ToLower allocation per candidate on the hot classify-error path.
func indexOfFold(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if equalFold(s[i:i+m], sub) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

type hidTransport struct {
	dev   hid.Device
	codec *wire.Codec
}

func (t *hidTransport) Kind() Kind { return KindHID }

func (t *hidTransport) Send(m wire.Message) error {
	for _, report := range t.codec.Encode(m) {
		if _, err := t.dev.Write(report); err != nil {
			if errors.Is(err, hid.ErrDeviceClosed) {
				return newError(Disconnected, err)
			}
			return newError(WriteFailed, err)
		}
	}
	return nil
}

func (t *hidTransport) Recv(deadline time.Time) (wire.Message, error) {
	buf := make([]byte, wire.ReportSize+1) // +1 for the report-ID byte hidapi expects room for
	for {
		timeout := time.Until(deadline)
		if timeout <= 0 {
			return nil, newError(Timeout, nil)
		}
		n, err := t.dev.ReadTimeout(buf, int(timeout/time.Millisecond))
		if err != nil {
			if errors.Is(err, hid.ErrDeviceClosed) {
				return nil, newError(Disconnected, err)
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

func (t *hidTransport) Close() error {
	return t.dev.Close()
}
