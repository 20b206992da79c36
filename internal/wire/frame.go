package wire

import "encoding/binary"

// ReportSize is the fixed report length every outgoing report is padded to,
// per spec section 4.1/6. When a transport prepends a HID report-ID byte,
// that byte is counted inside ReportSize rather than added on top, so every
// report handed to the OS is exactly ReportSize bytes long regardless of
// transport kind.
const ReportSize = 64

// headerLen is the first-report header: 2-byte magic, BE u16 type, BE u32
// length.
const headerLen = 2 + 2 + 4

const (
	magicHi = 0x23
	magicLo = 0x23
)

func firstPayloadCap(withReportID bool) int {
	n := ReportSize - headerLen
	if withReportID {
		n--
	}
	return n
}

func continuationPayloadCap(withReportID bool) int {
	n := ReportSize
	if withReportID {
		n--
	}
	return n
}

// EncodeReports fragments a single typed message into one or more
// ReportSize-byte reports, zero-padding the final report as needed.
// withReportID prepends a leading 0x00 report-ID byte to every report, as
// HID-backed transports require.
func EncodeReports(typeCode uint16, payload []byte, withReportID bool) [][]byte {
	var reports [][]byte

	header := make([]byte, headerLen)
	header[0] = magicHi
	header[1] = magicLo
	binary.BigEndian.PutUint16(header[2:4], typeCode)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))

	remaining := payload
	n := firstPayloadCap(withReportID)
	if n > len(remaining) {
		n = len(remaining)
	}
	reports = append(reports, buildReport(header, remaining[:n], withReportID))
	remaining = remaining[n:]

	for len(remaining) > 0 {
		n := continuationPayloadCap(withReportID)
		if n > len(remaining) {
			n = len(remaining)
		}
		reports = append(reports, buildReport(nil, remaining[:n], withReportID))
		remaining = remaining[n:]
	}

	return reports
}

func buildReport(header []byte, chunk []byte, withReportID bool) []byte {
	report := make([]byte, ReportSize)
	offset := 0
	if withReportID {
		report[0] = 0x00
		offset = 1
	}
	offset += copy(report[offset:], header)
	copy(report[offset:], chunk)
	return report
}

// stripReportID removes a leading 0x00 report-ID byte when the transport
// uses one.
func stripReportID(report []byte, withReportID bool) []byte {
	if withReportID && len(report) > 0 {
		return report[1:]
	}
	return report
}

// Reassembler accumulates reports belonging to one in-flight message and
// yields the complete message once all declared payload bytes have
// arrived. It never buffers beyond the declared length, and is reset after
// each complete message (or error) so it can be reused for the next
// message on the same Transport.
type Reassembler struct {
	withReportID bool

	started  bool
	typeCode uint16
	wantLen  uint32
	payload  []byte
}

// NewReassembler constructs a Reassembler for a transport that does or does
// not prepend a HID report-ID byte.
func NewReassembler(withReportID bool) *Reassembler {
	return &Reassembler{withReportID: withReportID}
}

// Feed consumes one raw report. It returns (typeCode, payload, true, nil)
// once the message is complete, (0, nil, false, nil) if more reports are
// needed, or a non-nil CodecError on malformed input. On error the
// Reassembler resets itself so the caller can resynchronize on the next
// report.
func (r *Reassembler) Feed(report []byte) (uint16, []byte, bool, error) {
	body := stripReportID(report, r.withReportID)

	if !r.started {
		if len(body) < headerLen {
			r.reset()
			return 0, nil, false, newCodecError(TruncatedPayload, "first report shorter than header (%d bytes)", len(body))
		}
		if body[0] != magicHi || body[1] != magicLo {
			r.reset()
			return 0, nil, false, newCodecError(BadMagic, "got %#02x%02x", body[0], body[1])
		}
		r.typeCode = binary.BigEndian.Uint16(body[2:4])
		r.wantLen = binary.BigEndian.Uint32(body[4:8])
		r.payload = make([]byte, 0, r.wantLen)
		r.started = true

		return r.absorb(body[headerLen:])
	}

	return r.absorb(body)
}

func (r *Reassembler) absorb(chunk []byte) (uint16, []byte, bool, error) {
	need := int(r.wantLen) - len(r.payload)
	if need < 0 {
		need = 0
	}
	if len(chunk) > need {
		chunk = chunk[:need]
	}
	r.payload = append(r.payload, chunk...)

	if len(r.payload) >= int(r.wantLen) {
		typeCode, payload := r.typeCode, r.payload
		r.reset()
		return typeCode, payload, true, nil
	}
	return 0, nil, false, nil
}

func (r *Reassembler) reset() {
	r.started = false
	r.typeCode = 0
	r.wantLen = 0
	r.payload = nil
}
