package wire

// Codec turns typed Messages into report streams and back for one
// transport. withReportID must match the transport's HID-ness, since the
// report-ID byte is part of the framing, not the payload.
type Codec struct {
	withReportID bool
	reassembler  *Reassembler
}

// NewCodec constructs a Codec for a transport that does or does not
// prepend a HID report-ID byte.
func NewCodec(withReportID bool) *Codec {
	return &Codec{
		withReportID: withReportID,
		reassembler:  NewReassembler(withReportID),
	}
}

// Encode serializes m into the reports a Transport.send writes to the
// device. Total and infallible for every known message type, per spec
// section 4.1's contract.
func (c *Codec) Encode(m Message) [][]byte {
	payload := EncodePayload(m)
	return EncodeReports(m.TypeCode(), payload, c.withReportID)
}

// FeedReport advances reassembly by one report read from the Transport. It
// returns (message, true, nil) once a complete message has arrived,
// (nil, false, nil) if more reports are needed, or a CodecError on
// malformed input.
func (c *Codec) FeedReport(report []byte) (Message, bool, error) {
	typeCode, payload, complete, err := c.reassembler.Feed(report)
	if err != nil {
		return nil, false, err
	}
	if !complete {
		return nil, false, nil
	}
	m, err := DecodePayload(typeCode, payload)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Decode is the one-shot form of the C1 contract for callers that already
// hold a complete, reassembled (typeCode, payload) pair. The transports
// and tests in this repository decode through FeedReport instead.
func Decode(typeCode uint16, payload []byte) (Message, error) {
	return DecodePayload(typeCode, payload)
}

// Encode is the package-level one-shot form of the C1 contract: it encodes
// a message straight to reports without needing a stateful Codec.
func Encode(m Message, withReportID bool) [][]byte {
	return EncodeReports(m.TypeCode(), EncodePayload(m), withReportID)
}
