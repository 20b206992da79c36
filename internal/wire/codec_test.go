package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, withReportID bool, m Message) Message {
	t.Helper()
	reports := Encode(m, withReportID)
	require.NotEmpty(t, reports)
	for _, r := range reports {
		require.Len(t, r, ReportSize)
	}

	c := NewCodec(withReportID)
	var got Message
	for _, r := range reports {
		msg, complete, err := c.FeedReport(r)
		require.NoError(t, err)
		if complete {
			got = msg
		}
	}
	require.NotNil(t, got)
	return got
}

func TestRoundTripKnownTypes(t *testing.T) {
	cases := []Message{
		&Features{
			VendorID: 0x2B24, ProductID: 0x0002,
			MajorVersion: 7, MinorVersion: 7, PatchVersion: 0,
			BootloaderVersion: "2.1.4", BootloaderHash: []byte{1, 2, 3, 4},
			Initialized: true, PinProtection: true, PassphraseProtection: false,
			BootloaderMode: false, Label: "my keepkey",
			Policies: map[string]bool{"ShapeShift": true, "Pin-Caching": false},
		},
		&PinMatrixRequest{Type: 1},
		&PinMatrixAck{Positions: "7153"},
		&PassphraseRequest{},
		&PassphraseAck{Passphrase: "correct horse battery staple"},
		&ButtonRequest{Kind: 2},
		&ButtonAck{},
		&Failure{Code: 99, Message: "pin invalid"},
		&Cancel{},
		&EntropyRequest{Size: 32},
		&EntropyAck{Entropy: []byte{0xde, 0xad, 0xbe, 0xef}},
		&WordRequest{Index: 3},
		&WordAck{Word: "abandon"},
		&GetFeatures{},
		&Initialize{Strength: 256, PassphraseProtection: true},
		&WipeDevice{},
		&FirmwareErase{Length: 1 << 20},
		&FirmwareUpload{Payload: make([]byte, 2000), HashSig: []byte{9, 9, 9}},
		&Success{Message: "ok"},
	}

	for _, withReportID := range []bool{false, true} {
		for _, m := range cases {
			got := roundTrip(t, withReportID, m)
			require.Equal(t, m.TypeCode(), got.TypeCode())
			require.Equal(t, EncodePayload(m), EncodePayload(got))
		}
	}
}

func TestRoundTripUnknownType(t *testing.T) {
	u := &Unknown{Code: 0xBEEF, Bytes: []byte("opaque payload bytes")}
	got := roundTrip(t, true, u)
	gotUnknown, ok := got.(*Unknown)
	require.True(t, ok)
	require.Equal(t, u.Code, gotUnknown.Code)
	require.Equal(t, u.Bytes, gotUnknown.Bytes)
}

func TestDecodeNeverPanicsOnRandomBytes(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0x00},
		{0x23},
		{0x23, 0x23},
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		append([]byte{0x23, 0x23, 0x00, 17, 0x00, 0x00, 0x00, 0x05}, []byte{1, 2, 3}...),
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("decode panicked on input %v: %v", in, r)
				}
			}()
			c := NewCodec(false)
			_, _, _ = c.FeedReport(padReport(in))
		}()
	}
}

func padReport(b []byte) []byte {
	r := make([]byte, ReportSize)
	copy(r, b)
	return r
}

func TestBadMagicDetected(t *testing.T) {
	report := padReport([]byte{0x00, 0x00, 0x00, 17, 0x00, 0x00, 0x00, 0x00})
	c := NewCodec(false)
	_, _, err := c.FeedReport(report)
	require.Error(t, err)
	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, BadMagic, ce.Code)
}

func TestTruncatedFirstReport(t *testing.T) {
	report := make([]byte, ReportSize)
	copy(report, []byte{0x23, 0x23, 0x00})
	c := NewCodec(false)
	_, _, err := c.FeedReport(report[:3])
	require.Error(t, err)
	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, TruncatedPayload, ce.Code)
}

func TestMultiReportReassembly(t *testing.T) {
	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i)
	}
	m := &FirmwareUpload{Payload: payload, HashSig: []byte{1, 2, 3, 4}}
	reports := Encode(m, true)
	require.Greater(t, len(reports), 1)

	c := NewCodec(true)
	var final Message
	for i, r := range reports {
		msg, complete, err := c.FeedReport(r)
		require.NoError(t, err)
		if i < len(reports)-1 {
			require.False(t, complete)
		} else {
			require.True(t, complete)
			final = msg
		}
	}
	got := final.(*FirmwareUpload)
	require.Equal(t, m.Payload, got.Payload)
	require.Equal(t, m.HashSig, got.HashSig)
}

func TestZeroPayloadMessageIsSingleReport(t *testing.T) {
	reports := Encode(&Cancel{}, true)
	require.Len(t, reports, 1)
	require.Len(t, reports[0], ReportSize)
}
