// Package wire implements the bit-exact translation between typed protocol
// messages and the device's on-wire HID/USB-interrupt report stream:
// fixed-size report framing (frame.go) and a tag-length-value payload
// schema compatible with the protobuf wire format (message.go, tlv.go).
package wire

// Type codes for the known message schema. Anything outside this set
// decodes to Unknown rather than failing, per spec section 4.1.
const (
	TypeFeatures             uint16 = 17
	TypePinMatrixRequest     uint16 = 18
	TypePinMatrixAck         uint16 = 19
	TypePassphraseRequest    uint16 = 41
	TypePassphraseAck        uint16 = 42
	TypeButtonRequest        uint16 = 26
	TypeButtonAck            uint16 = 27
	TypeFailure              uint16 = 3
	TypeCancel               uint16 = 4
	TypeEntropyRequest       uint16 = 35
	TypeEntropyAck           uint16 = 36
	TypeWordRequest          uint16 = 46
	TypeWordAck              uint16 = 47
	TypeGetFeatures          uint16 = 55
	TypeInitialize           uint16 = 0
	TypeWipeDevice           uint16 = 5
	TypeFirmwareErase        uint16 = 6
	TypeFirmwareUpload       uint16 = 7
	TypeSuccess              uint16 = 2

	// Supplemented beyond the original vendor schema to round out the
	// command surface (see SPEC_FULL.md): address derivation, transaction
	// signing, label changes, and policy toggles.
	TypeGetAddress     uint16 = 29
	TypeAddress        uint16 = 30
	TypeSignTx         uint16 = 38
	TypeTxSigned       uint16 = 39
	TypeSetLabel       uint16 = 33
	TypeApplyPolicy    uint16 = 104
	TypePolicyAck      uint16 = 105
	TypeChangePin      uint16 = 4000
	TypeRecoveryDevice uint16 = 4001
	TypeVerifySeed     uint16 = 4002
)

// Message is the common interface implemented by every typed message the
// codec knows. TypeCode identifies the schema used by EncodePayload/DecodePayload.
type Message interface {
	TypeCode() uint16
}

// Unknown is the fallback value for any type code outside the known
// schema; upper layers may treat it as a protocol error or log-and-ignore
// at their discretion, per spec section 4.1.
type Unknown struct {
	Code  uint16
	Bytes []byte
}

func (u *Unknown) TypeCode() uint16 { return u.Code }

// Features is the device's self-report, decoded from a Features message.
type Features struct {
	VendorID              uint32
	ProductID             uint32
	MajorVersion          uint32
	MinorVersion          uint32
	PatchVersion          uint32
	BootloaderVersion     string
	BootloaderHash        []byte
	Initialized           bool
	PinProtection         bool
	PassphraseProtection  bool
	BootloaderMode        bool
	Label                 string
	Policies              map[string]bool
}

func (*Features) TypeCode() uint16 { return TypeFeatures }

// PinMatrixRequest is emitted by the device whenever PIN entry is needed.
type PinMatrixRequest struct {
	// Type distinguishes Current/NewFirst/NewSecond PIN prompts.
	Type uint32
}

func (*PinMatrixRequest) TypeCode() uint16 { return TypePinMatrixRequest }

// PinMatrixAck carries the scrambled-matrix digit positions the operator
// entered. The Worker never sees the PIN itself, only these positions.
type PinMatrixAck struct {
	Positions string
}

func (*PinMatrixAck) TypeCode() uint16 { return TypePinMatrixAck }

type PassphraseRequest struct{}

func (*PassphraseRequest) TypeCode() uint16 { return TypePassphraseRequest }

type PassphraseAck struct {
	Passphrase string
}

func (*PassphraseAck) TypeCode() uint16 { return TypePassphraseAck }

// ButtonRequest asks the operator to physically confirm on the device.
type ButtonRequest struct {
	Kind uint32
}

func (*ButtonRequest) TypeCode() uint16 { return TypeButtonRequest }

type ButtonAck struct{}

func (*ButtonAck) TypeCode() uint16 { return TypeButtonAck }

// Failure is the device's typed error reply.
type Failure struct {
	Code    uint32
	Message string
}

func (*Failure) TypeCode() uint16 { return TypeFailure }

// Cancel aborts whatever flow is in progress on the device.
type Cancel struct{}

func (*Cancel) TypeCode() uint16 { return TypeCancel }

type EntropyRequest struct {
	Size uint32
}

func (*EntropyRequest) TypeCode() uint16 { return TypeEntropyRequest }

type EntropyAck struct {
	Entropy []byte
}

func (*EntropyAck) TypeCode() uint16 { return TypeEntropyAck }

// WordRequest/WordAck drive the Recovery Flow's word-by-word cipher
// exchange.
type WordRequest struct {
	Index uint32
}

func (*WordRequest) TypeCode() uint16 { return TypeWordRequest }

type WordAck struct {
	Word string
}

func (*WordAck) TypeCode() uint16 { return TypeWordAck }

type GetFeatures struct{}

func (*GetFeatures) TypeCode() uint16 { return TypeGetFeatures }

type Initialize struct {
	Strength             uint32
	PassphraseProtection bool
}

func (*Initialize) TypeCode() uint16 { return TypeInitialize }

type WipeDevice struct{}

func (*WipeDevice) TypeCode() uint16 { return TypeWipeDevice }

type FirmwareErase struct {
	Length uint32
}

func (*FirmwareErase) TypeCode() uint16 { return TypeFirmwareErase }

type FirmwareUpload struct {
	Payload  []byte
	HashSig  []byte
}

func (*FirmwareUpload) TypeCode() uint16 { return TypeFirmwareUpload }

// Success is a bare device acknowledgement carrying an optional message.
type Success struct {
	Message string
}

func (*Success) TypeCode() uint16 { return TypeSuccess }

// GetAddress requests a derived address for a BIP-32 path.
type GetAddress struct {
	Path        []uint32
	ShowDisplay bool
}

func (*GetAddress) TypeCode() uint16 { return TypeGetAddress }

// Address is the device's derived-address reply.
type Address struct {
	AddressStr string
}

func (*Address) TypeCode() uint16 { return TypeAddress }

// SignTx requests a transaction signature for a BIP-32 path.
type SignTx struct {
	Path        []uint32
	Transaction []byte
}

func (*SignTx) TypeCode() uint16 { return TypeSignTx }

// TxSigned carries the device's signature reply.
type TxSigned struct {
	Signature []byte
}

func (*TxSigned) TypeCode() uint16 { return TypeTxSigned }

// SetLabel renames the device.
type SetLabel struct {
	Label string
}

func (*SetLabel) TypeCode() uint16 { return TypeSetLabel }

// ApplyPolicy toggles a named device policy.
type ApplyPolicy struct {
	Name    string
	Enabled bool
}

func (*ApplyPolicy) TypeCode() uint16 { return TypeApplyPolicy }

// PolicyAck acknowledges an ApplyPolicy request.
type PolicyAck struct{}

func (*PolicyAck) TypeCode() uint16 { return TypePolicyAck }

// ChangePin begins the PIN-change exchange, driven to completion by
// PinMatrixFlow.
type ChangePin struct{}

func (*ChangePin) TypeCode() uint16 { return TypeChangePin }

// RecoveryDevice begins the word-by-word cipher recovery exchange, driven
// to completion by RecoveryFlow.
type RecoveryDevice struct {
	WordCount uint32
}

func (*RecoveryDevice) TypeCode() uint16 { return TypeRecoveryDevice }

// VerifySeedStart begins the read-only seed verification exchange, driven
// to completion by SeedVerifyFlow.
type VerifySeedStart struct{}

func (*VerifySeedStart) TypeCode() uint16 { return TypeVerifySeed }
