package wire

import (
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// EncodePayload serializes a Message's fields as protobuf-wire-compatible
// tag-length-value pairs. Total and infallible for every known message
// type; unknown messages round-trip their captured bytes verbatim.
func EncodePayload(m Message) []byte {
	switch v := m.(type) {
	case *Unknown:
		return append([]byte(nil), v.Bytes...)

	case *Features:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.VendorID))
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.ProductID))
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.MajorVersion))
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.MinorVersion))
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.PatchVersion))
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendString(b, v.BootloaderVersion)
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, v.BootloaderHash)
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(v.Initialized))
		b = protowire.AppendTag(b, 9, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(v.PinProtection))
		b = protowire.AppendTag(b, 10, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(v.PassphraseProtection))
		b = protowire.AppendTag(b, 11, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(v.BootloaderMode))
		b = protowire.AppendTag(b, 12, protowire.BytesType)
		b = protowire.AppendString(b, v.Label)
		for _, name := range sortedPolicyNames(v.Policies) {
			b = protowire.AppendTag(b, 13, protowire.BytesType)
			entry := protowire.AppendTag(nil, 1, protowire.BytesType)
			entry = protowire.AppendString(entry, name)
			entry = protowire.AppendTag(entry, 2, protowire.VarintType)
			entry = protowire.AppendVarint(entry, boolVarint(v.Policies[name]))
			b = protowire.AppendBytes(b, entry)
		}
		return b

	case *PinMatrixRequest:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Type))
		return b

	case *PinMatrixAck:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, v.Positions)
		return b

	case *PassphraseRequest:
		return nil

	case *PassphraseAck:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, v.Passphrase)
		return b

	case *ButtonRequest:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Kind))
		return b

	case *ButtonAck:
		return nil

	case *Failure:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Code))
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, v.Message)
		return b

	case *Cancel:
		return nil

	case *EntropyRequest:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Size))
		return b

	case *EntropyAck:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Entropy)
		return b

	case *WordRequest:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Index))
		return b

	case *WordAck:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, v.Word)
		return b

	case *GetFeatures:
		return nil

	case *Initialize:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Strength))
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(v.PassphraseProtection))
		return b

	case *WipeDevice:
		return nil

	case *FirmwareErase:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Length))
		return b

	case *FirmwareUpload:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Payload)
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, v.HashSig)
		return b

	case *Success:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, v.Message)
		return b

	case *GetAddress:
		var b []byte
		for _, p := range v.Path {
			b = protowire.AppendTag(b, 1, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(p))
		}
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(v.ShowDisplay))
		return b

	case *Address:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, v.AddressStr)
		return b

	case *SignTx:
		var b []byte
		for _, p := range v.Path {
			b = protowire.AppendTag(b, 1, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(p))
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Transaction)
		return b

	case *TxSigned:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Signature)
		return b

	case *SetLabel:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, v.Label)
		return b

	case *ApplyPolicy:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, v.Name)
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(v.Enabled))
		return b

	case *PolicyAck:
		return nil

	case *ChangePin:
		return nil

	case *RecoveryDevice:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.WordCount))
		return b

	case *VerifySeedStart:
		return nil

	default:
		return nil
	}
}

func boolVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func sortedPolicyNames(policies map[string]bool) []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodePayload parses a TLV payload into its typed Message, given the
// frame's type code. Unknown type codes decode to Unknown rather than
// erroring, per spec section 4.1. Malformed field data on a known type
// code is reported as CodecError{UnknownField}.
func DecodePayload(typeCode uint16, payload []byte) (Message, error) {
	switch typeCode {
	case TypeFeatures:
		f := &Features{Policies: map[string]bool{}}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			switch num {
			case 1:
				f.VendorID = uint32(scalar)
			case 2:
				f.ProductID = uint32(scalar)
			case 3:
				f.MajorVersion = uint32(scalar)
			case 4:
				f.MinorVersion = uint32(scalar)
			case 5:
				f.PatchVersion = uint32(scalar)
			case 6:
				f.BootloaderVersion = string(v)
			case 7:
				f.BootloaderHash = append([]byte(nil), v...)
			case 8:
				f.Initialized = scalar != 0
			case 9:
				f.PinProtection = scalar != 0
			case 10:
				f.PassphraseProtection = scalar != 0
			case 11:
				f.BootloaderMode = scalar != 0
			case 12:
				f.Label = string(v)
			case 13:
				name, enabled, err := decodePolicyEntry(v)
				if err != nil {
					return err
				}
				f.Policies[name] = enabled
			}
			return nil
		})
		return f, err

	case TypePinMatrixRequest:
		m := &PinMatrixRequest{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.Type = uint32(scalar)
			}
			return nil
		})
		return m, err

	case TypePinMatrixAck:
		m := &PinMatrixAck{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.Positions = string(v)
			}
			return nil
		})
		return m, err

	case TypePassphraseRequest:
		return &PassphraseRequest{}, nil

	case TypePassphraseAck:
		m := &PassphraseAck{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.Passphrase = string(v)
			}
			return nil
		})
		return m, err

	case TypeButtonRequest:
		m := &ButtonRequest{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.Kind = uint32(scalar)
			}
			return nil
		})
		return m, err

	case TypeButtonAck:
		return &ButtonAck{}, nil

	case TypeFailure:
		m := &Failure{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			switch num {
			case 1:
				m.Code = uint32(scalar)
			case 2:
				m.Message = string(v)
			}
			return nil
		})
		return m, err

	case TypeCancel:
		return &Cancel{}, nil

	case TypeEntropyRequest:
		m := &EntropyRequest{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.Size = uint32(scalar)
			}
			return nil
		})
		return m, err

	case TypeEntropyAck:
		m := &EntropyAck{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.Entropy = append([]byte(nil), v...)
			}
			return nil
		})
		return m, err

	case TypeWordRequest:
		m := &WordRequest{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.Index = uint32(scalar)
			}
			return nil
		})
		return m, err

	case TypeWordAck:
		m := &WordAck{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.Word = string(v)
			}
			return nil
		})
		return m, err

	case TypeGetFeatures:
		return &GetFeatures{}, nil

	case TypeInitialize:
		m := &Initialize{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			switch num {
			case 1:
				m.Strength = uint32(scalar)
			case 2:
				m.PassphraseProtection = scalar != 0
			}
			return nil
		})
		return m, err

	case TypeWipeDevice:
		return &WipeDevice{}, nil

	case TypeFirmwareErase:
		m := &FirmwareErase{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.Length = uint32(scalar)
			}
			return nil
		})
		return m, err

	case TypeFirmwareUpload:
		m := &FirmwareUpload{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			switch num {
			case 1:
				m.Payload = append([]byte(nil), v...)
			case 2:
				m.HashSig = append([]byte(nil), v...)
			}
			return nil
		})
		return m, err

	case TypeSuccess:
		m := &Success{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.Message = string(v)
			}
			return nil
		})
		return m, err

	case TypeGetAddress:
		m := &GetAddress{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			switch num {
			case 1:
				m.Path = append(m.Path, uint32(scalar))
			case 2:
				m.ShowDisplay = scalar != 0
			}
			return nil
		})
		return m, err

	case TypeAddress:
		m := &Address{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.AddressStr = string(v)
			}
			return nil
		})
		return m, err

	case TypeSignTx:
		m := &SignTx{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			switch num {
			case 1:
				m.Path = append(m.Path, uint32(scalar))
			case 2:
				m.Transaction = append([]byte(nil), v...)
			}
			return nil
		})
		return m, err

	case TypeTxSigned:
		m := &TxSigned{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.Signature = append([]byte(nil), v...)
			}
			return nil
		})
		return m, err

	case TypeSetLabel:
		m := &SetLabel{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.Label = string(v)
			}
			return nil
		})
		return m, err

	case TypeApplyPolicy:
		m := &ApplyPolicy{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			switch num {
			case 1:
				m.Name = string(v)
			case 2:
				m.Enabled = scalar != 0
			}
			return nil
		})
		return m, err

	case TypePolicyAck:
		return &PolicyAck{}, nil

	case TypeChangePin:
		return &ChangePin{}, nil

	case TypeRecoveryDevice:
		m := &RecoveryDevice{}
		err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
			if num == 1 {
				m.WordCount = uint32(scalar)
			}
			return nil
		})
		return m, err

	case TypeVerifySeed:
		return &VerifySeedStart{}, nil

	default:
		return &Unknown{Code: typeCode, Bytes: append([]byte(nil), payload...)}, nil
	}
}

func decodePolicyEntry(entry []byte) (string, bool, error) {
	var name string
	var enabled bool
	err := walkFields(entry, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
		switch num {
		case 1:
			name = string(v)
		case 2:
			enabled = scalar != 0
		}
		return nil
	})
	return name, enabled, err
}

// walkFields iterates every TLV field in payload, calling fn with the raw
// bytes for length-delimited fields and the scalar value for varint
// fields. It reports CodecError{UnknownField} on a field whose wire type
// does not parse, matching the C1 contract that decode never panics.
func walkFields(payload []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error) error {
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return newCodecError(UnknownField, "bad tag: %v", protowire.ParseError(n))
		}
		payload = payload[n:]

		switch typ {
		case protowire.VarintType:
			val, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return newCodecError(UnknownField, "bad varint for field %d: %v", num, protowire.ParseError(n))
			}
			payload = payload[n:]
			if err := fn(num, typ, nil, val); err != nil {
				return err
			}
		case protowire.BytesType:
			val, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return newCodecError(UnknownField, "bad bytes for field %d: %v", num, protowire.ParseError(n))
			}
			payload = payload[n:]
			if err := fn(num, typ, val, 0); err != nil {
				return err
			}
		case protowire.Fixed32Type:
			val, n := protowire.ConsumeFixed32(payload)
			if n < 0 {
				return newCodecError(UnknownField, "bad fixed32 for field %d: %v", num, protowire.ParseError(n))
			}
			payload = payload[n:]
			if err := fn(num, typ, nil, uint64(val)); err != nil {
				return err
			}
		case protowire.Fixed64Type:
			val, n := protowire.ConsumeFixed64(payload)
			if n < 0 {
				return newCodecError(UnknownField, "bad fixed64 for field %d: %v", num, protowire.ParseError(n))
			}
			payload = payload[n:]
			if err := fn(num, typ, nil, val); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, payload)
			if n < 0 {
				return newCodecError(UnknownField, "unsupported wire type %d for field %d", typ, num)
			}
			payload = payload[n:]
		}
	}
	return nil
}
