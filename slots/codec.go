package slots

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrDecodeFailure    = errors.New("storage word decode failure")
	ErrStorageRead      = errors.New("storage read failure")
	ErrElementDecodeGap = errors.New("struct element has missing storage words")
	ErrArrayTooLarge    = errors.New("storage array length exceeds limit")
)

// FieldKind describes how a single 32-byte storage word is interpreted.
type FieldKind uint8

const (
	FieldAddress FieldKind = iota + 1
	FieldUint
)

func (k FieldKind) String() string {
	switch k {
	case FieldAddress:
		return "address"
	case FieldUint:
		return "uint"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// StorageWord is the value of one storage slot as returned by the node.
// A word is absent when the node returned no bytes for the slot.
type StorageWord struct {
	Value   common.Hash
	Present bool
}

// WordFromBytes converts a raw eth_getStorageAt result into a StorageWord.
// Results shorter than 32 bytes are left padded, empty results are absent.
func WordFromBytes(raw []byte) StorageWord {
	if len(raw) == 0 {
		return StorageWord{}
	}
	return StorageWord{
		Value:   common.BytesToHash(raw),
		Present: true,
	}
}

func (w StorageWord) IsAbsent() bool {
	return !w.Present
}

// Value is a decoded storage word. Only the member matching the decoded kind is set.
type Value struct {
	Kind    FieldKind
	Address common.Address
	Uint    *uint256.Int
}

// Decode interprets word according to field. Absent words fail with ErrDecodeFailure,
// callers that tolerate absence check IsAbsent first.
func Decode(word StorageWord, field FieldSpec) (Value, error) {
	if word.IsAbsent() {
		return Value{}, fmt.Errorf("%w: %v word is absent", ErrDecodeFailure, field.Kind)
	}

	switch field.Kind {
	case FieldAddress:
		return Value{
			Kind:    FieldAddress,
			Address: common.BytesToAddress(word.Value[common.HashLength-common.AddressLength:]),
		}, nil
	case FieldUint:
		bits := field.Bits
		if bits == 0 {
			bits = 256
		}
		if bits > 256 || bits%8 != 0 {
			return Value{}, fmt.Errorf("%w: invalid uint width %d", ErrDecodeFailure, bits)
		}

		value := new(uint256.Int).SetBytes32(word.Value[:])
		if bits < 256 {
			mask := new(uint256.Int).Lsh(uint256.NewInt(1), bits)
			mask.SubUint64(mask, 1)
			value.And(value, mask)
		}

		return Value{
			Kind: FieldUint,
			Uint: value,
		}, nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported field kind %v", ErrDecodeFailure, field.Kind)
	}
}
