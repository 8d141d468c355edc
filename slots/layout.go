package slots

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// FieldSpec maps one struct field onto a word of the element.
type FieldSpec struct {
	Word uint64
	Kind FieldKind
	Bits uint
}

// StructLayout describes a fixed-size struct stored in a dynamic array.
// Each field occupies a whole word; packed fields are not supported.
type StructLayout struct {
	Stride    uint64
	Owner     FieldSpec
	StartTime FieldSpec
	Amount    FieldSpec
}

// LockInfoLayout is the layout of
//
//	struct LockInfo { address user; uint64 startTime; uint256 amount; }
//
// compiled without packing, one field per slot.
var LockInfoLayout = StructLayout{
	Stride:    3,
	Owner:     FieldSpec{Word: 0, Kind: FieldAddress},
	StartTime: FieldSpec{Word: 1, Kind: FieldUint, Bits: 64},
	Amount:    FieldSpec{Word: 2, Kind: FieldUint, Bits: 256},
}

func (l StructLayout) Validate() error {
	if l.Stride == 0 {
		return fmt.Errorf("struct stride must be > 0")
	}

	fields := []struct {
		name string
		spec FieldSpec
		kind FieldKind
	}{
		{"owner", l.Owner, FieldAddress},
		{"startTime", l.StartTime, FieldUint},
		{"amount", l.Amount, FieldUint},
	}
	for _, f := range fields {
		if f.spec.Word >= l.Stride {
			return fmt.Errorf("field %v at word %v is outside the struct stride %v", f.name, f.spec.Word, l.Stride)
		}
		if f.spec.Kind != f.kind {
			return fmt.Errorf("field %v must be decoded as %v, got %v", f.name, f.kind, f.spec.Kind)
		}
		if f.kind == FieldUint && (f.spec.Bits > 256 || f.spec.Bits%8 != 0) {
			return fmt.Errorf("field %v has invalid width %v", f.name, f.spec.Bits)
		}
	}
	if l.Owner.Word == l.StartTime.Word || l.Owner.Word == l.Amount.Word || l.StartTime.Word == l.Amount.Word {
		return fmt.Errorf("fields must use distinct words, got owner=%v startTime=%v amount=%v", l.Owner.Word, l.StartTime.Word, l.Amount.Word)
	}
	if l.StartTime.Bits == 0 || l.StartTime.Bits > 64 {
		return fmt.Errorf("field startTime must be 8 to 64 bits wide")
	}

	return nil
}

func (l StructLayout) words() []uint64 {
	return []uint64{l.Owner.Word, l.StartTime.Word, l.Amount.Word}
}

// SlotHash encodes a slot number as the 32-byte key expected by eth_getStorageAt.
func SlotHash(slot *uint256.Int) common.Hash {
	return common.Hash(slot.Bytes32())
}

// DataStartSlot returns the first slot of a dynamic array's backing storage:
// keccak256(pad32(baseSlot)).
func DataStartSlot(baseSlot *uint256.Int) *uint256.Int {
	padded := baseSlot.Bytes32()
	return new(uint256.Int).SetBytes32(crypto.Keccak256(padded[:]))
}

// ElementSlot returns the slot of word `word` of element `index`. Arithmetic wraps
// modulo 2^256 like the EVM does.
func ElementSlot(dataStart *uint256.Int, stride, index, word uint64) *uint256.Int {
	slot := new(uint256.Int).Mul(uint256.NewInt(index), uint256.NewInt(stride))
	slot.Add(slot, dataStart)
	return slot.Add(slot, uint256.NewInt(word))
}

// ParseSlot parses a decimal or 0x-prefixed hex slot number.
func ParseSlot(value string) (*uint256.Int, error) {
	base := 10
	digits := value
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		base = 16
		digits = value[2:]
	}

	number, ok := new(big.Int).SetString(digits, base)
	if !ok || number.Sign() < 0 {
		return nil, fmt.Errorf("invalid slot number: %q", value)
	}
	slot, overflow := uint256.FromBig(number)
	if overflow {
		return nil, fmt.Errorf("slot number exceeds 256 bits: %q", value)
	}
	return slot, nil
}
