package txutils

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

const CovenantPsbtFieldKeyType = 222

var (
	// CovenantFieldWitness carries the unlock arguments of a covenant input,
	// with an empty element where the owner signature goes
	CovenantFieldWitness = []byte("cat_witness")
	// CovenantFieldSigSlot is the index of the signature placeholder in the witness
	CovenantFieldSigSlot = []byte("cat_sigslot")
)

var WitnessTemplateField CovenantPsbtFieldCoder[wire.TxWitness] = covenantFieldCoderWitness{}
var SigSlotField CovenantPsbtFieldCoder[uint32] = covenantFieldCoderSigSlot{}

type CovenantPsbtFieldCoder[T any] interface {
	Encode(T) (*psbt.Unknown, error)
	Decode(*psbt.Unknown) (*T, error) // nil means not found
}

// SetCovenantPsbtField sets a covenant psbt field on the given psbt at the given input index,
// replacing any previous value of the same field
func SetCovenantPsbtField[T any](
	ptx *psbt.Packet, inputIndex int, coder CovenantPsbtFieldCoder[T], value T,
) error {
	if len(ptx.Inputs) <= inputIndex {
		return fmt.Errorf("input index out of bounds %d, len(inputs)=%d", inputIndex, len(ptx.Inputs))
	}

	field, err := coder.Encode(value)
	if err != nil {
		return err
	}

	unknowns := make([]*psbt.Unknown, 0, len(ptx.Inputs[inputIndex].Unknowns)+1)
	for _, u := range ptx.Inputs[inputIndex].Unknowns {
		if bytes.Equal(u.Key, field.Key) {
			continue
		}
		unknowns = append(unknowns, u)
	}
	ptx.Inputs[inputIndex].Unknowns = append(unknowns, field)
	return nil
}

// GetCovenantPsbtField returns the field of the given type at the given input index, if any
func GetCovenantPsbtField[T any](
	ptx *psbt.Packet, inputIndex int, coder CovenantPsbtFieldCoder[T],
) (*T, error) {
	if len(ptx.Inputs) <= inputIndex {
		return nil, fmt.Errorf("input index out of bounds %d, len(inputs)=%d", inputIndex, len(ptx.Inputs))
	}

	for _, unknown := range ptx.Inputs[inputIndex].Unknowns {
		value, err := coder.Decode(unknown)
		if err != nil {
			return nil, err
		}
		if value != nil {
			return value, nil
		}
	}
	return nil, nil
}

func IsCovenantInput(ptx *psbt.Packet, inputIndex int) bool {
	witness, err := GetCovenantPsbtField(ptx, inputIndex, WitnessTemplateField)
	return err == nil && witness != nil
}

type covenantFieldCoderWitness struct{}

func (c covenantFieldCoderWitness) Encode(witness wire.TxWitness) (*psbt.Unknown, error) {
	var witnessBytes bytes.Buffer

	if err := psbt.WriteTxWitness(&witnessBytes, witness); err != nil {
		return nil, err
	}

	return &psbt.Unknown{
		Key:   makeCovenantPsbtKey(CovenantFieldWitness),
		Value: witnessBytes.Bytes(),
	}, nil
}

func (c covenantFieldCoderWitness) Decode(unknown *psbt.Unknown) (*wire.TxWitness, error) {
	if !isCovenantPsbtKey(unknown, CovenantFieldWitness) {
		return nil, nil
	}

	witness, err := ReadTxWitness(unknown.Value)
	if err != nil {
		return nil, err
	}
	return &witness, nil
}

type covenantFieldCoderSigSlot struct{}

func (c covenantFieldCoderSigSlot) Encode(slot uint32) (*psbt.Unknown, error) {
	value := make([]byte, 4)
	binary.LittleEndian.PutUint32(value, slot)
	return &psbt.Unknown{
		Key:   makeCovenantPsbtKey(CovenantFieldSigSlot),
		Value: value,
	}, nil
}

func (c covenantFieldCoderSigSlot) Decode(unknown *psbt.Unknown) (*uint32, error) {
	if !isCovenantPsbtKey(unknown, CovenantFieldSigSlot) {
		return nil, nil
	}
	if len(unknown.Value) != 4 {
		return nil, fmt.Errorf("invalid sig slot field length: %d", len(unknown.Value))
	}
	slot := binary.LittleEndian.Uint32(unknown.Value)
	return &slot, nil
}

func makeCovenantPsbtKey(keyData []byte) []byte {
	return append([]byte{CovenantPsbtFieldKeyType}, keyData...)
}

func isCovenantPsbtKey(unknown *psbt.Unknown, keyFieldName []byte) bool {
	if len(unknown.Key) == 0 || unknown.Key[0] != CovenantPsbtFieldKeyType {
		return false
	}
	return bytes.Equal(unknown.Key[1:], keyFieldName)
}
