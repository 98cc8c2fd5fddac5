package graph

import (
	"encoding/binary"
	"math"
)

// NoImage is the constant-block value of an absent input or output.
const NoImage int32 = -1

// ConstantsSize is the size in bytes of the per-pass constant block.
const ConstantsSize = 12

// Constants is the block pushed before every dispatch. Shaders declare it as
//
//	struct Constants { time: f32, in_image: i32, out_image: i32 }
type Constants struct {
	Time   float32
	Input  int32
	Output int32
}

func (c Constants) Bytes() []byte {
	b := make([]byte, ConstantsSize)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(c.Time))
	binary.LittleEndian.PutUint32(b[4:], uint32(c.Input))
	binary.LittleEndian.PutUint32(b[8:], uint32(c.Output))
	return b
}

// DecodeConstants is the inverse of Constants.Bytes.
func DecodeConstants(b []byte) (Constants, bool) {
	if len(b) != ConstantsSize {
		return Constants{}, false
	}
	return Constants{
		Time:   math.Float32frombits(binary.LittleEndian.Uint32(b[0:])),
		Input:  int32(binary.LittleEndian.Uint32(b[4:])),
		Output: int32(binary.LittleEndian.Uint32(b[8:])),
	}, true
}

func firstOr(ids []int) int32 {
	if len(ids) == 0 {
		return NoImage
	}
	return int32(ids[0])
}
