package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint16, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	in = append(in, 9, 10, 10, 10)

	out, err := DecodeRLE(EncodeRLE(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeRLE_RejectsGarbage(t *testing.T) {
	_, err := DecodeRLE("!!not-base64!!")
	assert.Error(t, err)
}

func TestVoxelGrid_AtUsesAbsolutePositions(t *testing.T) {
	g := NewVoxelGrid([3]int{10, 0, -4}, 2, 0)
	require.True(t, g.Set([3]int{11, 0, -5}, 3))
	require.False(t, g.Set([3]int{13, 0, -4}, 3), "outside the cube")

	dec, err := DecodeVoxels(EncodeVoxels(g))
	require.NoError(t, err)

	id, ok := dec.At([3]int{11, 0, -5})
	require.True(t, ok)
	assert.Equal(t, uint16(3), id)

	seen := 0
	dec.Each(func(pos [3]int, id uint16) {
		if id == 3 {
			seen++
			assert.Equal(t, [3]int{11, 0, -5}, pos)
		}
	})
	assert.Equal(t, 1, seen)
}

func TestDecodeVoxels_SizeMismatch(t *testing.T) {
	_, err := DecodeVoxels(VoxelsObs{Radius: 1, Encoding: "RLE", Data: EncodeRLE([]uint16{1, 2})})
	assert.Error(t, err)

	_, err = DecodeVoxels(VoxelsObs{Radius: 1, Encoding: "DELTA"})
	assert.Error(t, err)
}
