package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeRLE encodes a sequence of palette ids into base64(varint pairs).
// The pairs are (block_id, run_len) repeated.
func EncodeRLE(ids []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(ids) {
		b := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == b && run < 1<<31; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(b))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeRLE(b64 string) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint16
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFFFF {
			return nil, fmt.Errorf("block id too large: %d", b)
		}
		for k := 0; k < int(run); k++ {
			out = append(out, uint16(b))
		}
	}
	return out, nil
}

// VoxelGrid is a decoded OBS voxel cube. Cells are stored in scan order
// (dy outer, dz middle, dx inner) relative to Center.
type VoxelGrid struct {
	Center [3]int
	Radius int
	Cells  []uint16
}

// DecodeVoxels expands an RLE voxel observation.
func DecodeVoxels(v VoxelsObs) (VoxelGrid, error) {
	if v.Encoding != "RLE" {
		return VoxelGrid{}, fmt.Errorf("unsupported voxel encoding %q", v.Encoding)
	}
	if v.Radius < 0 {
		return VoxelGrid{}, fmt.Errorf("negative voxel radius %d", v.Radius)
	}
	cells, err := DecodeRLE(v.Data)
	if err != nil {
		return VoxelGrid{}, fmt.Errorf("decode voxels: %w", err)
	}
	dim := 2*v.Radius + 1
	if want := dim * dim * dim; len(cells) != want {
		return VoxelGrid{}, fmt.Errorf("voxel count %d, want %d", len(cells), want)
	}
	return VoxelGrid{Center: v.Center, Radius: v.Radius, Cells: cells}, nil
}

// EncodeVoxels is the inverse of DecodeVoxels.
func EncodeVoxels(g VoxelGrid) VoxelsObs {
	return VoxelsObs{Center: g.Center, Radius: g.Radius, Encoding: "RLE", Data: EncodeRLE(g.Cells)}
}

func (g VoxelGrid) index(pos [3]int) (int, bool) {
	r := g.Radius
	dx, dy, dz := pos[0]-g.Center[0], pos[1]-g.Center[1], pos[2]-g.Center[2]
	if dx < -r || dx > r || dy < -r || dy > r || dz < -r || dz > r {
		return 0, false
	}
	dim := 2*r + 1
	return ((dy+r)*dim+(dz+r))*dim + (dx + r), true
}

// At returns the palette id at an absolute position, if it lies inside the cube.
func (g VoxelGrid) At(pos [3]int) (uint16, bool) {
	i, ok := g.index(pos)
	if !ok || i >= len(g.Cells) {
		return 0, false
	}
	return g.Cells[i], true
}

// Set writes a palette id at an absolute position inside the cube.
func (g VoxelGrid) Set(pos [3]int, id uint16) bool {
	i, ok := g.index(pos)
	if !ok || i >= len(g.Cells) {
		return false
	}
	g.Cells[i] = id
	return true
}

// Each visits every cell with its absolute position.
func (g VoxelGrid) Each(fn func(pos [3]int, id uint16)) {
	r := g.Radius
	i := 0
	for dy := -r; dy <= r; dy++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				if i >= len(g.Cells) {
					return
				}
				fn([3]int{g.Center[0] + dx, g.Center[1] + dy, g.Center[2] + dz}, g.Cells[i])
				i++
			}
		}
	}
}

// NewVoxelGrid allocates a cube filled with fill.
func NewVoxelGrid(center [3]int, radius int, fill uint16) VoxelGrid {
	dim := 2*radius + 1
	cells := make([]uint16, dim*dim*dim)
	if fill != 0 {
		for i := range cells {
			cells[i] = fill
		}
	}
	return VoxelGrid{Center: center, Radius: radius, Cells: cells}
}
