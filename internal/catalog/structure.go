package catalog

import (
	"fmt"

	"voxelswarm.ai/internal/capability"
)

const (
	StructureShelter = "shelter"
	StructureWall    = "wall"
)

// Structure is a build template. A shelter is a hollow walled box with an
// optional roof; a wall is a straight barrier along +X.
type Structure struct {
	Kind   string `yaml:"kind"`
	Width  int    `yaml:"width,omitempty"`
	Depth  int    `yaml:"depth,omitempty"`
	Length int    `yaml:"length,omitempty"`
	Height int    `yaml:"height"`
	Roof   bool   `yaml:"roof,omitempty"`
}

func (s Structure) validate() error {
	if s.Height <= 0 {
		return fmt.Errorf("height must be positive")
	}
	switch s.Kind {
	case StructureShelter:
		if s.Width < 3 || s.Depth < 3 {
			return fmt.Errorf("shelter needs width and depth >= 3")
		}
	case StructureWall:
		if s.Length <= 0 {
			return fmt.Errorf("wall needs positive length")
		}
	default:
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	return nil
}

// Layers returns the block positions to fill, bottom layer first, for a
// structure whose minimum corner sits at anchor.
func (s Structure) Layers(anchor capability.Vec3) [][]capability.Vec3 {
	anchor = anchor.Floor()
	var layers [][]capability.Vec3
	switch s.Kind {
	case StructureShelter:
		for y := 0; y < s.Height; y++ {
			var layer []capability.Vec3
			for x := 0; x < s.Width; x++ {
				for z := 0; z < s.Depth; z++ {
					if x != 0 && z != 0 && x != s.Width-1 && z != s.Depth-1 {
						continue
					}
					layer = append(layer, anchor.Add(capability.Vec3{X: float64(x), Y: float64(y), Z: float64(z)}))
				}
			}
			layers = append(layers, layer)
		}
		if s.Roof {
			var roof []capability.Vec3
			for x := 0; x < s.Width; x++ {
				for z := 0; z < s.Depth; z++ {
					roof = append(roof, anchor.Add(capability.Vec3{X: float64(x), Y: float64(s.Height), Z: float64(z)}))
				}
			}
			layers = append(layers, roof)
		}
	case StructureWall:
		for y := 0; y < s.Height; y++ {
			layer := make([]capability.Vec3, 0, s.Length)
			for x := 0; x < s.Length; x++ {
				layer = append(layer, anchor.Add(capability.Vec3{X: float64(x), Y: float64(y)}))
			}
			layers = append(layers, layer)
		}
	}
	return layers
}

// BlockCount is the total number of placements the template asks for.
func (s Structure) BlockCount() int {
	n := 0
	for _, l := range s.Layers(capability.Vec3{}) {
		n += len(l)
	}
	return n
}
