package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelswarm.ai/internal/capability"
)

func TestDefaultCatalogCategories(t *testing.T) {
	c := Default()
	require.NotEmpty(t, c.Digest)

	assert.True(t, c.Is("BREAD", CategoryFood))
	assert.True(t, c.Is("IRON_SWORD", CategoryWeapon))
	assert.True(t, c.Is("IRON_SWORD", CategoryTool), "swords are both weapons and a required tool kind")
	assert.True(t, c.Is("LOG", CategoryRaw))
	assert.False(t, c.Is("LOG", CategoryFood))
	assert.True(t, c.IsAir("AIR"))
	assert.True(t, c.IsTargetKind("PLAYER"))
	assert.False(t, c.IsTargetKind("ITEM"))
	assert.Equal(t, []string{"shelter", "wall"}, c.StructureNames())
}

func TestInventorySelection(t *testing.T) {
	c := Default()
	inv := []capability.ItemStack{
		{Item: "BERRIES", Count: 4},
		{Item: "STONE_SWORD", Count: 1},
		{Item: "IRON_SWORD", Count: 1},
		{Item: "IRON_HELMET", Count: 1},
		{Item: "DIAMOND_HELMET", Count: 1},
		{Item: "IRON_BOOTS", Count: 1},
		{Item: "WOODEN_PICKAXE", Count: 1},
		{Item: "DIRT", Count: 12},
	}

	food, ok := c.Food(inv)
	require.True(t, ok)
	assert.Equal(t, "BERRIES", food)

	w, ok := c.BestWeapon(inv)
	require.True(t, ok)
	assert.Equal(t, "IRON_SWORD", w)

	assert.Equal(t, []ArmorPiece{
		{Item: "DIAMOND_HELMET", Slot: "head"},
		{Item: "IRON_BOOTS", Slot: "feet"},
	}, c.BestArmor(inv))

	b, ok := c.BuildingBlock(inv)
	require.True(t, ok)
	assert.Equal(t, "DIRT", b)

	missing := c.MissingTools(inv)
	require.Len(t, missing, 1)
	assert.Equal(t, "axe", missing[0].Category)

	_, ok = c.Food(nil)
	assert.False(t, ok)
}

func TestStructureLayers(t *testing.T) {
	shelter := Structure{Kind: StructureShelter, Width: 4, Depth: 3, Height: 2, Roof: true}
	layers := shelter.Layers(capability.Vec3{X: 10.6, Y: 0, Z: -2.2})
	require.Len(t, layers, 3)
	// perimeter of a 4x3 box is 10 cells, roof covers 12.
	assert.Len(t, layers[0], 10)
	assert.Len(t, layers[1], 10)
	assert.Len(t, layers[2], 12)
	assert.Contains(t, layers[0], capability.Vec3{X: 10, Y: 0, Z: -3})
	assert.NotContains(t, layers[0], capability.Vec3{X: 11, Y: 0, Z: -2}, "interior stays hollow")
	for _, p := range layers[1] {
		assert.Equal(t, 1.0, p.Y)
	}
	assert.Equal(t, 32, shelter.BlockCount())

	wall := Structure{Kind: StructureWall, Length: 5, Height: 2}
	wl := wall.Layers(capability.Vec3{})
	require.Len(t, wl, 2)
	assert.Len(t, wl[0], 5)
	assert.Equal(t, capability.Vec3{X: 4, Y: 1}, wl[1][4])
}

func TestParseRejectsBadTemplates(t *testing.T) {
	_, err := Parse([]byte("food: [BREAD]\nstructures:\n  hut: {kind: dome, height: 2}\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("food: []\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("food: [BREAD]\ntools:\n  - category: axe\n    tiers: [{tier: WOOD}]\n"))
	assert.Error(t, err)
}

func TestLoadOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("food: [MUSHROOM_STEW]\nstructures:\n  post: {kind: wall, length: 1, height: 3}\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.True(t, c.Is("MUSHROOM_STEW", CategoryFood))
	assert.True(t, c.IsAir("AIR"), "air defaults when omitted")
	assert.Equal(t, 3, c.Structures["post"].BlockCount())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
