package catalog

import "voxelswarm.ai/internal/capability"

// FirstOwned returns the first item of priority that inv holds.
func FirstOwned(inv []capability.ItemStack, priority []string) (string, bool) {
	for _, item := range priority {
		if capability.Count(inv, item) > 0 {
			return item, true
		}
	}
	return "", false
}

// Food picks the preferred edible item in inv.
func (c *Catalog) Food(inv []capability.ItemStack) (string, bool) {
	return FirstOwned(inv, c.Foods)
}

// BestWeapon picks the highest-tier weapon in inv.
func (c *Catalog) BestWeapon(inv []capability.ItemStack) (string, bool) {
	return FirstOwned(inv, c.Weapons)
}

// BestArmor picks at most one armor piece per slot, in priority order.
func (c *Catalog) BestArmor(inv []capability.ItemStack) []ArmorPiece {
	taken := map[string]bool{}
	var out []ArmorPiece
	for _, a := range c.Armor {
		if taken[a.Slot] || capability.Count(inv, a.Item) == 0 {
			continue
		}
		taken[a.Slot] = true
		out = append(out, a)
	}
	return out
}

// BuildingBlock picks the preferred placeable block in inv.
func (c *Catalog) BuildingBlock(inv []capability.ItemStack) (string, bool) {
	return FirstOwned(inv, c.BuildingBlocks)
}

// MissingTools lists tool kinds for which inv holds no tier at all.
func (c *Catalog) MissingTools(inv []capability.ItemStack) []ToolKind {
	var out []ToolKind
	for _, tk := range c.Tools {
		have := false
		for _, t := range tk.Tiers {
			if capability.Count(inv, t.Item) > 0 {
				have = true
				break
			}
		}
		if !have {
			out = append(out, tk)
		}
	}
	return out
}
