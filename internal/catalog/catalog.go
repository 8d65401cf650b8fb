package catalog

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type Category string

const (
	CategoryFood          Category = "food"
	CategoryWeapon        Category = "weapon"
	CategoryArmor         Category = "armor"
	CategoryTool          Category = "tool"
	CategoryBuildingBlock Category = "building_block"
	CategoryRaw           Category = "raw"
)

type ArmorPiece struct {
	Item string `yaml:"item"`
	Slot string `yaml:"slot"`
}

type ToolTier struct {
	Tier   string `yaml:"tier"`
	Item   string `yaml:"item"`
	Recipe string `yaml:"recipe"`
}

// ToolKind is one required tool category with its tiers, best first.
type ToolKind struct {
	Category string     `yaml:"category"`
	Tiers    []ToolTier `yaml:"tiers"`
}

// Refinement converts a raw material into a refined form.
type Refinement struct {
	Input  string `yaml:"input"`
	Count  int    `yaml:"count"`
	Recipe string `yaml:"recipe"`
	Output string `yaml:"output"`
}

type Catalog struct {
	Foods          []string             `yaml:"food"`
	Weapons        []string             `yaml:"weapons"`
	Armor          []ArmorPiece         `yaml:"armor"`
	Tools          []ToolKind           `yaml:"tools"`
	Harvestable    []string             `yaml:"harvestable"`
	Refinements    []Refinement         `yaml:"refinements"`
	BuildingBlocks []string             `yaml:"building_blocks"`
	AirBlocks      []string             `yaml:"air_blocks"`
	Structures     map[string]Structure `yaml:"structures"`
	TargetKinds    []string             `yaml:"target_kinds"`

	Digest string `yaml:"-"`

	categories map[string][]Category
	air        map[string]struct{}
	targets    map[string]struct{}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog override file. An empty path yields the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.index()
	c.Digest = sha256Hex(raw)
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Foods) == 0 {
		return fmt.Errorf("catalog: food list is empty")
	}
	for _, tk := range c.Tools {
		if tk.Category == "" {
			return fmt.Errorf("catalog: tool kind without category")
		}
		if len(tk.Tiers) == 0 {
			return fmt.Errorf("catalog: tool %s has no tiers", tk.Category)
		}
		for _, t := range tk.Tiers {
			if t.Item == "" || t.Recipe == "" {
				return fmt.Errorf("catalog: tool %s tier %q needs item and recipe", tk.Category, t.Tier)
			}
		}
	}
	for i, r := range c.Refinements {
		if r.Input == "" || r.Recipe == "" || r.Count <= 0 {
			return fmt.Errorf("catalog: refinement %d is incomplete", i)
		}
	}
	for name, s := range c.Structures {
		if err := s.validate(); err != nil {
			return fmt.Errorf("catalog: structure %s: %w", name, err)
		}
	}
	if len(c.AirBlocks) == 0 {
		c.AirBlocks = []string{"AIR"}
	}
	return nil
}

func (c *Catalog) index() {
	c.categories = map[string][]Category{}
	add := func(item string, cat Category) {
		for _, have := range c.categories[item] {
			if have == cat {
				return
			}
		}
		c.categories[item] = append(c.categories[item], cat)
	}
	for _, it := range c.Foods {
		add(it, CategoryFood)
	}
	for _, it := range c.Weapons {
		add(it, CategoryWeapon)
	}
	for _, a := range c.Armor {
		add(a.Item, CategoryArmor)
	}
	for _, tk := range c.Tools {
		for _, t := range tk.Tiers {
			add(t.Item, CategoryTool)
		}
	}
	for _, it := range c.BuildingBlocks {
		add(it, CategoryBuildingBlock)
	}
	for _, r := range c.Refinements {
		add(r.Input, CategoryRaw)
	}
	c.air = toSet(c.AirBlocks)
	c.targets = toSet(c.TargetKinds)
}

// Is reports whether item is a member of cat.
func (c *Catalog) Is(item string, cat Category) bool {
	for _, have := range c.categories[item] {
		if have == cat {
			return true
		}
	}
	return false
}

// Members lists the items of a category in priority order.
func (c *Catalog) Members(cat Category) []string {
	switch cat {
	case CategoryFood:
		return append([]string(nil), c.Foods...)
	case CategoryWeapon:
		return append([]string(nil), c.Weapons...)
	case CategoryBuildingBlock:
		return append([]string(nil), c.BuildingBlocks...)
	}
	var out []string
	for item, cats := range c.categories {
		for _, have := range cats {
			if have == cat {
				out = append(out, item)
			}
		}
	}
	sort.Strings(out)
	return out
}

// IsAir reports whether a block id counts as empty space.
func (c *Catalog) IsAir(block string) bool {
	_, ok := c.air[block]
	return ok
}

// IsTargetKind reports whether an entity kind can be a combat target.
func (c *Catalog) IsTargetKind(kind string) bool {
	_, ok := c.targets[kind]
	return ok
}

// StructureNames returns the configured template names, sorted.
func (c *Catalog) StructureNames() []string {
	out := make([]string, 0, len(c.Structures))
	for k := range c.Structures {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func toSet(xs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
