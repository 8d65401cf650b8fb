package bot

import (
	"context"
	"fmt"

	"voxelswarm.ai/internal/capability"
	"voxelswarm.ai/internal/catalog"
)

func (c *Controller) eat(ctx context.Context, sess capability.Session, food string) error {
	if err := sess.Equip(ctx, food, capability.SlotHand); err != nil {
		return fmt.Errorf("equip %s: %w", food, err)
	}
	if err := sess.Consume(ctx); err != nil {
		return fmt.Errorf("eat %s: %w", food, err)
	}
	defer func() { _ = sess.ReleaseUse() }()
	return sess.WaitTicks(ctx, eatWaitTicks)
}

// craftTools crafts the best tier it can for each missing tool kind.
func (c *Controller) craftTools(ctx context.Context, sess capability.Session, missing []catalog.ToolKind) error {
	for _, tk := range missing {
		crafted := ""
		for _, tier := range tk.Tiers {
			if err := sess.Craft(ctx, tier.Recipe, 1); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Debug("craft tier failed", "tool", tk.Category, "tier", tier.Tier, "err", err)
				continue
			}
			crafted = tier.Item
			break
		}
		if crafted == "" {
			c.logger.Info("no craftable tier", "tool", tk.Category)
			continue
		}
		c.logger.Info("crafted tool", "tool", tk.Category, "item", crafted)
	}
	return nil
}

func (c *Controller) gather(ctx context.Context, sess capability.Session) error {
	found := sess.FindBlocks(c.cat.Harvestable, c.cfg.GatherRadius)
	if len(found) == 0 {
		return errNoResource
	}
	at := found[0]
	if err := sess.PathfindTo(ctx, capability.Goal{Position: at, Range: gatherReach}); err != nil {
		return fmt.Errorf("travel to %v: %w", at, err)
	}
	if err := sess.Harvest(ctx, at); err != nil {
		return fmt.Errorf("harvest %v: %w", at, err)
	}
	c.refine(ctx, sess)
	return nil
}

// refine turns raw materials into their refined forms, in catalog order so
// later refinements can consume earlier outputs.
func (c *Controller) refine(ctx context.Context, sess capability.Session) {
	for _, r := range c.cat.Refinements {
		n := capability.Count(sess.Inventory(), r.Input) / r.Count
		if n <= 0 {
			continue
		}
		if err := sess.Craft(ctx, r.Recipe, n); err != nil {
			c.logger.Debug("refine failed", "recipe", r.Recipe, "count", n, "err", err)
		}
	}
}

// build places a randomly chosen template next to the agent, bottom layer
// first. Occupied cells are skipped and failed placements do not abort the
// structure.
func (c *Controller) build(ctx context.Context, sess capability.Session) error {
	names := c.cat.StructureNames()
	if len(names) == 0 {
		return nil
	}
	block, ok := c.cat.BuildingBlock(sess.Inventory())
	if !ok {
		return errNoBlocks
	}
	name := names[int(c.rand()*float64(len(names)))%len(names)]
	tmpl := c.cat.Structures[name]
	anchor := sess.Position().Floor().Add(capability.Vec3{X: buildDistance, Z: buildDistance})

	if err := sess.PathfindTo(ctx, capability.Goal{Position: anchor, Range: buildReach}); err != nil {
		return fmt.Errorf("travel to build site: %w", err)
	}
	if err := sess.Equip(ctx, block, capability.SlotHand); err != nil {
		return fmt.Errorf("equip %s: %w", block, err)
	}

	placed, failed, skipped := 0, 0, 0
	for _, layer := range tmpl.Layers(anchor) {
		for _, p := range layer {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if id, known := sess.BlockAt(p); known && !c.cat.IsAir(id) {
				skipped++
				continue
			}
			if capability.Count(sess.Inventory(), block) == 0 {
				next, ok := c.cat.BuildingBlock(sess.Inventory())
				if !ok {
					c.logger.Info("out of blocks", "structure", name, "placed", placed)
					return nil
				}
				if err := sess.Equip(ctx, next, capability.SlotHand); err != nil {
					return fmt.Errorf("equip %s: %w", next, err)
				}
				block = next
			}
			if err := sess.PlaceBlock(ctx, p.Sub(capability.Vec3{Y: 1}), capability.Vec3{Y: 1}); err != nil {
				failed++
				continue
			}
			placed++
		}
	}
	c.logger.Info("built structure", "structure", name, "placed", placed, "failed", failed, "skipped", skipped)
	return nil
}

// EquipGear puts on the best weapon and one armor piece per slot. Failures
// are logged and skipped.
func (c *Controller) EquipGear(ctx context.Context) {
	sess := c.sess
	if sess == nil {
		return
	}
	c.setBehavior(BehaviorEquipping)
	defer c.setBehavior(BehaviorIdle)
	inv := sess.Inventory()
	if weapon, ok := c.cat.BestWeapon(inv); ok {
		if err := sess.Equip(ctx, weapon, capability.SlotHand); err != nil {
			c.logger.Debug("equip weapon failed", "item", weapon, "err", err)
		}
	}
	for _, a := range c.cat.BestArmor(inv) {
		if err := sess.Equip(ctx, a.Item, a.Slot); err != nil {
			c.logger.Debug("equip armor failed", "item", a.Item, "slot", a.Slot, "err", err)
		}
	}
}
