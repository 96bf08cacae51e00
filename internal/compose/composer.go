package compose

import (
	"context"
	"fmt"

	"github.com/hatchery-sh/hatchery/internal/model"
	"github.com/hatchery-sh/hatchery/internal/store"
)

// Composer resolves egg requests against the catalog and renders
// deployment payloads.
type Composer struct {
	store *store.Store
}

func NewComposer(s *store.Store) *Composer {
	return &Composer{store: s}
}

// Result is one rendered deployment payload.
type Result struct {
	// Eggs in dependency order, after group expansion and closure.
	Eggs []*model.Egg

	// CloudInit is the merged #cloud-config document.
	CloudInit []byte
}

// ExpandGroups replaces group ids with their member egg ids, preserving
// order and dropping duplicates. Group membership is validated here only
// for existence; activity is checked during resolution.
func (c *Composer) ExpandGroups(ctx context.Context, eggIDs, groupIDs []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range eggIDs {
		add(id)
	}
	for _, groupID := range groupIDs {
		group, err := c.store.GetEggGroup(ctx, groupID)
		if err != nil {
			return nil, fmt.Errorf("expanding egg group %s: %w", groupID, err)
		}
		for _, id := range group.EggIDs {
			add(id)
		}
	}
	return out, nil
}

// Compose resolves the requested egg ids into dependency order, checks
// them against the machine, and renders the cloud-init document.
func (c *Composer) Compose(ctx context.Context, machine *model.Machine, eggIDs []string) (*Result, error) {
	eggs, err := c.store.ListEggs(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("loading egg catalog: %w", err)
	}
	catalog := make(map[string]*model.Egg, len(eggs))
	for _, egg := range eggs {
		catalog[egg.ID] = egg
	}

	ordered, err := resolveOrder(catalog, eggIDs)
	if err != nil {
		return nil, err
	}
	if err := validateRequirements(machine, ordered); err != nil {
		return nil, err
	}

	doc, err := renderCloudInit(ordered)
	if err != nil {
		return nil, err
	}
	return &Result{Eggs: ordered, CloudInit: doc}, nil
}
