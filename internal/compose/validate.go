package compose

import (
	"fmt"

	"github.com/hatchery-sh/hatchery/internal/model"
)

// validateRequirements checks the resolved egg set against the target
// machine. RAM and disk minimums are summed across the whole set; an
// architecture-pinned egg must match the machine exactly.
func validateRequirements(machine *model.Machine, eggs []*model.Egg) error {
	var ramMB, diskGB int64
	for _, egg := range eggs {
		ramMB += egg.MinRAMMB
		diskGB += egg.MinDiskGB

		if egg.Architecture != "" && machine.Architecture != "" && egg.Architecture != machine.Architecture {
			return &IncompatibleEggError{
				EggID:   egg.ID,
				EggName: egg.Name,
				Reason:  fmt.Sprintf("requires architecture %s, machine is %s", egg.Architecture, machine.Architecture),
			}
		}
	}
	if ramMB > machine.MemoryMB {
		return &IncompatibleEggError{
			EggName: "set",
			Reason:  fmt.Sprintf("requires %d MB RAM, machine has %d MB", ramMB, machine.MemoryMB),
		}
	}
	if diskGB > machine.DiskGB {
		return &IncompatibleEggError{
			EggName: "set",
			Reason:  fmt.Sprintf("requires %d GB disk, machine has %d GB", diskGB, machine.DiskGB),
		}
	}

	return validateHypervisorProfiles(eggs)
}

// validateHypervisorProfiles enforces two rules: LXD workloads need a
// hypervisor config egg somewhere in the resolved set, and a hypervisor
// config egg may not depend on a non-hypervisor egg pinned to a
// different architecture.
func validateHypervisorProfiles(eggs []*model.Egg) error {
	byID := map[string]*model.Egg{}
	haveHypervisor := false
	for _, egg := range eggs {
		byID[egg.ID] = egg
		if egg.IsHypervisorConfig {
			haveHypervisor = true
		}
	}

	for _, egg := range eggs {
		switch egg.Type {
		case model.EggLXDContainer, model.EggLXDVM:
			if !haveHypervisor {
				return &IncompatibleEggError{
					EggID:   egg.ID,
					EggName: egg.Name,
					Reason:  "LXD workload requires a hypervisor config egg in the set",
				}
			}
		}

		if !egg.IsHypervisorConfig {
			continue
		}
		for _, depID := range egg.Dependencies {
			dep, ok := byID[depID]
			if !ok {
				continue
			}
			if !dep.IsHypervisorConfig && dep.Architecture != "" && egg.Architecture != "" && dep.Architecture != egg.Architecture {
				return &IncompatibleEggError{
					EggID:   egg.ID,
					EggName: egg.Name,
					Reason:  fmt.Sprintf("hypervisor config depends on %s with conflicting architecture %s", dep.Name, dep.Architecture),
				}
			}
		}
	}
	return nil
}
