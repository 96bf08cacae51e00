package compose

import (
	"fmt"
	"strings"
)

// DependencyCycleError reports a cycle in the egg dependency graph. IDs
// holds every egg id that participates in (or depends into) the cycle.
type DependencyCycleError struct {
	IDs []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("egg dependency cycle involving: %s", strings.Join(e.IDs, ", "))
}

// UnknownEggError reports a requested or referenced egg id that does not
// resolve to an existing, active egg.
type UnknownEggError struct {
	ID     string
	Reason string // "not found" or "inactive"
}

func (e *UnknownEggError) Error() string {
	return fmt.Sprintf("egg %s: %s", e.ID, e.Reason)
}

// IncompatibleEggError reports an egg set that cannot run on the target
// machine.
type IncompatibleEggError struct {
	EggID   string
	EggName string
	Reason  string
}

func (e *IncompatibleEggError) Error() string {
	return fmt.Sprintf("egg %s (%s) incompatible: %s", e.EggName, e.EggID, e.Reason)
}

// SectionCollisionError reports two eggs redefining the same exclusive
// cloud-init key.
type SectionCollisionError struct {
	Section string
	EggName string
}

func (e *SectionCollisionError) Error() string {
	return fmt.Sprintf("cloud-init section %q redefined by egg %s", e.Section, e.EggName)
}
