package tracker

import "github.com/hatchery-sh/hatchery/internal/model"

// validEdges is the machine lifecycle transition table. unknown is the
// sole initial state; deployed and failed are re-enterable, not terminal.
var validEdges = map[model.MachineStatus][]model.MachineStatus{
	model.MachineUnknown:       {model.MachineDiscovered},
	model.MachineDiscovered:    {model.MachineCommissioning},
	model.MachineCommissioning: {model.MachineReady, model.MachineFailed},
	model.MachineReady:         {model.MachineDeploying, model.MachineCommissioning},
	model.MachineDeploying:     {model.MachineDeployed, model.MachineFailed},
	model.MachineDeployed:      {model.MachineReady},
	model.MachineFailed:        {model.MachineCommissioning, model.MachineDeploying, model.MachineReady},
}

// CanTransition reports whether from→to is a valid lifecycle edge.
// A no-op transition is always valid.
func CanTransition(from, to model.MachineStatus) bool {
	if from == to {
		return true
	}
	for _, next := range validEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}
