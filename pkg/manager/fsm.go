package manager

import (
	"fmt"

	"github.com/bagleyctf/labrange/pkg/types"
)

// validTransitions is the instance lifecycle. Stopped and failed are
// terminal; the only way out is deleting the record.
var validTransitions = map[types.InstanceStatus][]types.InstanceStatus{
	types.InstanceCreated: {types.InstanceRunning, types.InstanceFailed},
	types.InstanceRunning: {types.InstanceStopped, types.InstanceFailed},
	types.InstanceStopped: {},
	types.InstanceFailed:  {},
}

// canTransition reports whether from may move to to
func canTransition(from, to types.InstanceStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition moves the instance to the target state, rejecting moves the
// lifecycle does not allow.
func transition(lab *types.LabInstance, to types.InstanceStatus) error {
	if lab.Status == to {
		return nil
	}
	if !canTransition(lab.Status, to) {
		return fmt.Errorf("invalid transition %s -> %s for %s", lab.Status, to, lab.Name)
	}
	lab.Status = to
	return nil
}
