package mount

// EntryState tracks where an entry is in its lifecycle. States advance
// monotonically through a run except for the remount and unmount detours.
type EntryState string

const (
	// StateUnconfigured means nothing has been done for the entry yet.
	StateUnconfigured EntryState = "unconfigured"

	// StateCreated means the target directory exists (created by this run or
	// found pre-existing).
	StateCreated EntryState = "created"

	// StateMounted means the bind mount or symlink is in place.
	StateMounted EntryState = "mounted"

	// StateRemounting means the target carried a different source and is
	// being switched over.
	StateRemounting EntryState = "remounting"

	// StateUnmounting means a teardown is detaching the entry.
	StateUnmounting EntryState = "unmounting"

	// StateUnmounted means a teardown detached the entry.
	StateUnmounted EntryState = "unmounted"
)

// transitions lists the legal state machine edges.
var transitions = map[EntryState][]EntryState{
	StateUnconfigured: {StateCreated, StateMounted},
	StateCreated:      {StateMounted},
	StateMounted:      {StateRemounting, StateUnmounting},
	StateRemounting:   {StateMounted},
	StateUnmounting:   {StateUnmounted},
	StateUnmounted:    {},
}

// CanTransition reports whether moving from s to next is a legal edge.
// Self-transitions are always allowed; idempotent operations re-enter their
// resulting state freely.
func (s EntryState) CanTransition(next EntryState) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
