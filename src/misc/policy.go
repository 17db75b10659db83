package misc

// WriteBackPolicy decides when a staged node is persisted back to MRAM after an
// ability ran on it. Walkers are persisted after every step regardless of the
// policy.
type WriteBackPolicy string

const (
	// WriteBackAlways persists the node buffer after every trace entry.
	WriteBackAlways WriteBackPolicy = "always"
	// WriteBackDirty keeps a shadow copy of the staged node and skips the
	// write-back when the ability left the bytes untouched.
	WriteBackDirty WriteBackPolicy = "dirty"
)

// DefaultWriteBackPolicy returns the policy used when no explicit selection is
// made.
func DefaultWriteBackPolicy() WriteBackPolicy {
	return WriteBackAlways
}

// WriteBackPolicyFromString converts an arbitrary string into a
// WriteBackPolicy. When the provided value is unknown the bool return will be
// false.
func WriteBackPolicyFromString(value string) (WriteBackPolicy, bool) {
	switch value {
	case string(WriteBackAlways):
		return WriteBackAlways, true
	case string(WriteBackDirty):
		return WriteBackDirty, true
	default:
		return "", false
	}
}

// ResultScope decides who owns the result container on a unit.
type ResultScope string

const (
	// ResultScopePerTasklet gives every tasklet a private container.
	ResultScopePerTasklet ResultScope = "per_tasklet"
	// ResultScopeShared gives the unit one container guarded by a mutex.
	ResultScopeShared ResultScope = "shared"
)

func DefaultResultScope() ResultScope {
	return ResultScopePerTasklet
}

func ResultScopeFromString(value string) (ResultScope, bool) {
	switch value {
	case string(ResultScopePerTasklet):
		return ResultScopePerTasklet, true
	case string(ResultScopeShared):
		return ResultScopeShared, true
	default:
		return "", false
	}
}
