package models

// State is an ingestion pipeline state.
type State string

// Pipeline states in transition order. Failed is reachable from any
// non-terminal state; Completed and Failed are terminal.
const (
	StateQueued     State = "queued"
	StateExtracting State = "extracting"
	StateChunking   State = "chunking"
	StateEmbedding  State = "embedding"
	StateIndexing   State = "indexing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

var stateOrder = map[State]int{
	StateQueued:     0,
	StateExtracting: 1,
	StateChunking:   2,
	StateEmbedding:  3,
	StateIndexing:   4,
	StateCompleted:  5,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := stateOrder[s]
	return ok || s == StateFailed
}

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanAdvanceTo reports whether a transition from s to next is legal:
// strictly forward along the stage sequence, or to Failed from any
// non-terminal state.
func (s State) CanAdvanceTo(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	cur, ok := stateOrder[s]
	if !ok {
		return false
	}
	nxt, ok := stateOrder[next]
	if !ok {
		return false
	}
	return nxt == cur+1
}
