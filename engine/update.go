package engine

// State is the transport state of the engine.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// UpdateKind tells an observer what changed.
type UpdateKind int

const (
	// UpdateState reports a transport state change.
	UpdateState UpdateKind = iota
	// UpdatePosition is the periodic position tick while playing.
	UpdatePosition
	// UpdateSong reports that the song structure changed.
	UpdateSong
)

// Update is one event on the engine's update stream. Every update carries the
// state and position at the time it was emitted; position ticks also carry the
// per-track peak levels so a UI can drive meters from the stream alone.
type Update struct {
	Kind     UpdateKind
	State    State
	Position float64
	Levels   map[string]float32
}

// TrySend is a helper function to send a value to a channel if it is not full.
// It is guaranteed to be non-blocking. Return true if the value was sent, false
// otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}
