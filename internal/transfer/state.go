package transfer

// State is the lifecycle state of a Handle.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// pauseState tracks one direction of a bridged transfer.
type pauseState uint8

const (
	flowing pauseState = iota
	// pauseRequested makes the next callback return the pause sentinel.
	pauseRequested
	paused
)

func (p pauseState) String() string {
	switch p {
	case flowing:
		return "flowing"
	case pauseRequested:
		return "pause-requested"
	case paused:
		return "paused"
	default:
		return "unknown"
	}
}

// pause marks the direction suspended by the callback that is returning the
// pause sentinel.
func (p *pauseState) pause() {
	*p = paused
}

// request asks the next callback to pause and returns the previous state.
// Requesting a pause that is already pending is an error and leaves the
// state unchanged.
func (p *pauseState) request() (pauseState, error) {
	prev := *p
	if prev == pauseRequested {
		return prev, errPauseRequested
	}
	*p = pauseRequested
	return prev, nil
}

// takeRequest turns a pending request into paused and reports whether there was one.
func (p *pauseState) takeRequest() bool {
	if *p != pauseRequested {
		return false
	}
	*p = paused
	return true
}

// resume reports whether the direction was paused and is flowing now.
// A requested pause is not cancelled by resume.
func (p *pauseState) resume() bool {
	if *p != paused {
		return false
	}
	*p = flowing
	return true
}

// faultSlot holds the single deferred stream fault of a transfer. The first
// recorded fault sticks; take hands it out once.
type faultSlot struct {
	err      error
	explicit bool
	set      bool
	taken    bool
}

// record stores err unless a fault was already recorded. explicit marks
// errors supplied by the stream itself rather than synthesized.
func (f *faultSlot) record(err error, explicit bool) bool {
	if f.set {
		return false
	}
	f.err, f.explicit, f.set = err, explicit, true
	return true
}

func (f *faultSlot) take() error {
	if !f.set || f.taken {
		return nil
	}
	f.taken = true
	return f.err
}

// raisedExplicit returns the fault once it was taken, if the stream supplied it.
func (f *faultSlot) raisedExplicit() (error, bool) {
	if f.taken && f.explicit {
		return f.err, true
	}
	return nil, false
}

// streamState exists between Perform and the terminal event while a stream
// feature is active.
type streamState struct {
	fault    faultSlot
	upload   pauseState
	download *downloadAdapter
}
