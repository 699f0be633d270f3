package stream

// On subscribes fn to ev and returns an id for Off.
func (r *Readable) On(ev Event, fn Listener) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.listeners[ev] = append(r.listeners[ev], listener{id: r.nextID, fn: fn})
	return r.nextID
}

// Off removes the subscription with the given id. Unknown ids are ignored.
func (r *Readable) Off(ev Event, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls := r.listeners[ev]
	for i, l := range ls {
		if l.id == id {
			r.listeners[ev] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

func (r *Readable) ListenerCount(ev Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners[ev])
}

func (r *Readable) emitLocked(ev Event, err error) {
	r.sched.Post(func() { r.dispatch(ev, err) })
}

// dispatch runs on the loop. Listeners are resolved at delivery time so a
// listener removed before its event is delivered is not called.
func (r *Readable) dispatch(ev Event, err error) {
	r.mu.Lock()
	ls := make([]listener, len(r.listeners[ev]))
	copy(ls, r.listeners[ev])
	r.mu.Unlock()

	for _, l := range ls {
		if !r.subscribed(ev, l.id) {
			continue
		}
		l.fn(err)
	}
}

func (r *Readable) subscribed(ev Event, id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.listeners[ev] {
		if l.id == id {
			return true
		}
	}
	return false
}
