package store

import "slices"

type delivery struct {
	change Change
	fn     func(Change)
}

// Watch registers fn to be called whenever id is written. The returned
// function cancels the registration and is safe to call more than once.
func (s *Store) Watch(id string, fn func(Change)) (cancel func()) {
	s.mu.Lock()
	s.nextWatch++
	token := s.nextWatch
	set, ok := s.watchers[id]
	if !ok {
		set = make(map[uint64]func(Change))
		s.watchers[id] = set
	}
	set[token] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set, ok := s.watchers[id]; ok {
			delete(set, token)
			if len(set) == 0 {
				delete(s.watchers, id)
			}
		}
	}
}

// WatcherCount returns the number of registered watch callbacks.
func (s *Store) WatcherCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, set := range s.watchers {
		n += len(set)
	}
	return n
}

// publishLocked must be called with s.mu held for writing. It takes a
// delivery ticket, releases s.mu and delivers the changes once every earlier
// ticket has been delivered, so observers see writes in write order.
func (s *Store) publishLocked(changes ...Change) {
	var pending []delivery
	for _, c := range changes {
		for _, fn := range sortedWatchers(s.watchers[c.ID]) {
			pending = append(pending, delivery{change: c, fn: fn})
		}
	}
	ticket := s.issued
	s.issued++
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for s.delivered != ticket {
		s.notifyCond.Wait()
	}
	for _, d := range pending {
		d.fn(d.change)
	}
	s.delivered++
	s.notifyCond.Broadcast()
}

// sortedWatchers returns callbacks in registration order.
func sortedWatchers(set map[uint64]func(Change)) []func(Change) {
	if len(set) == 0 {
		return nil
	}
	tokens := make([]uint64, 0, len(set))
	for token := range set {
		tokens = append(tokens, token)
	}
	slices.Sort(tokens)
	fns := make([]func(Change), len(tokens))
	for i, token := range tokens {
		fns[i] = set[token]
	}
	return fns
}
