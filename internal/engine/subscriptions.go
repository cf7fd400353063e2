package engine

// SubscribeConversations registers a callback fired whenever the derived
// conversation list (order, unread counts, presence) changes. The
// returned func cancels the subscription.
func (s *Synchronizer) SubscribeConversations(fn func()) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.convListeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.convListeners, id)
		s.mu.Unlock()
	}
}

// SubscribeMessages registers a callback fired whenever the message list
// for one conversation changes.
func (s *Synchronizer) SubscribeMessages(conversationID string, fn func()) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	if s.msgListeners[conversationID] == nil {
		s.msgListeners[conversationID] = make(map[int]func())
	}
	s.msgListeners[conversationID][id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if listeners, ok := s.msgListeners[conversationID]; ok {
			delete(listeners, id)
			if len(listeners) == 0 {
				delete(s.msgListeners, conversationID)
			}
		}
		s.mu.Unlock()
	}
}

// Listeners run outside the engine lock so they may query the engine.

func (s *Synchronizer) notifyConversations() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.convListeners))
	for _, fn := range s.convListeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Synchronizer) notifyMessages(conversationID string) {
	s.mu.Lock()
	var fns []func()
	for _, fn := range s.msgListeners[conversationID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
