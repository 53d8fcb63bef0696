package store

import "sync"

// userNotifier serializes current-user commits and fans the result out to
// listeners. commitMu spans commit and notification so two racing session
// updates can neither tear their writes nor reorder their notifications;
// listeners run synchronously, in registration order, and may read the
// store (reads do not take commitMu).
type userNotifier struct {
	commitMu  sync.Mutex
	listenerM sync.Mutex
	listeners []UserListener
}

func (n *userNotifier) OnUserChanged(fn UserListener) {
	n.listenerM.Lock()
	defer n.listenerM.Unlock()
	n.listeners = append(n.listeners, fn)
}

func (n *userNotifier) snapshot() []UserListener {
	n.listenerM.Lock()
	defer n.listenerM.Unlock()
	out := make([]UserListener, len(n.listeners))
	copy(out, n.listeners)
	return out
}
