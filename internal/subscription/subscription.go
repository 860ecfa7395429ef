// Package subscription holds the in-memory subscription key registry.
package subscription

import "sync"

// Subscription is one registered consumer of the gateway.
type Subscription struct {
	Name       string
	Key        string
	CounterKey string // rate-limit counter identity; defaults to the key
	Active     bool
}

// Store maps subscription keys to subscriptions. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	byID map[string]*Subscription
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{byID: make(map[string]*Subscription)}
}

// Put registers or replaces a subscription.
func (s *Store) Put(sub *Subscription) {
	if sub.CounterKey == "" {
		sub.CounterKey = sub.Key
	}
	s.mu.Lock()
	s.byID[sub.Key] = sub
	s.mu.Unlock()
}

// Lookup resolves a subscription key. Inactive subscriptions do not resolve.
func (s *Store) Lookup(key string) (*Subscription, bool) {
	if key == "" {
		return nil, false
	}
	s.mu.RLock()
	sub, ok := s.byID[key]
	s.mu.RUnlock()
	if !ok || !sub.Active {
		return nil, false
	}
	return sub, true
}

// Replace swaps the full registry in one step, dropping any key not in subs.
// Used on config reload so revoked subscriptions stop resolving immediately.
func (s *Store) Replace(subs []*Subscription) {
	byID := make(map[string]*Subscription, len(subs))
	for _, sub := range subs {
		if sub.CounterKey == "" {
			sub.CounterKey = sub.Key
		}
		byID[sub.Key] = sub
	}
	s.mu.Lock()
	s.byID = byID
	s.mu.Unlock()
}

// Remove deletes a subscription by key.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	delete(s.byID, key)
	s.mu.Unlock()
}

// Len reports the number of registered subscriptions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
