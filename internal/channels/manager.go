// Package channels manages per-printer broker subscriptions.
//
// A Manager holds the single broker handle of the process. Each component
// that needs live events owns a Scope created from the Manager; a Scope keeps
// at most one subscription per channel name and is rebound whenever its
// liveness key (the selected printer) changes.
package channels

import (
	"errors"
	"io"
	"sort"
	"sync"

	"pkt.systems/printwatch/internal/logx"
	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

// Broker is the publish/subscribe capability.
type Broker interface {
	Subscribe(channel schema.ChannelName, handlers map[schema.EventName]schema.EventHandler) (io.Closer, error)
}

// Handler processes one event delivered for key, the printer the
// subscription was opened for.
type Handler func(key schema.PrinterID, payload []byte) error

// Topic declares the events a scope listens to on one channel topic.
type Topic struct {
	Name   string
	Events map[schema.EventName]Handler
}

// Manager owns the broker handle and retries deferred scopes.
type Manager struct {
	mu       sync.Mutex
	broker   Broker
	deferred map[*Scope]struct{}
	log      pslog.Logger
}

// NewManager constructs a Manager. broker may be nil until SetBroker is called.
func NewManager(broker Broker, logger pslog.Logger) *Manager {
	return &Manager{
		broker:   broker,
		deferred: make(map[*Scope]struct{}),
		log:      logx.Or(logger),
	}
}

// SetBroker attaches the broker and opens every deferred scope.
func (m *Manager) SetBroker(broker Broker) {
	m.mu.Lock()
	m.broker = broker
	m.mu.Unlock()
	m.Retry()
}

// Retry re-attempts subscription for scopes deferred while the broker was not ready.
func (m *Manager) Retry() {
	m.mu.Lock()
	if m.broker == nil || len(m.deferred) == 0 {
		m.mu.Unlock()
		return
	}
	scopes := make([]*Scope, 0, len(m.deferred))
	for scope := range m.deferred {
		scopes = append(scopes, scope)
	}
	m.mu.Unlock()
	m.log.Debug("channels retry deferred", "scopes", len(scopes))
	for _, scope := range scopes {
		scope.retry()
	}
}

// NewScope creates a subscription scope owned by a single component.
func (m *Manager) NewScope(owner string, topics ...Topic) *Scope {
	return &Scope{
		mgr:    m,
		owner:  owner,
		topics: topics,
		subs:   make(map[schema.ChannelName]io.Closer),
		log:    m.log.With("owner", owner),
	}
}

func (m *Manager) currentBroker() Broker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broker
}

func (m *Manager) markDeferred(scope *Scope, deferred bool) {
	m.mu.Lock()
	if deferred {
		m.deferred[scope] = struct{}{}
	} else {
		delete(m.deferred, scope)
	}
	m.mu.Unlock()
}

// Scope is a set of subscriptions bound to one liveness key at a time.
type Scope struct {
	mgr    *Manager
	owner  string
	topics []Topic
	log    pslog.Logger

	mu       sync.Mutex
	key      schema.PrinterID
	gen      uint64
	subs     map[schema.ChannelName]io.Closer
	deferred bool
}

// Bind switches the scope to key. Subscriptions for the previous key are
// released before any subscription for key is opened. Binding the current
// key again is a no-op; an empty key releases everything.
func (s *Scope) Bind(key schema.PrinterID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key != "" && key == s.key && (len(s.subs) > 0 || s.deferred) {
		return
	}
	s.releaseLocked()
	s.key = key
	if key == "" {
		return
	}
	s.openLocked()
}

// Release closes every subscription. It is safe to call repeatedly.
func (s *Scope) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
	s.key = ""
}

// Key returns the currently bound liveness key.
func (s *Scope) Key() schema.PrinterID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Deferred reports whether the scope is waiting for the broker.
func (s *Scope) Deferred() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deferred
}

// Channels returns the open channel names in sorted order.
func (s *Scope) Channels() []schema.ChannelName {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.ChannelName, 0, len(s.subs))
	for name := range s.subs {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Scope) retry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.deferred || s.key == "" {
		return
	}
	s.openLocked()
}

func (s *Scope) releaseLocked() {
	s.gen++
	if s.deferred {
		s.deferred = false
		s.mgr.markDeferred(s, false)
	}
	if len(s.subs) == 0 {
		return
	}
	for name, sub := range s.subs {
		if err := sub.Close(); err != nil {
			logx.WithChannel(s.log, name).Warn("channel release failed", "err", err)
		}
		delete(s.subs, name)
	}
	s.log.Debug("channels released", "printer", s.key)
}

func (s *Scope) openLocked() {
	broker := s.mgr.currentBroker()
	if broker == nil {
		s.deferLocked(schema.ErrBrokerNotReady)
		return
	}
	gen := s.gen
	plan := s.planLocked(gen)
	names := make([]schema.ChannelName, 0, len(plan))
	for name := range plan {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	for _, name := range names {
		if _, ok := s.subs[name]; ok {
			continue
		}
		sub, err := broker.Subscribe(name, plan[name])
		if err != nil {
			s.deferLocked(err)
			return
		}
		s.subs[name] = sub
	}
	if s.deferred {
		s.deferred = false
		s.mgr.markDeferred(s, false)
	}
	s.log.Debug("channels subscribed", "printer", s.key, "channels", len(s.subs))
}

// planLocked groups the scope's events by channel name for the current key.
func (s *Scope) planLocked(gen uint64) map[schema.ChannelName]map[schema.EventName]schema.EventHandler {
	plan := make(map[schema.ChannelName]map[schema.EventName]schema.EventHandler)
	for _, topic := range s.topics {
		name := schema.Channel(topic.Name, s.key)
		events := plan[name]
		if events == nil {
			events = make(map[schema.EventName]schema.EventHandler)
			plan[name] = events
		}
		for event, handler := range topic.Events {
			if handler == nil {
				continue
			}
			events[event] = s.wrap(gen, s.key, name, event, handler)
		}
	}
	return plan
}

func (s *Scope) deferLocked(err error) {
	if !errors.Is(err, schema.ErrBrokerNotReady) {
		s.log.Warn("channel subscribe failed; deferring", "printer", s.key, "err", err)
	}
	if !s.deferred {
		s.deferred = true
		s.mgr.markDeferred(s, true)
		s.log.Debug("channels deferred", "printer", s.key)
	}
}

func (s *Scope) wrap(gen uint64, key schema.PrinterID, channel schema.ChannelName, event schema.EventName, handler Handler) schema.EventHandler {
	log := logx.WithChannel(s.log, channel).With("event", event)
	return func(payload []byte) error {
		s.mu.Lock()
		live := s.gen == gen
		s.mu.Unlock()
		if !live {
			log.Trace("stale event dropped")
			return nil
		}
		if err := handler(key, payload); err != nil {
			log.Warn("event ignored", "err", err, "bytes", len(payload))
		}
		return nil
	}
}
