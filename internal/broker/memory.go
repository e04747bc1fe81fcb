// Package broker provides publish/subscribe transports for printer channels.
package broker

import (
	"io"
	"sync"

	"pkt.systems/printwatch/internal/logx"
	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

// Memory is an in-process broker. Publish delivers synchronously to every
// subscription on the channel in subscription order.
type Memory struct {
	mu      sync.Mutex
	ready   bool
	nextID  uint64
	subs    map[schema.ChannelName][]*memorySub
	onReady []func()
	log     pslog.Logger
}

type memorySub struct {
	id       uint64
	channel  schema.ChannelName
	handlers map[schema.EventName]schema.EventHandler
	broker   *Memory
	once     sync.Once
}

// NewMemory constructs a ready Memory broker.
func NewMemory(logger pslog.Logger) *Memory {
	return &Memory{
		ready: true,
		subs:  make(map[schema.ChannelName][]*memorySub),
		log:   logx.Or(logger),
	}
}

// SetReady toggles readiness. Becoming ready runs the OnReady hooks.
func (m *Memory) SetReady(ready bool) {
	m.mu.Lock()
	was := m.ready
	m.ready = ready
	hooks := append([]func(){}, m.onReady...)
	m.mu.Unlock()
	if ready && !was {
		for _, hook := range hooks {
			hook()
		}
	}
}

// OnReady registers a hook that runs whenever the broker becomes ready.
func (m *Memory) OnReady(hook func()) {
	if hook == nil {
		return
	}
	m.mu.Lock()
	m.onReady = append(m.onReady, hook)
	m.mu.Unlock()
}

// Subscribe implements channels.Broker.
func (m *Memory) Subscribe(channel schema.ChannelName, handlers map[schema.EventName]schema.EventHandler) (io.Closer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return nil, schema.ErrBrokerNotReady
	}
	m.nextID++
	sub := &memorySub{
		id:       m.nextID,
		channel:  channel,
		handlers: handlers,
		broker:   m,
	}
	m.subs[channel] = append(m.subs[channel], sub)
	logx.WithChannel(m.log, channel).Trace("memory broker subscribe", "subs", len(m.subs[channel]))
	return sub, nil
}

// Publish delivers payload to every handler registered for event on channel.
// It returns the number of handlers invoked.
func (m *Memory) Publish(channel schema.ChannelName, event schema.EventName, payload []byte) int {
	m.mu.Lock()
	subs := append([]*memorySub(nil), m.subs[channel]...)
	m.mu.Unlock()
	delivered := 0
	for _, sub := range subs {
		handler := sub.handlers[event]
		if handler == nil {
			continue
		}
		_ = handler(payload)
		delivered++
	}
	return delivered
}

// Subscriptions returns the number of open subscriptions on channel.
func (m *Memory) Subscriptions(channel schema.ChannelName) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[channel])
}

// Channels returns the channels with at least one open subscription.
func (m *Memory) Channels() []schema.ChannelName {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.ChannelName, 0, len(m.subs))
	for name, subs := range m.subs {
		if len(subs) > 0 {
			out = append(out, name)
		}
	}
	return out
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		m := s.broker
		m.mu.Lock()
		subs := m.subs[s.channel]
		for i, sub := range subs {
			if sub.id == s.id {
				subs = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(subs) == 0 {
			delete(m.subs, s.channel)
		} else {
			m.subs[s.channel] = subs
		}
		m.mu.Unlock()
	})
	return nil
}
