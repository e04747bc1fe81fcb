package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/printwatch/internal/logx"
	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

const (
	defaultActivityTimeout = 120 * time.Second
	defaultReconnectMax    = 30 * time.Second
	pongWait               = 30 * time.Second
	writeWait              = 10 * time.Second
	privatePrefix          = "private-"
)

// Authorizer signs private channel subscriptions for a socket.
type Authorizer interface {
	Authorize(ctx context.Context, socketID string, channel string) (string, error)
}

// PusherConfig configures a Pusher protocol client.
type PusherConfig struct {
	// URL is the full WebSocket endpoint, e.g. wss://host/app/<key>?protocol=7.
	URL string
	// Namespace is stripped from incoming event names ("App.Events" matches
	// "App\\Events\\Name").
	Namespace       string
	Private         bool
	ActivityTimeout time.Duration
	ReconnectMax    time.Duration
	Authorizer      Authorizer
	Dialer          *websocket.Dialer
	Header          http.Header
	Logger          pslog.Logger
}

// Pusher is a channels.Broker over the Pusher WebSocket protocol. Subscriptions
// survive reconnects; they are re-joined once the connection is re-established.
type Pusher struct {
	cfg PusherConfig
	log pslog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	socketID string
	runCtx   context.Context
	nextID   uint64
	subs     map[schema.ChannelName][]*pusherSub
	onReady  []func()

	writeMu sync.Mutex
}

type pusherSub struct {
	id       uint64
	channel  schema.ChannelName
	handlers map[schema.EventName]schema.EventHandler
	client   *Pusher
	once     sync.Once
}

type pusherFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type pusherError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewPusher validates cfg and constructs a client. Call Run to connect.
func NewPusher(cfg PusherConfig) (*Pusher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("pusher url is required")
	}
	if cfg.Private && cfg.Authorizer == nil {
		return nil, errors.New("private channels require an authorizer")
	}
	if cfg.ActivityTimeout <= 0 {
		cfg.ActivityTimeout = defaultActivityTimeout
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Pusher{
		cfg:  cfg,
		log:  logx.Or(cfg.Logger).With("broker", "pusher"),
		subs: make(map[schema.ChannelName][]*pusherSub),
	}, nil
}

// OnReady registers a hook that runs after every established connection.
func (p *Pusher) OnReady(hook func()) {
	if hook == nil {
		return
	}
	p.mu.Lock()
	p.onReady = append(p.onReady, hook)
	p.mu.Unlock()
}

// Ready reports whether a connection is established.
func (p *Pusher) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.socketID != ""
}

// Run connects and keeps the connection alive until ctx is done.
func (p *Pusher) Run(ctx context.Context) error {
	p.mu.Lock()
	p.runCtx = ctx
	p.mu.Unlock()
	backoff := time.Second
	for {
		start := time.Now()
		err := p.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > p.cfg.ReconnectMax {
			backoff = time.Second
		}
		p.log.Warn("pusher connection lost", "err", err, "retry_in", backoff.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.cfg.ReconnectMax {
			backoff = p.cfg.ReconnectMax
		}
	}
}

// Subscribe implements channels.Broker. It fails with schema.ErrBrokerNotReady
// until the first connection is established.
func (p *Pusher) Subscribe(channel schema.ChannelName, handlers map[schema.EventName]schema.EventHandler) (io.Closer, error) {
	p.mu.Lock()
	if p.socketID == "" {
		p.mu.Unlock()
		return nil, schema.ErrBrokerNotReady
	}
	p.nextID++
	sub := &pusherSub{
		id:       p.nextID,
		channel:  channel,
		handlers: handlers,
		client:   p,
	}
	first := len(p.subs[channel]) == 0
	p.subs[channel] = append(p.subs[channel], sub)
	socketID := p.socketID
	ctx := p.runCtx
	p.mu.Unlock()
	if first {
		go p.join(ctx, socketID, channel)
	}
	return sub, nil
}

func (p *Pusher) session(ctx context.Context) error {
	conn, _, err := p.cfg.Dialer.DialContext(ctx, p.cfg.URL, p.cfg.Header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.cfg.URL, err)
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.conn = nil
		p.socketID = ""
		p.mu.Unlock()
		_ = conn.Close()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- p.readLoop(conn, p.cfg.ActivityTimeout) }()

	ticker := time.NewTicker(p.cfg.ActivityTimeout)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			if err := p.write(conn, pusherFrame{Event: "pusher:ping", Data: json.RawMessage(`{}`)}); err != nil {
				return err
			}
		}
	}
}

func (p *Pusher) readLoop(conn *websocket.Conn, activity time.Duration) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(activity + pongWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame pusherFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			p.log.Warn("pusher frame ignored", "err", err, "bytes", len(data))
			continue
		}
		switch frame.Event {
		case "pusher:connection_established":
			var established connectionEstablished
			if err := json.Unmarshal(unwrapData(frame.Data), &established); err != nil || established.SocketID == "" {
				return fmt.Errorf("invalid connection_established: %v", err)
			}
			if established.ActivityTimeout > 0 {
				timeout := time.Duration(established.ActivityTimeout) * time.Second
				if timeout < activity {
					activity = timeout
				}
			}
			p.established(established.SocketID)
		case "pusher:ping":
			if err := p.write(conn, pusherFrame{Event: "pusher:pong", Data: json.RawMessage(`{}`)}); err != nil {
				return err
			}
		case "pusher:pong", "pusher_internal:subscription_succeeded":
			p.log.Trace("pusher control frame", "event", frame.Event, "channel", frame.Channel)
		case "pusher:error":
			var perr pusherError
			_ = json.Unmarshal(unwrapData(frame.Data), &perr)
			p.log.Warn("pusher error", "code", perr.Code, "message", perr.Message)
		default:
			p.dispatch(frame)
		}
	}
}

func (p *Pusher) established(socketID string) {
	p.mu.Lock()
	p.socketID = socketID
	channels := make([]schema.ChannelName, 0, len(p.subs))
	for name, subs := range p.subs {
		if len(subs) > 0 {
			channels = append(channels, name)
		}
	}
	hooks := append([]func(){}, p.onReady...)
	ctx := p.runCtx
	p.mu.Unlock()
	p.log.Info("pusher connected", "socket", socketID, "rejoin", len(channels))
	for _, name := range channels {
		go p.join(ctx, socketID, name)
	}
	for _, hook := range hooks {
		hook()
	}
}

func (p *Pusher) join(ctx context.Context, socketID string, channel schema.ChannelName) {
	if ctx == nil {
		ctx = context.Background()
	}
	wire := p.wireName(channel)
	payload := map[string]string{"channel": wire}
	if p.cfg.Private {
		auth, err := p.cfg.Authorizer.Authorize(ctx, socketID, wire)
		if err != nil {
			logx.WithChannel(p.log, channel).Warn("pusher channel auth failed", "err", err)
			return
		}
		payload["auth"] = auth
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	p.mu.Lock()
	conn := p.conn
	current := p.socketID
	p.mu.Unlock()
	if conn == nil || current != socketID {
		return
	}
	if err := p.write(conn, pusherFrame{Event: "pusher:subscribe", Data: data}); err != nil {
		logx.WithChannel(p.log, channel).Warn("pusher subscribe write failed", "err", err)
	}
}

func (p *Pusher) leave(channel schema.ChannelName) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}
	data, _ := json.Marshal(map[string]string{"channel": p.wireName(channel)})
	if err := p.write(conn, pusherFrame{Event: "pusher:unsubscribe", Data: data}); err != nil {
		logx.WithChannel(p.log, channel).Debug("pusher unsubscribe write failed", "err", err)
	}
}

func (p *Pusher) dispatch(frame pusherFrame) {
	channel := schema.ChannelName(strings.TrimPrefix(frame.Channel, privatePrefix))
	event := schema.EventName(p.localEvent(frame.Event))
	p.mu.Lock()
	subs := append([]*pusherSub(nil), p.subs[channel]...)
	p.mu.Unlock()
	if len(subs) == 0 {
		logx.WithChannel(p.log, channel).Trace("pusher event without subscribers", "event", event)
		return
	}
	payload := unwrapData(frame.Data)
	for _, sub := range subs {
		if handler := sub.handlers[event]; handler != nil {
			_ = handler(payload)
		}
	}
}

func (p *Pusher) write(conn *websocket.Conn, frame pusherFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (p *Pusher) wireName(channel schema.ChannelName) string {
	if p.cfg.Private {
		return privatePrefix + string(channel)
	}
	return string(channel)
}

func (p *Pusher) localEvent(name string) string {
	ns := strings.TrimSpace(p.cfg.Namespace)
	if ns == "" {
		return name
	}
	prefix := strings.ReplaceAll(ns, ".", `\`) + `\`
	if strings.HasPrefix(name, prefix) {
		return name[len(prefix):]
	}
	return strings.TrimPrefix(name, ns+".")
}

func (s *pusherSub) Close() error {
	s.once.Do(func() {
		p := s.client
		p.mu.Lock()
		subs := p.subs[s.channel]
		for i, sub := range subs {
			if sub.id == s.id {
				subs = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		last := len(subs) == 0
		if last {
			delete(p.subs, s.channel)
		} else {
			p.subs[s.channel] = subs
		}
		p.mu.Unlock()
		if last {
			go p.leave(s.channel)
		}
	})
	return nil
}

// unwrapData returns the JSON payload of a frame. Pusher servers send event
// data as a JSON-encoded string; some send the object inline.
func unwrapData(data json.RawMessage) []byte {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal(data, &inner); err == nil {
			return []byte(inner)
		}
	}
	return data
}
