// Package presence tracks which recipients currently hold a live session
// and fans "you have mail" notices out to them.
//
// Notices are published on the event bus as EventNotice. When a Relay is
// set, locally originated notices are also forwarded to it so that other
// instances can deliver them to their own sessions.
//
// The registry does not own any transport. Sessions are registered by the
// host that embeds the app (a websocket or SSE front end) through Connect,
// reached via app.App.Presence, and the host subscribes to EventNotice to
// push notices down those sessions. A bare daemon has no local sessions, so
// notices arriving from the relay are dropped there.
package presence

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"remindd/internal/eventbus"
	"remindd/internal/model"
	logx "remindd/pkg/logx"
)

// EventNotice is the bus event type carrying a model.Notice.
const EventNotice = "presence.notice"

var ErrNotConnected = errors.New("recipient not connected")

// Relay forwards notices to other instances.
type Relay interface {
	Publish(ctx context.Context, n model.Notice) error
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]int
	relay Relay

	bus eventbus.Bus
	log logx.Logger
}

func New(bus eventbus.Bus, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{conns: map[string]int{}, bus: bus, log: log.With(logx.String("comp", "presence"))}
}

// SetRelay installs or removes (nil) the cross-instance relay.
func (r *Registry) SetRelay(rel Relay) {
	r.mu.Lock()
	r.relay = rel
	r.mu.Unlock()
}

func key(user string) string { return strings.ToLower(strings.TrimSpace(user)) }

// Connect registers one session for user. The returned func releases it
// and is safe to call more than once.
func (r *Registry) Connect(user string) (release func()) {
	k := key(user)
	if k == "" {
		return func() {}
	}
	r.mu.Lock()
	r.conns[k]++
	r.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { r.Disconnect(user) }) }
}

// Disconnect drops one session for user.
func (r *Registry) Disconnect(user string) {
	k := key(user)
	r.mu.Lock()
	defer r.mu.Unlock()
	switch n := r.conns[k]; {
	case n <= 1:
		delete(r.conns, k)
	default:
		r.conns[k] = n - 1
	}
}

// IsConnected reports whether a notice for user can be delivered: user has
// a local session, or a relay is installed. Remote sessions are not tracked.
func (r *Registry) IsConnected(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relay != nil || r.conns[key(user)] > 0
}

// HasSession reports whether user has a local session.
func (r *Registry) HasSession(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[key(user)] > 0
}

// Connected lists users with at least one session, sorted.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.conns))
	for k := range r.conns {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Notify delivers n to user's local sessions and forwards it to the relay.
// It returns ErrNotConnected when there is no local session and no relay.
func (r *Registry) Notify(ctx context.Context, user string, n model.Notice) error {
	n.Recipient = user
	r.mu.RLock()
	rel := r.relay
	r.mu.RUnlock()

	local := r.Deliver(n)
	if rel == nil {
		if !local {
			return ErrNotConnected
		}
		return nil
	}
	if err := rel.Publish(ctx, n); err != nil {
		r.log.Debug("relay publish failed", logx.String("to", user), logx.Err(err))
		return err
	}
	return nil
}

// Deliver publishes n on the bus if its recipient has a local session. It
// never forwards to the relay, so it is what relay consumers call.
func (r *Registry) Deliver(n model.Notice) bool {
	if !r.HasSession(n.Recipient) {
		return false
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: EventNotice, Time: n.SentAt, Data: n})
	}
	return true
}
