// Package dispatch renders and delivers notifications with bounded retry,
// records exactly one history entry per delivery and signals connected
// users afterwards.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"remindd/internal/eventbus"
	"remindd/internal/mailer"
	"remindd/internal/model"
	"remindd/internal/render"
	logx "remindd/pkg/logx"
)

const (
	EventSent   = "dispatch.sent"
	EventFailed = "dispatch.failed"
)

type Options struct {
	Renderer Renderer
	Mailer   mailer.Mailer
	History  HistoryStore
	Presence Presence
	Policy   RetryPolicy
	Clock    clockwork.Clock
	// RatePerSec caps provider calls; <= 0 disables the limiter.
	RatePerSec  float64
	SendTimeout time.Duration
	Bus         eventbus.Bus
	Log         logx.Logger
}

// Engine is safe for concurrent use. Config can be swapped at runtime
// with Apply and SetMailer; a Send in progress keeps the snapshot it
// started with.
type Engine struct {
	mu      sync.RWMutex
	opts    Options
	limiter *rate.Limiter

	clock   clockwork.Clock
	history HistoryStore
	bus     eventbus.Bus
	log     logx.Logger
}

func New(o Options) *Engine {
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	e := &Engine{
		clock:   o.Clock,
		history: o.History,
		bus:     o.Bus,
		log:     o.Log.With(logx.String("comp", "dispatch")),
	}
	e.applyLocked(o)
	return e
}

// Apply replaces retry policy, rate and send timeout.
func (e *Engine) Apply(policy RetryPolicy, ratePerSec float64, sendTimeout time.Duration) {
	e.mu.Lock()
	o := e.opts
	o.Policy, o.RatePerSec, o.SendTimeout = policy, ratePerSec, sendTimeout
	e.applyLocked(o)
	e.mu.Unlock()
}

// SetMailer swaps the delivery provider; nil leaves dispatch unconfigured.
func (e *Engine) SetMailer(m mailer.Mailer) {
	e.mu.Lock()
	e.opts.Mailer = m
	e.mu.Unlock()
}

// SetRenderer swaps the template set.
func (e *Engine) SetRenderer(r Renderer) {
	e.mu.Lock()
	e.opts.Renderer = r
	e.mu.Unlock()
}

func (e *Engine) applyLocked(o Options) {
	if o.Policy.MaxAttempts <= 0 {
		o.Policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if o.Policy.Backoff == nil {
		o.Policy.Backoff = DefaultRetryPolicy().Backoff
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	e.opts = o
	e.limiter = nil
	if o.RatePerSec > 0 {
		burst := int(o.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(o.RatePerSec), burst)
	}
}

type snapshot struct {
	renderer Renderer
	mailer   mailer.Mailer
	presence Presence
	policy   RetryPolicy
	timeout  time.Duration
	limiter  *rate.Limiter
}

func (e *Engine) snapshot() snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return snapshot{
		renderer: e.opts.Renderer,
		mailer:   e.opts.Mailer,
		presence: e.opts.Presence,
		policy:   e.opts.Policy,
		timeout:  e.opts.SendTimeout,
		limiter:  e.limiter,
	}
}

// Ready returns ErrNotConfigured when no mailer or renderer is set.
func (e *Engine) Ready() error {
	s := e.snapshot()
	if s.mailer == nil || s.renderer == nil {
		return ErrNotConfigured
	}
	return nil
}

// Send renders p and delivers it, retrying per policy. Delivery failures
// are reported in the Outcome, not as an error.
//
// When dispatch is not configured, or the mailer reports ErrNotConfigured
// on the first attempt, Send returns ErrNotConfigured with a zero Outcome
// and records nothing. A mailer that turns unconfigured after a failed
// attempt ends the call as failed: the record is written and
// ErrNotConfigured is returned alongside the Outcome.
func (e *Engine) Send(ctx context.Context, p render.Payload) (Outcome, error) {
	s := e.snapshot()
	if s.mailer == nil || s.renderer == nil {
		return Outcome{}, ErrNotConfigured
	}

	out := Outcome{Status: model.StatusFailed, MessageID: uuid.NewString()}
	var cfgErr error
	msg, err := s.renderer.Render(p)
	if err != nil {
		out.Err = fmt.Errorf("render: %w", err)
	} else {
		msg.MessageID = out.MessageID + "@remindd"
		out, cfgErr = e.deliver(ctx, s, msg, out)
		if cfgErr != nil && out.Attempts == 1 {
			return Outcome{}, cfgErr
		}
	}

	e.record(ctx, p, out)
	if out.Sent() && s.presence != nil {
		e.notifyPresence(ctx, s.presence, model.Notice{
			Recipient: p.Recipient,
			Category:  p.Category,
			EventID:   p.EventID(),
			Subject:   msg.Subject,
			SentAt:    e.clock.Now(),
		})
	}
	e.publish(p, out)
	return out, cfgErr
}

func (e *Engine) deliver(ctx context.Context, s snapshot, msg mailer.Message, out Outcome) (Outcome, error) {
	maxAttempts := s.policy.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				out.Err = &TransportError{Attempt: attempt, Err: err}
				break
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.mailer.Send(callCtx, msg)
		cancel()
		if err == nil {
			out.Status = model.StatusSent
			out.Err = nil
			return out, nil
		}
		out.Err = &TransportError{Attempt: attempt, Err: err}
		if errors.Is(err, ErrNotConfigured) {
			out.Status = model.StatusFailed
			return out, err
		}
		e.log.Debug("send attempt failed",
			logx.String("to", msg.To),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
			logx.Err(err),
		)
		if mailer.IsPermanent(err) || attempt >= maxAttempts {
			break
		}
		if werr := e.wait(ctx, s.policy.Delay(attempt)); werr != nil {
			break
		}
	}
	out.Status = model.StatusFailed
	return out, nil
}

func (e *Engine) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := e.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) record(ctx context.Context, p render.Payload, out Outcome) {
	if e.history == nil {
		return
	}
	rec := model.HistoryRecord{
		EventID:        p.EventID(),
		RecipientEmail: p.Recipient,
		Category:       p.Category,
		Status:         out.Status,
		Timestamp:      e.clock.Now().UTC(),
		Attempts:       out.Attempts,
		MessageID:      out.MessageID,
	}
	if out.Err != nil {
		rec.ErrorDetail = out.Err.Error()
	}
	// The outcome stands even if the record is lost.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.history.Append(hctx, rec); err != nil {
		e.log.Error("history append failed",
			logx.String("to", p.Recipient),
			logx.String("category", string(p.Category)),
			logx.String("status", string(out.Status)),
			logx.Err(err),
		)
	}
}

func (e *Engine) notifyPresence(ctx context.Context, pr Presence, n model.Notice) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("presence notice panicked", logx.String("to", n.Recipient), logx.Any("panic", r))
		}
	}()
	if !pr.IsConnected(n.Recipient) {
		return
	}
	if err := pr.Notify(ctx, n.Recipient, n); err != nil {
		e.log.Debug("presence notice failed", logx.String("to", n.Recipient), logx.Err(err))
	}
}

func (e *Engine) publish(p render.Payload, out Outcome) {
	if e.bus == nil {
		return
	}
	now := e.clock.Now()
	ev := Event{
		Category:  p.Category,
		Recipient: p.Recipient,
		EventID:   p.EventID(),
		Attempts:  out.Attempts,
		MessageID: out.MessageID,
		At:        now,
	}
	typ := EventSent
	if !out.Sent() {
		typ = EventFailed
		if out.Err != nil {
			ev.Error = out.Err.Error()
		}
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}
