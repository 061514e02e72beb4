package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"remindd/internal/eventbus"
	"remindd/internal/mailer"
	"remindd/internal/model"
	"remindd/internal/render"
)

type fakeRenderer struct{ err error }

func (r fakeRenderer) Render(p render.Payload) (mailer.Message, error) {
	if r.err != nil {
		return mailer.Message{}, r.err
	}
	return mailer.Message{To: p.Recipient, Subject: "subject", Text: "body"}, nil
}

// scriptedMailer fails with errs[i] on call i, then succeeds.
type scriptedMailer struct {
	mu    sync.Mutex
	errs  []error
	calls int
	ids   []string
}

func (m *scriptedMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	m.ids = append(m.ids, msg.MessageID)
	if i < len(m.errs) {
		return m.errs[i]
	}
	return nil
}

func (m *scriptedMailer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type memHistory struct {
	mu   sync.Mutex
	recs []model.HistoryRecord
	err  error
}

func (h *memHistory) Append(ctx context.Context, rec model.HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.recs = append(h.recs, rec)
	return nil
}

func (h *memHistory) Records() []model.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.HistoryRecord(nil), h.recs...)
}

type fakePresence struct {
	connected bool
	err       error
	panics    bool
	notices   []model.Notice
}

func (p *fakePresence) IsConnected(string) bool { return p.connected }
func (p *fakePresence) Notify(ctx context.Context, user string, n model.Notice) error {
	if p.panics {
		panic("socket closed")
	}
	p.notices = append(p.notices, n)
	return p.err
}

var errBoom = errors.New("connection reset")

func payload() render.Payload {
	ev := &model.EventDefinition{ID: "ev1", Title: "Event"}
	return render.Payload{Category: model.CategoryReminder, Recipient: "a@example.com", Event: ev}
}

func newEngine(m mailer.Mailer, h HistoryStore, pr Presence, policy RetryPolicy, clk clockwork.Clock) *Engine {
	return New(Options{
		Renderer: fakeRenderer{},
		Mailer:   m,
		History:  h,
		Presence: pr,
		Policy:   policy,
		Clock:    clk,
	})
}

var noBackoff = RetryPolicy{MaxAttempts: 4, Backoff: []time.Duration{}}

func TestSendSucceedsAfterRetries(t *testing.T) {
	m := &scriptedMailer{errs: []error{errBoom, errBoom}}
	h := &memHistory{}
	pr := &fakePresence{connected: true}
	e := newEngine(m, h, pr, noBackoff, clockwork.NewFakeClock())

	out, err := e.Send(context.Background(), payload())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !out.Sent() || out.Attempts != 3 {
		t.Fatalf("outcome %+v", out)
	}
	recs := h.Records()
	if len(recs) != 1 || recs[0].Status != model.StatusSent || recs[0].EventID != "ev1" || recs[0].ErrorDetail != "" {
		t.Fatalf("history %+v", recs)
	}
	if len(pr.notices) != 1 || pr.notices[0].Recipient != "a@example.com" {
		t.Fatalf("presence notices %+v", pr.notices)
	}
	// All attempts carry the same message id.
	if m.ids[0] == "" || m.ids[0] != m.ids[2] {
		t.Fatalf("message ids %v", m.ids)
	}
}

func TestSendExhaustsAttempts(t *testing.T) {
	m := &scriptedMailer{errs: []error{errBoom, errBoom, errBoom, errBoom, errBoom}}
	h := &memHistory{}
	pr := &fakePresence{connected: true}
	e := newEngine(m, h, pr, noBackoff, clockwork.NewFakeClock())

	out, err := e.Send(context.Background(), payload())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out.Sent() || out.Attempts != 4 || m.Calls() != 4 {
		t.Fatalf("outcome %+v calls %d", out, m.Calls())
	}
	var te *TransportError
	if !errors.As(out.Err, &te) || te.Attempt != 4 || !errors.Is(out.Err, errBoom) {
		t.Fatalf("expected transport error from last attempt, got %v", out.Err)
	}
	recs := h.Records()
	if len(recs) != 1 || recs[0].Status != model.StatusFailed || recs[0].ErrorDetail == "" {
		t.Fatalf("history %+v", recs)
	}
	if len(pr.notices) != 0 {
		t.Fatalf("presence notified on failure")
	}
}

func TestSendPermanentErrorStopsRetrying(t *testing.T) {
	m := &scriptedMailer{errs: []error{mailer.Permanent(errors.New("550 no such user")), errBoom}}
	h := &memHistory{}
	e := newEngine(m, h, nil, noBackoff, clockwork.NewFakeClock())

	out, _ := e.Send(context.Background(), payload())
	if out.Sent() || out.Attempts != 1 || m.Calls() != 1 {
		t.Fatalf("outcome %+v calls %d", out, m.Calls())
	}
}

func TestSendWaitsBackoffBetweenAttempts(t *testing.T) {
	fc := clockwork.NewFakeClock()
	m := &scriptedMailer{errs: []error{errBoom, errBoom}}
	h := &memHistory{}
	policy := RetryPolicy{MaxAttempts: 4, Backoff: []time.Duration{time.Second, 5 * time.Second}}
	e := newEngine(m, h, nil, policy, fc)

	done := make(chan Outcome, 1)
	go func() {
		out, _ := e.Send(context.Background(), payload())
		done <- out
	}()

	fc.BlockUntil(1)
	if c := m.Calls(); c != 1 {
		t.Fatalf("calls before first backoff = %d", c)
	}
	fc.Advance(999 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("second attempt started before backoff elapsed")
	case <-time.After(20 * time.Millisecond):
	}
	fc.Advance(time.Millisecond)

	fc.BlockUntil(1)
	if c := m.Calls(); c != 2 {
		t.Fatalf("calls before second backoff = %d", c)
	}
	fc.Advance(5 * time.Second)

	select {
	case out := <-done:
		if !out.Sent() || out.Attempts != 3 {
			t.Fatalf("outcome %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Send did not finish")
	}
}

func TestSendCancelledDuringBackoff(t *testing.T) {
	fc := clockwork.NewFakeClock()
	m := &scriptedMailer{errs: []error{errBoom}}
	h := &memHistory{}
	e := newEngine(m, h, nil, DefaultRetryPolicy(), fc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		out, _ := e.Send(ctx, payload())
		done <- out
	}()
	fc.BlockUntil(1)
	cancel()

	select {
	case out := <-done:
		if out.Sent() || out.Attempts != 1 {
			t.Fatalf("outcome %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Send ignored cancellation")
	}
	if recs := h.Records(); len(recs) != 1 || recs[0].Status != model.StatusFailed {
		t.Fatalf("history %+v", recs)
	}
}

func TestSendPresenceFailureDoesNotChangeOutcome(t *testing.T) {
	for _, pr := range []*fakePresence{
		{connected: true, err: errors.New("gone")},
		{connected: true, panics: true},
		{connected: false},
	} {
		h := &memHistory{}
		e := newEngine(&scriptedMailer{}, h, pr, noBackoff, clockwork.NewFakeClock())
		out, err := e.Send(context.Background(), payload())
		if err != nil || !out.Sent() {
			t.Fatalf("outcome %+v err %v", out, err)
		}
		if recs := h.Records(); len(recs) != 1 || recs[0].Status != model.StatusSent {
			t.Fatalf("history %+v", recs)
		}
	}
}

func TestSendHistoryFailureDoesNotChangeOutcome(t *testing.T) {
	h := &memHistory{err: errors.New("disk full")}
	e := newEngine(&scriptedMailer{}, h, nil, noBackoff, clockwork.NewFakeClock())
	out, err := e.Send(context.Background(), payload())
	if err != nil || !out.Sent() {
		t.Fatalf("outcome %+v err %v", out, err)
	}
}

func TestSendRenderFailureIsRecorded(t *testing.T) {
	h := &memHistory{}
	m := &scriptedMailer{}
	e := New(Options{Renderer: fakeRenderer{err: errors.New("bad template")}, Mailer: m, History: h, Clock: clockwork.NewFakeClock()})
	out, err := e.Send(context.Background(), payload())
	if err != nil || out.Sent() || m.Calls() != 0 {
		t.Fatalf("outcome %+v err %v calls %d", out, err, m.Calls())
	}
	if recs := h.Records(); len(recs) != 1 || recs[0].Status != model.StatusFailed {
		t.Fatalf("history %+v", recs)
	}
}

func TestSendNotConfigured(t *testing.T) {
	h := &memHistory{}
	e := newEngine(nil, h, nil, noBackoff, clockwork.NewFakeClock())
	if err := e.Ready(); !IsConfiguration(err) {
		t.Fatalf("Ready: %v", err)
	}
	if _, err := e.Send(context.Background(), payload()); !IsConfiguration(err) {
		t.Fatalf("Send: %v", err)
	}
	if len(h.Records()) != 0 {
		t.Fatalf("configuration error must not be recorded")
	}

	e.SetMailer(&scriptedMailer{})
	if err := e.Ready(); err != nil {
		t.Fatalf("Ready after SetMailer: %v", err)
	}
}

func TestSendMailerTurnsUnconfigured(t *testing.T) {
	unconfigured := fmt.Errorf("relay: %w", ErrNotConfigured)

	t.Run("after a failed attempt", func(t *testing.T) {
		m := &scriptedMailer{errs: []error{errBoom, unconfigured}}
		h := &memHistory{}
		e := newEngine(m, h, nil, noBackoff, clockwork.NewFakeClock())

		out, err := e.Send(context.Background(), payload())
		if !IsConfiguration(err) {
			t.Fatalf("expected configuration error, got %v", err)
		}
		if m.Calls() != 2 || out.Status != model.StatusFailed || out.Attempts != 2 {
			t.Fatalf("unexpected outcome %+v after %d calls", out, m.Calls())
		}
		recs := h.Records()
		if len(recs) != 1 || recs[0].Status != model.StatusFailed || recs[0].Attempts != 2 {
			t.Fatalf("expected one failed record, got %+v", recs)
		}
	})

	t.Run("on the first attempt", func(t *testing.T) {
		m := &scriptedMailer{errs: []error{unconfigured}}
		h := &memHistory{}
		e := newEngine(m, h, nil, noBackoff, clockwork.NewFakeClock())

		out, err := e.Send(context.Background(), payload())
		if !IsConfiguration(err) || out.Status != "" {
			t.Fatalf("unexpected %+v, %v", out, err)
		}
		if m.Calls() != 1 || len(h.Records()) != 0 {
			t.Fatalf("nothing should be recorded, calls=%d records=%d", m.Calls(), len(h.Records()))
		}
	})
}

func TestSendPublishesBusEvents(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	e := New(Options{
		Renderer: fakeRenderer{},
		Mailer:   &scriptedMailer{errs: []error{mailer.Permanent(errBoom)}},
		History:  &memHistory{},
		Clock:    clockwork.NewFakeClock(),
		Bus:      bus,
	})
	_, _ = e.Send(context.Background(), payload())
	_, _ = e.Send(context.Background(), payload())

	var types []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing bus event")
		}
	}
	if types[0] != EventFailed || types[1] != EventSent {
		t.Fatalf("bus events %v", types)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{time.Second, 5 * time.Second, 15 * time.Second, 60 * time.Second, 60 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Fatalf("Delay(%d)=%v want %v", i+1, got, w)
		}
	}
}
