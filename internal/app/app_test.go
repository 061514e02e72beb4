package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"remindd/internal/config"
	"remindd/internal/eventbus"
	"remindd/internal/model"
	"remindd/internal/presence"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	body = strings.ReplaceAll(body, "$DIR", filepath.ToSlash(dir))
	p := filepath.Join(dir, "remindd.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const logMailerConfig = `
logging:
  level: error
scheduler:
  timezone: UTC
mailer:
  driver: log
storage:
  driver: file
  path: $DIR/store
`

func TestOneShotCheckEndToEnd(t *testing.T) {
	a, err := New(writeConfig(t, logMailerConfig))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background(), StopOneShot)

	ctx := context.Background()
	ev := model.ScheduledEvent{
		EventDefinition: model.EventDefinition{
			ID:         "dentist",
			Title:      "Dentist",
			Anchor:     model.Anchor{At: time.Now().Add(time.Hour), Zone: "UTC"},
			Recurrence: model.Recurrence{Kind: model.OneOff},
			Active:     true,
		},
		Recipients: []model.RecipientLink{{Email: "a@example.com", LeadTimeHours: 1}},
	}
	if err := a.Store().SaveEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	sum := a.Scheduler().CheckNow(ctx)
	if sum.Due != 1 || sum.Sent != 1 || sum.Aborted != "" {
		t.Fatalf("unexpected summary %+v", sum)
	}
	recs, err := a.Store().ListHistory(ctx, storage.HistoryQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Status != model.StatusSent || recs[0].EventID != "dentist" {
		t.Fatalf("unexpected history %+v", recs)
	}
}

func TestCheckAbortsWithoutMailer(t *testing.T) {
	a, err := New(writeConfig(t, `
logging: { level: error }
storage: { driver: file, path: $DIR/store }
`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background(), StopOneShot)

	sum := a.Scheduler().CheckNow(context.Background())
	if sum.Aborted == "" {
		t.Fatalf("expected abort, got %+v", sum)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"schedule": "scheduler: { reminders: 'every:abc' }\n",
		"zone":     "scheduler: { timezone: Mars/Base }\n",
		"backoff":  "dispatch: { backoff: [soon] }\n",
		"unknown":  "colour: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(writeConfig(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMapSchedulerDefaults(t *testing.T) {
	got, err := mapSchedulerConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Location != time.UTC || got.PollWindow != 5*time.Minute || got.Reminders != "every:5m" || got.WeeklyDigest != "weekly mon 07:00" {
		t.Fatalf("unexpected defaults %+v", got)
	}
	off, err := mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{DailyDigest: "off"}})
	if err != nil || off.DailyDigest != "off" {
		t.Fatalf("explicit off lost: %+v %v", off, err)
	}
}

func TestMapDispatchConfig(t *testing.T) {
	ds, err := mapDispatchConfig(&config.Config{Dispatch: config.DispatchConfig{MaxAttempts: 2, Backoff: []string{"2s"}, RatePerSec: 0.5}})
	if err != nil {
		t.Fatal(err)
	}
	if ds.policy.MaxAttempts != 2 || ds.policy.Delay(3) != 2*time.Second || ds.rate != 0.5 || ds.timeout != 30*time.Second {
		t.Fatalf("unexpected settings %+v", ds)
	}
}

func TestMapMailer(t *testing.T) {
	m, err := mapMailer(&config.Config{}, logx.Nop())
	if m != nil || err != nil {
		t.Fatalf("missing section should be unconfigured, got %v %v", m, err)
	}
	m, err = mapMailer(&config.Config{Mailer: &config.MailerConfig{Driver: "log"}}, logx.Nop())
	if m == nil || err != nil {
		t.Fatalf("log driver: %v %v", m, err)
	}
	if _, err := mapMailer(&config.Config{Mailer: &config.MailerConfig{Driver: "smtp"}}, logx.Nop()); err == nil {
		t.Fatal("smtp without host should fail")
	}
}

func TestLogBusEventsReportsDrops(t *testing.T) {
	var buf bytes.Buffer
	a := &App{bus: eventbus.New(), log: logx.New(&buf, "debug")}
	events, unsub := a.bus.Subscribe(8)
	_, unsubSlow := a.bus.Subscribe(1)
	defer unsubSlow()

	for i := 0; i < 3; i++ {
		a.bus.Publish(eventbus.Event{Type: "dispatch.sent"})
	}
	unsub()
	a.logBusEvents(context.Background(), events)

	out := buf.String()
	if strings.Count(out, "eventbus subscribers dropped events") != 1 || !strings.Contains(out, `"dropped":2`) {
		t.Fatalf("drops not reported once:\n%s", out)
	}
}

func TestEmbeddingHostReceivesNotices(t *testing.T) {
	a, err := New(writeConfig(t, logMailerConfig))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background(), StopOneShot)

	notices, unsub := a.Bus().Subscribe(8)
	defer unsub()
	n := model.Notice{Recipient: "A@example.com", Category: model.CategoryReminder}

	if a.Presence().Deliver(n) {
		t.Fatal("delivered without a session")
	}
	release := a.Presence().Connect("a@example.com")
	if !a.Presence().Deliver(n) {
		t.Fatal("notice not delivered to the registered session")
	}
	select {
	case e := <-notices:
		if e.Type != presence.EventNotice || e.Data.(model.Notice).Recipient != "A@example.com" {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no notice on the bus")
	}

	release()
	if a.Presence().Deliver(n) {
		t.Fatal("delivered after release")
	}
}
