package amqp

import (
	"errors"
	"testing"

	"remindd/internal/model"
)

func TestRoutingKey(t *testing.T) {
	cases := []struct {
		cat  model.Category
		want string
	}{
		{model.CategoryReminder, "presence.notice.reminder"},
		{model.CategoryWeeklyDigest, "presence.notice.weekly_digest"},
		{"", "presence.notice.unknown"},
	}
	for _, tc := range cases {
		if got := RoutingKey(model.Notice{Category: tc.cat}); got != tc.want {
			t.Fatalf("RoutingKey(%q) = %q, want %q", tc.cat, got, tc.want)
		}
	}
}

func TestDecode(t *testing.T) {
	n, err := decode([]byte(`{"recipient":"a@example.com","category":"reminder","event_id":"e1","subject":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if n.Recipient != "a@example.com" || n.EventID != "e1" || n.Category != model.CategoryReminder {
		t.Fatalf("unexpected notice %+v", n)
	}

	for _, body := range []string{`not json`, `{"category":"reminder"}`} {
		if _, err := decode([]byte(body)); !errors.Is(err, ErrPoison) {
			t.Fatalf("decode(%q) = %v, want ErrPoison", body, err)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{URL: "amqp://localhost"}.withDefaults()
	if c.Exchange != "remindd.presence" || c.DialAttempts != 5 || c.DialDelay <= 0 {
		t.Fatalf("unexpected defaults %+v", c)
	}
}
