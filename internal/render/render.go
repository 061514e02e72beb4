// Package render turns dispatch payloads into mail messages using
// text/template and html/template sets.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"remindd/internal/digest"
	"remindd/internal/mailer"
	"remindd/internal/model"
)

//go:embed templates/*.tmpl
var builtin embed.FS

const whenLayout = "Mon, 02 Jan 2006 15:04 MST"

var ErrUnknownCategory = errors.New("render: unknown category")

// Payload is everything needed to render one message.
type Payload struct {
	Category      model.Category
	Recipient     string
	Event         *model.EventDefinition
	Occurrence    time.Time
	LeadTimeHours int
	Digest        *digest.Digest
}

// EventID is empty for digests.
func (p Payload) EventID() string {
	if p.Event == nil {
		return ""
	}
	return p.Event.ID
}

type set struct {
	text *template.Template
	html *htmltemplate.Template
}

// Templates renders reminders and digests. Safe for concurrent use.
type Templates struct {
	zone     *time.Location
	reminder set
	digest   set
}

// New loads the built-in templates; files in dir (reminder.txt.tmpl,
// reminder.html.tmpl, digest.txt.tmpl, digest.html.tmpl) override them.
// zone is the location occurrence times are shown in.
func New(dir string, zone *time.Location) (*Templates, error) {
	if zone == nil {
		zone = time.UTC
	}
	var src fs.FS = builtin
	prefix := "templates/"
	if strings.TrimSpace(dir) != "" {
		src = overlay{dir: dir, base: builtin}
	}

	t := &Templates{zone: zone}
	var err error
	if t.reminder, err = load(src, prefix+"reminder"); err != nil {
		return nil, err
	}
	if t.digest, err = load(src, prefix+"digest"); err != nil {
		return nil, err
	}
	return t, nil
}

func load(src fs.FS, base string) (set, error) {
	txt, err := template.ParseFS(src, base+".txt.tmpl")
	if err != nil {
		return set{}, fmt.Errorf("render: parse %s text: %w", base, err)
	}
	html, err := htmltemplate.ParseFS(src, base+".html.tmpl")
	if err != nil {
		return set{}, fmt.Errorf("render: parse %s html: %w", base, err)
	}
	return set{text: txt, html: html}, nil
}

// overlay reads a file from dir when present, otherwise from base.
type overlay struct {
	dir  string
	base fs.FS
}

func (o overlay) Open(name string) (fs.File, error) {
	if f, err := os.Open(filepath.Join(o.dir, filepath.Base(name))); err == nil {
		return f, nil
	}
	return o.base.Open(name)
}

type reminderView struct {
	Title       string
	Description string
	When        string
	LeadText    string
	Recurrence  string
}

type digestItem struct {
	When  string
	Title string
}

type digestView struct {
	Kind        string
	LookoutDays int
	Items       []digestItem
}

// Render builds the message for p. The message has no MessageID yet.
func (t *Templates) Render(p Payload) (mailer.Message, error) {
	msg := mailer.Message{To: p.Recipient}
	switch p.Category {
	case model.CategoryReminder, model.CategoryTest:
		if p.Event == nil {
			return msg, fmt.Errorf("render: reminder without event")
		}
		v := reminderView{
			Title:       p.Event.Title,
			Description: p.Event.Description,
			When:        p.Occurrence.In(t.zone).Format(whenLayout),
			LeadText:    leadText(p.LeadTimeHours),
		}
		if p.Event.Recurrence.Kind != model.OneOff {
			v.Recurrence = p.Event.Recurrence.String()
		}
		return t.reminder.execute(msg, v)

	case model.CategoryDailyDigest, model.CategoryWeeklyDigest:
		if p.Digest == nil {
			return msg, fmt.Errorf("render: digest payload without digest")
		}
		v := digestView{Kind: string(p.Digest.Kind), LookoutDays: p.Digest.LookoutDays}
		for _, o := range p.Digest.Occurrences {
			v.Items = append(v.Items, digestItem{When: o.Instant.In(t.zone).Format(whenLayout), Title: o.Title})
		}
		out, err := t.digest.execute(msg, v)
		if err != nil {
			return out, err
		}
		out.Attachments = append(out.Attachments, mailer.Attachment{
			Name:        "upcoming.ics",
			ContentType: "text/calendar",
			Data:        []byte(digest.Calendar(*p.Digest)),
		})
		return out, nil
	}
	return msg, fmt.Errorf("%w %q", ErrUnknownCategory, p.Category)
}

func (s set) execute(msg mailer.Message, v any) (mailer.Message, error) {
	var b bytes.Buffer
	if err := s.text.ExecuteTemplate(&b, "subject", v); err != nil {
		return msg, fmt.Errorf("render subject: %w", err)
	}
	msg.Subject = strings.TrimSpace(b.String())

	b.Reset()
	if err := s.text.ExecuteTemplate(&b, "text", v); err != nil {
		return msg, fmt.Errorf("render text: %w", err)
	}
	msg.Text = b.String()

	b.Reset()
	if err := s.html.ExecuteTemplate(&b, "html", v); err != nil {
		return msg, fmt.Errorf("render html: %w", err)
	}
	msg.HTML = b.String()
	return msg, nil
}

func leadText(hours int) string {
	switch {
	case hours <= 0:
		return "due now"
	case hours%24 == 0 && hours >= 48:
		return fmt.Sprintf("%d days", hours/24)
	case hours == 24:
		return "1 day"
	case hours == 1:
		return "1 hour"
	default:
		return fmt.Sprintf("%d hours", hours)
	}
}
