package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/kozaktomas/gate-attendance/internal/config"
)

const (
	timeLayout = "15:04"
	dateLayout = "02.01.2006"
)

type compiledTemplate struct {
	subject *template.Template
	body    *template.Template
}

// Composer renders guardian messages from the configured templates.
type Composer struct {
	templates map[string]compiledTemplate // key: intent/channel
	loc       *time.Location
}

// templateData is exposed to message templates.
type templateData struct {
	Student  string
	Guardian string
	Time     string
	Date     string
	Status   string
}

// NewComposer parses every configured template. Times are rendered in loc.
func NewComposer(messages config.MessagesConfig, loc *time.Location) (*Composer, error) {
	if loc == nil {
		loc = time.Local
	}
	c := &Composer{templates: make(map[string]compiledTemplate), loc: loc}
	for intent, byChannel := range messages.Templates {
		for channel, mt := range byChannel {
			key := intent + "/" + channel
			var ct compiledTemplate
			var err error
			if mt.Subject != "" {
				if ct.subject, err = template.New(key + "/subject").Parse(mt.Subject); err != nil {
					return nil, fmt.Errorf("parse %s subject: %w", key, err)
				}
			}
			if ct.body, err = template.New(key + "/body").Parse(mt.Body); err != nil {
				return nil, fmt.Errorf("parse %s body: %w", key, err)
			}
			c.templates[key] = ct
		}
	}
	return c, nil
}

// Compose renders the message for one guardian on one channel.
func (c *Composer) Compose(ev Event, guardianName string, channel Channel) (Message, error) {
	ct, ok := c.templates[ev.Intent+"/"+string(channel)]
	if !ok {
		return Message{}, fmt.Errorf("no %s template for %s", channel, ev.Intent)
	}

	at := ev.At.In(c.loc)
	data := templateData{
		Student:  DisplayName(ev.StudentName),
		Guardian: DisplayName(guardianName),
		Time:     at.Format(timeLayout),
		Date:     at.Format(dateLayout),
		Status:   strings.ReplaceAll(strings.ToLower(ev.Status), "_", " "),
	}
	if data.Student == "" {
		data.Student = ev.StudentID
	}
	if data.Guardian == "" {
		data.Guardian = "guardian"
	}

	var msg Message
	if ct.subject != nil {
		var buf bytes.Buffer
		if err := ct.subject.Execute(&buf, data); err != nil {
			return Message{}, fmt.Errorf("render subject: %w", err)
		}
		msg.Subject = strings.TrimSpace(buf.String())
	}
	var buf bytes.Buffer
	if err := ct.body.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	msg.Body = strings.TrimSpace(buf.String())

	if channel == ChannelSMS {
		msg.Body = smsText(msg.Body)
	}
	return msg, nil
}
