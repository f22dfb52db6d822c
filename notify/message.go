// Package notify builds and delivers the pipeline's notification messages.
package notify

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// Subjects of the fixed templates
const (
	SubjectAlert   = "[Alert] High Temperature Detected"
	SubjectNormal  = "[Info] Normal Temperature"
	SubjectFailure = "[Failure] Pipeline Run Failed"
)

// Message is one outbound HTML mail
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Templates renders the fixed messages for one DAG and recipient
type Templates struct {
	DAGName   string
	Recipient string
}

// Alert is sent when the temperature is at or above the threshold
func (t Templates) Alert(runID string) Message {
	return Message{
		To:      t.Recipient,
		Subject: SubjectAlert,
		HTML: "<h3>⚠ Alert: Temperature Above Limit!</h3>\n" +
			t.footer(runID),
	}
}

// Normal is sent when the temperature is below the threshold
func (t Templates) Normal(runID string) Message {
	return Message{
		To:      t.Recipient,
		Subject: SubjectNormal,
		HTML: "<h3>✅ Temperature within normal parameters.</h3>\n" +
			t.footer(runID),
	}
}

// Failure summarises a failed run. failures are "step: reason" lines.
func (t Templates) Failure(runID string, failures []string) Message {
	var b strings.Builder
	b.WriteString("<h3>❌ Pipeline run failed.</h3>\n")
	if len(failures) > 0 {
		b.WriteString("<ul>\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(f))
		}
		b.WriteString("</ul>\n")
	}
	b.WriteString(t.footer(runID))
	return Message{To: t.Recipient, Subject: SubjectFailure, HTML: b.String()}
}

func (t Templates) footer(runID string) string {
	return fmt.Sprintf("<p>DAG: %s</p>\n<p>Run: %s</p>",
		html.EscapeString(t.DAGName), html.EscapeString(runID))
}

// rfc5322 renders msg with headers for SMTP DATA
func (m Message) rfc5322(from string, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.HTML, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
