package notify

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/windturbine/errors"
)

func TestTemplates(t *testing.T) {
	tpl := Templates{DAGName: "windturbine", Recipient: "ops@example.com"}

	alert := tpl.Alert("run-1")
	assert.Equal(t, SubjectAlert, alert.Subject)
	assert.Equal(t, "ops@example.com", alert.To)
	assert.Contains(t, alert.HTML, "Temperature Above Limit")
	assert.Contains(t, alert.HTML, "<p>DAG: windturbine</p>")
	assert.Contains(t, alert.HTML, "run-1")

	normal := tpl.Normal("run-2")
	assert.Equal(t, SubjectNormal, normal.Subject)
	assert.Contains(t, normal.HTML, "run-2")
	assert.NotContains(t, normal.HTML, "Above Limit")

	failure := tpl.Failure("run-3", []string{"persist_row: <db down>"})
	assert.Equal(t, SubjectFailure, failure.Subject)
	assert.Contains(t, failure.HTML, "persist_row: &lt;db down&gt;")
}

func TestOutbox(t *testing.T) {
	box := NewOutbox()
	ctx := context.Background()
	tpl := Templates{DAGName: "d", Recipient: "r"}

	require.NoError(t, box.Send(ctx, tpl.Alert("a")))
	require.NoError(t, box.Send(ctx, tpl.Normal("b")))
	assert.Equal(t, 2, box.Count(""))
	assert.Equal(t, 1, box.Count(SubjectAlert))

	box.FailWith(func(Message) error { return errors.New("mailbox full") })
	err := box.Send(ctx, tpl.Alert("c"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDelivery))
	assert.Len(t, box.Sent(), 2)
}

func TestThrottle(t *testing.T) {
	box := NewOutbox()
	assert.Same(t, box, NewThrottle(box, 0).(*Outbox))

	throttled := NewThrottle(box, 60)
	ctx := context.Background()
	require.NoError(t, throttled.Send(ctx, Message{Subject: "first"}))

	// The second send needs a token a second from now
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := throttled.Send(short, Message{Subject: "second"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDelivery))
	assert.Equal(t, 1, box.Count(""))
}

// fakeSMTP accepts one session at a time and records DATA payloads
type fakeSMTP struct {
	ln     net.Listener
	reject string // command prefix answered with 550

	mu    sync.Mutex
	data  []string
	rcpts []string
}

func newFakeSMTP(t *testing.T, reject string) *fakeSMTP {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeSMTP{ln: ln, reject: reject}
	t.Cleanup(func() { ln.Close() })
	go f.serve()
	return f
}

func (f *fakeSMTP) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeSMTP) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.session(conn)
	}
}

func (f *fakeSMTP) session(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(s string) { conn.Write([]byte(s + "\r\n")) }

	reply("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(cmd)
		if f.reject != "" && strings.HasPrefix(upper, f.reject) {
			reply("550 rejected")
			continue
		}
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250-fake")
			reply("250 8BITMIME")
		case strings.HasPrefix(upper, "MAIL FROM"):
			reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO"):
			f.mu.Lock()
			f.rcpts = append(f.rcpts, cmd)
			f.mu.Unlock()
			reply("250 OK")
		case upper == "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			f.mu.Lock()
			f.data = append(f.data, body.String())
			f.mu.Unlock()
			reply("250 queued")
		case upper == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 unknown")
		}
	}
}

func (f *fakeSMTP) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.data...)
}

func (f *fakeSMTP) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rcpts...)
}

func TestSMTPSender_Send(t *testing.T) {
	server := newFakeSMTP(t, "")
	sender := &SMTPSender{
		Host: "127.0.0.1",
		Port: server.port(),
		From: "windturbine@localhost",
		Log:  zaptest.NewLogger(t).Sugar(),
	}

	msg := Templates{DAGName: "windturbine", Recipient: "ops@example.com"}.Alert("run-7")
	require.NoError(t, sender.Send(context.Background(), msg))

	got := server.messages()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "Subject: "+SubjectAlert)
	assert.Contains(t, got[0], "To: ops@example.com")
	assert.Contains(t, got[0], "Content-Type: text/html")
	assert.Contains(t, got[0], "run-7")
	require.Len(t, server.recipients(), 1)
	assert.Contains(t, server.recipients()[0], "ops@example.com")
}

func TestSMTPSender_Rejected(t *testing.T) {
	server := newFakeSMTP(t, "RCPT TO")
	sender := &SMTPSender{Host: "127.0.0.1", Port: server.port(), From: "a@b"}

	err := sender.Send(context.Background(), Message{To: "nobody@example.com", Subject: "s"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDelivery))
	assert.Equal(t, errors.KindDelivery, errors.KindOf(err))
	assert.Empty(t, server.messages())
}

func TestSMTPSender_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	sender := &SMTPSender{Host: "127.0.0.1", Port: port, From: "a@b", DialTimeout: time.Second}
	err = sender.Send(context.Background(), Message{To: "x@y", Subject: "s"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDelivery))
	assert.Contains(t, err.Error(), strconv.Itoa(port))
}

func TestSMTPSender_NoRecipient(t *testing.T) {
	sender := &SMTPSender{Host: "127.0.0.1", Port: 1}
	err := sender.Send(context.Background(), Message{Subject: "s"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDelivery))
}
