package verify

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailfinder/internal/mx"
)

// fakeSMTP answers RCPT TO with the reply configured for the address.
func fakeSMTP(t *testing.T, replies map[string]string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() }) //nolint:errcheck

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSMTP(conn, replies)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func serveSMTP(conn net.Conn, replies map[string]string) {
	defer conn.Close() //nolint:errcheck
	r := bufio.NewReader(conn)
	write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	write("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			write("250-fake")
			write("250 8BITMIME")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			write("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO"):
			addr := strings.ToLower(strings.Trim(strings.TrimPrefix(cmd, "RCPT TO:"), "<> "))
			reply, ok := replies[addr]
			if !ok {
				reply = "250 OK"
			}
			if reply == "hang" {
				time.Sleep(2 * time.Second)
				return
			}
			write(reply)
		case strings.HasPrefix(cmd, "QUIT"):
			write("221 bye")
			return
		default:
			write("502 unknown")
		}
	}
}

func newTestProber(port int) *Prober {
	p := NewProber(mx.Static{"acme.fr": {"127.0.0.1"}}, "mail.example.com", "check@example.com")
	p.Port = port
	p.Timeout = 500 * time.Millisecond
	return p
}

func TestProber_Outcomes(t *testing.T) {
	port := fakeSMTP(t, map[string]string{
		"nobody@acme.fr": "550 5.1.1 user unknown",
		"grey@acme.fr":   "451 4.7.1 try again later",
		"slow@acme.fr":   "hang",
		"relay@acme.fr":  "553 relaying denied",
		"jean.d@acme.fr": "250 2.1.5 OK",
	})
	p := newTestProber(port)
	ctx := context.Background()

	assert.Equal(t, Valid, p.Check(ctx, "jean.d@acme.fr"))
	assert.Equal(t, Invalid, p.Check(ctx, "nobody@acme.fr"))
	assert.Equal(t, Invalid, p.Check(ctx, "relay@acme.fr"))
	assert.Equal(t, Unknown, p.Check(ctx, "grey@acme.fr"))
	assert.Equal(t, Unknown, p.Check(ctx, "slow@acme.fr"))
}

func TestProber_NoMX(t *testing.T) {
	p := newTestProber(1)
	assert.Equal(t, Unknown, p.Check(context.Background(), "jean@nomx.fr"))
	assert.Equal(t, Unknown, p.Check(context.Background(), "not-an-address"))
}

func TestProber_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	assert.Equal(t, Unknown, newTestProber(port).Check(context.Background(), "jean@acme.fr"))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "valid", Valid.String())
	assert.Equal(t, "invalid", Invalid.String())
	assert.Equal(t, "unknown", Unknown.String())
}
