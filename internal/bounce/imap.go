package bounce

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailfinder/internal/config"
)

// Mailbox is a read-only view of one folder addressed by UID.
type Mailbox interface {
	SearchSince(ctx context.Context, since time.Time) ([]uint32, error)
	Fetch(ctx context.Context, uid uint32) ([]byte, error)
	Close() error
}

// IMAPMailbox is a Mailbox backed by an IMAP session over TLS.
type IMAPMailbox struct {
	c *client.Client
}

// Dial connects, logs in and selects the folder read-only.
func Dial(cfg config.IMAPConfig) (*IMAPMailbox, error) {
	if cfg.User == "" || cfg.Password == "" {
		return nil, eris.New("IMAP credentials not configured.")
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c, err := client.DialTLS(addr, &tls.Config{ServerName: cfg.Host}) //nolint:gosec
	if err != nil {
		return nil, eris.Wrapf(err, "imap: connect %s", addr)
	}
	if err := c.Login(cfg.User, cfg.Password); err != nil {
		c.Logout() //nolint:errcheck
		return nil, eris.Wrap(err, "imap: login")
	}
	if _, err := c.Select(cfg.Folder, true); err != nil {
		c.Logout() //nolint:errcheck
		return nil, eris.Wrapf(err, "imap: select %s", cfg.Folder)
	}
	return &IMAPMailbox{c: c}, nil
}

// SearchSince returns the UIDs of messages received on or after since.
func (m *IMAPMailbox) SearchSince(_ context.Context, since time.Time) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, eris.Wrap(err, "imap: search")
	}
	return uids, nil
}

// Fetch returns the raw message without setting \Seen.
func (m *IMAPMailbox) Fetch(_ context.Context, uid uint32) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var raw []byte
	for msg := range messages {
		if r := msg.GetBody(section); r != nil {
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, r); err != nil {
				return nil, eris.Wrapf(err, "imap: read uid %d", uid)
			}
			raw = buf.Bytes()
		}
	}
	if err := <-done; err != nil {
		return nil, eris.Wrapf(err, "imap: fetch uid %d", uid)
	}
	if raw == nil {
		return nil, eris.Errorf("imap: uid %d has no body", uid)
	}
	return raw, nil
}

// Close logs out.
func (m *IMAPMailbox) Close() error {
	return m.c.Logout()
}
