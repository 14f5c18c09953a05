package bounce

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/store"
)

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

var dsnInvalid = crlf(`From: Mail Delivery Subsystem <mailer-daemon@googlemail.com>
To: me@example.com
Subject: Delivery Status Notification (Failure)
MIME-Version: 1.0
Content-Type: multipart/report; report-type=delivery-status; boundary="XYZ"

--XYZ
Content-Type: text/plain; charset="utf-8"

Address not found. Your message wasn't delivered to jean.dupont@acme.fr.

--XYZ
Content-Type: message/delivery-status

Reporting-MTA: dns; googlemail.com

Final-Recipient: rfc822; Jean.Dupont@acme.fr
Action: failed
Status: 5.1.1
Diagnostic-Code: smtp; 550 5.1.1 The email account does not exist

--XYZ--
`)

var bounceTextOnly = crlf(`From: postmaster@acme.fr
To: me@example.com
Subject: Undeliverable: Bonjour
Content-Type: text/plain; charset="utf-8"

Delivery to postmaster@acme.fr failed for marie.curie@acme.fr
Remote server said: 552 5.2.2 mailbox full
`)

var ordinary = crlf(`From: Jean <jean@acme.fr>
To: me@example.com
Subject: Re: Bonjour
Content-Type: text/plain; charset="utf-8"

Merci pour votre message.
`)

var encodedSubject = crlf(`From: robot@bigmail.fr
To: me@example.com
Subject: =?utf-8?q?Message_non_remis?=
Content-Type: text/plain; charset="iso-8859-1"

Le message pour paul.martin@acme.fr n'a pas pu être remis.
`)

func TestParse_DeliveryStatus(t *testing.T) {
	info, err := Parse(strings.NewReader(dsnInvalid))
	require.NoError(t, err)
	assert.True(t, info.IsBounce)
	assert.Equal(t, "jean.dupont@acme.fr", info.Recipient)
	assert.Equal(t, "5.1.1", info.DiagCode)
	assert.Equal(t, "smtp; 550 5.1.1 The email account does not exist", info.RawDiag)
	assert.Equal(t, model.OutboxInvalid, info.Status())
}

func TestParse_BodyFallback(t *testing.T) {
	info, err := Parse(strings.NewReader(bounceTextOnly))
	require.NoError(t, err)
	assert.True(t, info.IsBounce)
	assert.Equal(t, "marie.curie@acme.fr", info.Recipient)
	assert.Equal(t, "5.2.2", info.DiagCode)
	assert.Empty(t, info.RawDiag)
	assert.Equal(t, model.OutboxBounced, info.Status())
}

func TestParse_EncodedSubject(t *testing.T) {
	info, err := Parse(strings.NewReader(encodedSubject))
	require.NoError(t, err)
	assert.True(t, info.IsBounce)
	assert.Equal(t, "paul.martin@acme.fr", info.Recipient)
}

func TestParse_NotABounce(t *testing.T) {
	info, err := Parse(strings.NewReader(ordinary))
	require.NoError(t, err)
	assert.False(t, info.IsBounce)
	assert.Empty(t, info.Recipient)
}

type fakeMailbox struct {
	messages map[uint32]string
	failing  map[uint32]bool
	since    time.Time
	fetched  []uint32
	onFetch  func(uid uint32)
}

func (f *fakeMailbox) SearchSince(_ context.Context, since time.Time) ([]uint32, error) {
	f.since = since
	var uids []uint32
	for uid := uint32(1); uid <= 10; uid++ {
		if _, ok := f.messages[uid]; ok {
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

func (f *fakeMailbox) Fetch(_ context.Context, uid uint32) ([]byte, error) {
	f.fetched = append(f.fetched, uid)
	if f.onFetch != nil {
		f.onFetch(uid)
	}
	if f.failing[uid] {
		return nil, errors.New("connection reset")
	}
	return []byte(f.messages[uid]), nil
}

func (f *fakeMailbox) Close() error { return nil }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestScan_UpdatesOutboxAndRemembersUIDs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.ReplaceOutbox(ctx, []model.OutboxEntry{
		{Company: "Acme", CompanyKey: "acme", Email: "jean.dupont@acme.fr", Status: model.OutboxSent},
		{Company: "Acme", CompanyKey: "acme", Email: "marie.curie@acme.fr", Status: model.OutboxSent},
	}))

	mb := &fakeMailbox{
		messages: map[uint32]string{1: dsnInvalid, 2: ordinary, 3: bounceTextOnly, 4: ordinary},
		failing:  map[uint32]bool{4: true},
	}
	s := NewScanner(st, "Me@Example.com", "INBOX")
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	stats, err := s.Scan(ctx, mb, 7)
	require.NoError(t, err)
	assert.Equal(t, fixed.AddDate(0, 0, -7), mb.since)
	assert.Equal(t, 1, stats.Invalid)
	assert.Equal(t, 1, stats.Bounced)
	assert.Equal(t, 2, stats.Processed)
	require.Len(t, stats.Details, 2)

	invalid, err := st.ListOutbox(ctx, model.OutboxFilter{Status: model.OutboxInvalid})
	require.NoError(t, err)
	require.Len(t, invalid, 1)
	assert.Equal(t, "diag=5.1.1 smtp; 550 5.1.1 The email account does not exist", invalid[0].ErrorMessage)

	bounced, err := st.ListOutbox(ctx, model.OutboxFilter{Status: model.OutboxBounced})
	require.NoError(t, err)
	require.Len(t, bounced, 1)
	assert.Equal(t, "diag=5.2.2", bounced[0].ErrorMessage)

	// Second pass: 1-3 are remembered, the failed fetch is retried.
	mb.fetched = nil
	stats, err = s.Scan(ctx, mb, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.AlreadySeen)
	assert.Zero(t, stats.Processed)
	assert.Equal(t, []uint32{4}, mb.fetched)
}

func TestScan_OnlySentOrReadyEntriesChange(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.ReplaceOutbox(ctx, []model.OutboxEntry{
		{Company: "Acme", CompanyKey: "acme", Email: "jean.dupont@acme.fr", Status: model.OutboxError, ErrorMessage: "MESSAGE_NOT_FOUND"},
	}))

	stats, err := NewScanner(st, "me", "INBOX").Scan(ctx, &fakeMailbox{messages: map[uint32]string{1: dsnInvalid}}, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)

	rows, err := st.ListOutbox(ctx, model.OutboxFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.OutboxError, rows[0].Status)
}

func TestScan_CancelledScanKeepsProcessedUIDs(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.ReplaceOutbox(context.Background(), []model.OutboxEntry{
		{Company: "Acme", CompanyKey: "acme", Email: "jean.dupont@acme.fr", Status: model.OutboxSent},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	mb := &fakeMailbox{
		messages: map[uint32]string{1: dsnInvalid, 2: ordinary, 3: bounceTextOnly},
		onFetch:  func(uint32) { cancel() },
	}
	s := NewScanner(st, "me", "INBOX")

	stats, err := s.Scan(ctx, mb, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Invalid)
	assert.Equal(t, []uint32{1}, mb.fetched)

	invalid, err := st.ListOutbox(context.Background(), model.OutboxFilter{Status: model.OutboxInvalid})
	require.NoError(t, err)
	require.Len(t, invalid, 1)

	mb.fetched = nil
	mb.onFetch = nil
	stats, err = s.Scan(context.Background(), mb, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AlreadySeen)
	assert.Equal(t, []uint32{2, 3}, mb.fetched)
}
