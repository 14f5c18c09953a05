package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/mailfinder/internal/config"
	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/pace"
	"github.com/sells-group/mailfinder/internal/store"
)

type sentMail struct {
	from string
	to   []string
	raw  string
}

type fakeSession struct {
	sent   []sentMail
	failTo string
	closed bool
	onSend func()
}

func (f *fakeSession) Send(from string, to []string, msg io.WriterTo) error {
	if len(to) > 0 && to[0] == f.failTo {
		return errors.New("550 recipient refused")
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return err
	}
	f.sent = append(f.sent, sentMail{from: from, to: to, raw: buf.String()})
	if f.onSend != nil {
		f.onSend()
	}
	return nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeDialer struct {
	session *fakeSession
	err     error
	dials   int
}

func (d *fakeDialer) Dial() (gomail.SendCloser, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

func newTestStore(t *testing.T, entries ...model.OutboxEntry) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.ReplaceOutbox(context.Background(), entries))
	return st
}

func ready(email, first string) model.OutboxEntry {
	return model.OutboxEntry{
		Company:    "Acme",
		CompanyKey: "acme",
		Email:      email,
		Firstname:  first,
		Lastname:   "Dupont",
		Subject:    "Bonjour {{ firstname }}",
		BodyText:   "Cher {{ firstname }} {{ lastname }}, chez {{ company }}.",
		Status:     model.OutboxReady,
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(nil, config.SMTPConfig{Host: "smtp.gmail.com", Port: 587}, config.SendConfig{})
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Equal(t, "SMTP credentials not configured.", err.Error())
}

func TestSend_PersonalizesAndMarksSent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, ready("jean.dupont@acme.fr", "Jean"), ready("marie.dupont@acme.fr", "Marie"))
	sess := &fakeSession{}
	d := &fakeDialer{session: sess}

	m := NewWithDialer(st, d, "me@example.com")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	stats, err := m.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, 1, d.dials)
	assert.True(t, sess.closed)

	require.Len(t, sess.sent, 2)
	assert.Equal(t, "me@example.com", sess.sent[0].from)
	assert.Contains(t, sess.sent[0].raw, "Subject: Bonjour Jean")
	assert.Contains(t, sess.sent[0].raw, "Cher Jean Dupont, chez Acme.")

	sent, err := st.ListOutbox(ctx, model.OutboxFilter{Status: model.OutboxSent})
	require.NoError(t, err)
	require.Len(t, sent, 2)
	require.NotNil(t, sent[0].SentAt)
	assert.True(t, sent[0].SentAt.Equal(fixed))
}

func TestSend_RecordsPerMessageErrors(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, ready("bad@acme.fr", "Bad"), ready("good@acme.fr", "Good"))
	sess := &fakeSession{failTo: "bad@acme.fr"}

	var calls []string
	m := NewWithDialer(st, &fakeDialer{session: sess}, "me@example.com")
	m.OnSend = func(current, total int, email string, status model.OutboxStatus) {
		calls = append(calls, email+"="+string(status))
	}

	stats, err := m.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Errors)
	assert.ElementsMatch(t, []string{"bad@acme.fr=ERROR", "good@acme.fr=SENT"}, calls)

	failed, err := st.ListOutbox(ctx, model.OutboxFilter{Status: model.OutboxError})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].ErrorMessage, "550")
}

func TestSend_RespectsMaxPerRun(t *testing.T) {
	st := newTestStore(t, ready("a@acme.fr", "A"), ready("b@acme.fr", "B"), ready("c@acme.fr", "C"))
	sess := &fakeSession{}
	m := NewWithDialer(st, &fakeDialer{session: sess}, "me@example.com")
	m.MaxPerRun = 2

	stats, err := m.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Len(t, sess.sent, 2)
}

func TestSend_DryRunNeverDials(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, ready("a@acme.fr", "A"))
	d := &fakeDialer{session: &fakeSession{}}
	m := NewWithDialer(st, d, "me@example.com")
	m.DryRun = true

	stats, err := m.Send(ctx)
	require.NoError(t, err)
	assert.True(t, stats.DryRun)
	assert.Zero(t, d.dials)
	assert.Zero(t, stats.Sent)

	counts, err := st.CountOutboxByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.OutboxReady])
}

func TestSend_ConnectionFailure(t *testing.T) {
	st := newTestStore(t, ready("a@acme.fr", "A"))
	m := NewWithDialer(st, &fakeDialer{err: errors.New("auth failed")}, "me@example.com")

	_, err := m.Send(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "SMTP connection failed"))
}

func TestSend_CancelSkipsRemainder(t *testing.T) {
	st := newTestStore(t, ready("a@acme.fr", "A"), ready("b@acme.fr", "B"), ready("c@acme.fr", "C"))
	sess := &fakeSession{}
	m := NewWithDialer(st, &fakeDialer{session: sess}, "me@example.com")
	m.Pacer = pace.New(time.Hour, 2*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	m.OnSend = func(int, int, string, model.OutboxStatus) { cancel() }

	stats, err := m.Send(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Cancelled)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 2, stats.Skipped)
}

func TestSend_CancelDuringDeliveryStillRecordsSent(t *testing.T) {
	st := newTestStore(t, ready("a@acme.fr", "A"), ready("b@acme.fr", "B"))
	ctx, cancel := context.WithCancel(context.Background())
	sess := &fakeSession{onSend: cancel}
	m := NewWithDialer(st, &fakeDialer{session: sess}, "me@example.com")

	stats, err := m.Send(ctx)
	require.NoError(t, err)
	assert.Len(t, sess.sent, 1)
	assert.Equal(t, 1, stats.Sent)
	assert.True(t, stats.Cancelled)

	sent, err := st.ListOutbox(context.Background(), model.OutboxFilter{Status: model.OutboxSent})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "a@acme.fr", sent[0].Email)
	assert.NotNil(t, sent[0].SentAt)

	pending, err := st.ListOutbox(context.Background(), model.OutboxFilter{Status: model.OutboxReady})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b@acme.fr", pending[0].Email)
}

func TestSend_EmptyOutbox(t *testing.T) {
	d := &fakeDialer{session: &fakeSession{}}
	m := NewWithDialer(newTestStore(t), d, "me@example.com")

	stats, err := m.Send(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, d.dials)
}

func TestRender_InvalidTemplate(t *testing.T) {
	m := NewWithDialer(nil, nil, "me@example.com")
	_, _, err := m.Render(model.OutboxEntry{Subject: "{% if %}", BodyText: "x"})
	assert.Error(t, err)
}

func TestTest_DialsAndCloses(t *testing.T) {
	sess := &fakeSession{}
	m := NewWithDialer(nil, &fakeDialer{session: sess}, "me@example.com")
	require.NoError(t, m.Test())
	assert.True(t, sess.closed)
}
