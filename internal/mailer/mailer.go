// Package mailer dispatches READY outbox entries over one authenticated SMTP session.
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/osteele/liquid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/mailfinder/internal/config"
	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/pace"
	"github.com/sells-group/mailfinder/internal/store"
)

// ErrNoCredentials is returned when the SMTP account is not configured.
var ErrNoCredentials = eris.New("SMTP credentials not configured.")

// Dialer opens an SMTP session. *gomail.Dialer satisfies it.
type Dialer interface {
	Dial() (gomail.SendCloser, error)
}

// ProgressFunc is called after each send attempt.
type ProgressFunc func(current, total int, email string, status model.OutboxStatus)

// Detail records one send attempt.
type Detail struct {
	Email  string             `json:"email"`
	Status model.OutboxStatus `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// Stats summarizes a send run.
type Stats struct {
	Sent      int      `json:"sent"`
	Errors    int      `json:"errors"`
	Total     int      `json:"total"`
	Skipped   int      `json:"skipped"`
	DryRun    bool     `json:"dry_run,omitempty"`
	Cancelled bool     `json:"cancelled,omitempty"`
	Details   []Detail `json:"details"`
}

// Mailer sends the outbox.
type Mailer struct {
	Store     store.Store
	Dialer    Dialer
	From      string
	FromName  string
	MaxPerRun int
	Pacer     *pace.Pacer
	DryRun    bool
	OnSend    ProgressFunc

	engine *liquid.Engine
	now    func() time.Time
}

// New builds a Mailer from configuration. Credentials are required even for
// dry runs so a dry run reflects what a real run would do.
func New(st store.Store, smtpCfg config.SMTPConfig, sendCfg config.SendConfig) (*Mailer, error) {
	if smtpCfg.User == "" || smtpCfg.AppPassword == "" {
		return nil, ErrNoCredentials
	}
	d := gomail.NewDialer(smtpCfg.Host, smtpCfg.Port, smtpCfg.User, smtpCfg.AppPassword)
	m := NewWithDialer(st, d, smtpCfg.User)
	m.FromName = smtpCfg.FromName
	m.MaxPerRun = sendCfg.MaxPerRun
	m.Pacer = pace.Seconds(sendCfg.MinDelay, sendCfg.MaxDelay)
	return m, nil
}

// NewWithDialer builds a Mailer over an arbitrary dialer with no pacing.
func NewWithDialer(st store.Store, d Dialer, from string) *Mailer {
	return &Mailer{
		Store:     st,
		Dialer:    d,
		From:      from,
		MaxPerRun: 50,
		Pacer:     pace.None(),
		engine:    liquid.NewEngine(),
		now:       time.Now,
	}
}

// Test opens and closes a session to check the credentials.
func (m *Mailer) Test() error {
	s, err := m.Dialer.Dial()
	if err != nil {
		return eris.Wrap(err, "mailer: connect")
	}
	return s.Close()
}

// Send delivers up to MaxPerRun READY entries. A cancelled context stops the
// run between messages; the remainder is counted as skipped.
func (m *Mailer) Send(ctx context.Context) (*Stats, error) {
	limit := m.MaxPerRun
	rows, err := m.Store.ListOutbox(ctx, model.OutboxFilter{Status: model.OutboxReady, Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "mailer: list ready")
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	stats := &Stats{Total: len(rows), DryRun: m.DryRun, Details: []Detail{}}
	if len(rows) == 0 {
		return stats, nil
	}

	var sc gomail.SendCloser
	if !m.DryRun {
		sc, err = m.Dialer.Dial()
		if err != nil {
			return stats, eris.Wrap(err, "mailer: SMTP connection failed")
		}
		defer func() {
			if cerr := sc.Close(); cerr != nil {
				zap.L().Debug("mailer: close session", zap.Error(cerr))
			}
		}()
	}

	for i, row := range rows {
		if ctx.Err() != nil {
			stats.Cancelled = true
			stats.Skipped = len(rows) - i
			break
		}

		d := m.sendOne(ctx, sc, row)
		stats.Details = append(stats.Details, d)
		switch d.Status {
		case model.OutboxSent:
			stats.Sent++
		case model.OutboxError:
			stats.Errors++
		}
		if m.OnSend != nil {
			m.OnSend(i+1, len(rows), row.Email, d.Status)
		}

		if i < len(rows)-1 {
			if err := m.Pacer.Wait(ctx); err != nil {
				stats.Cancelled = true
				stats.Skipped = len(rows) - i - 1
				break
			}
		}
	}

	zap.L().Info("mailer: run complete",
		zap.Int("sent", stats.Sent),
		zap.Int("errors", stats.Errors),
		zap.Int("skipped", stats.Skipped),
		zap.Int("total", stats.Total),
	)
	return stats, nil
}

func (m *Mailer) sendOne(ctx context.Context, sc gomail.SendCloser, row model.OutboxEntry) Detail {
	// A delivered message must be recorded even if the run is cancelled mid-send.
	ctx = context.WithoutCancel(ctx)
	subject, body, err := m.Render(row)
	if err == nil && !m.DryRun {
		err = gomail.Send(sc, m.message(row.Email, subject, body))
	}

	if m.DryRun && err == nil {
		zap.L().Info("mailer: dry run", zap.String("email", row.Email), zap.String("subject", subject))
		return Detail{Email: row.Email, Status: model.OutboxReady}
	}

	if err != nil {
		msg := err.Error()
		zap.L().Warn("mailer: send failed", zap.String("email", row.Email), zap.Error(err))
		if uerr := m.Store.UpdateOutboxStatus(ctx, row.ID, model.OutboxError, msg, nil); uerr != nil {
			zap.L().Error("mailer: record error", zap.Int64("id", row.ID), zap.Error(uerr))
		}
		return Detail{Email: row.Email, Status: model.OutboxError, Error: msg}
	}

	sentAt := m.now().UTC()
	if uerr := m.Store.UpdateOutboxStatus(ctx, row.ID, model.OutboxSent, "", &sentAt); uerr != nil {
		zap.L().Error("mailer: record sent", zap.Int64("id", row.ID), zap.Error(uerr))
	}
	zap.L().Info("mailer: sent", zap.String("email", row.Email))
	return Detail{Email: row.Email, Status: model.OutboxSent}
}

// Render personalizes the subject and body of an entry. Templates see
// firstname, lastname, company and email.
func (m *Mailer) Render(row model.OutboxEntry) (string, string, error) {
	bindings := map[string]any{
		"firstname": row.Firstname,
		"lastname":  row.Lastname,
		"company":   row.Company,
		"email":     row.Email,
	}
	subject, err := m.engine.ParseAndRenderString(row.Subject, bindings)
	if err != nil {
		return "", "", eris.Wrap(err, "mailer: render subject")
	}
	body, err := m.engine.ParseAndRenderString(row.BodyText, bindings)
	if err != nil {
		return "", "", eris.Wrap(err, "mailer: render body")
	}
	return subject, body, nil
}

func (m *Mailer) message(to, subject, body string) *gomail.Message {
	msg := gomail.NewMessage()
	if m.FromName != "" {
		msg.SetAddressHeader("From", m.From, m.FromName)
	} else {
		msg.SetHeader("From", m.From)
	}
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return msg
}

// Describe returns a one-line summary of the configured account.
func Describe(cfg config.SMTPConfig) string {
	return fmt.Sprintf("%s:%d as %s", cfg.Host, cfg.Port, cfg.User)
}
