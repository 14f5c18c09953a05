// Package outbox merges suggestions with company messages into the send queue.
package outbox

import (
	"context"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/store"
)

// StatusSkipped marks a duplicate in build details. It is never stored.
const StatusSkipped = "SKIPPED"

// Detail describes what happened to one suggestion during a build.
type Detail struct {
	Company string `json:"company"`
	Email   string `json:"email"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

// Stats summarizes a build.
type Stats struct {
	Ready             int      `json:"ready"`
	Error             int      `json:"error"`
	SkippedDuplicates int      `json:"skipped_duplicates"`
	Details           []Detail `json:"details"`
}

// Build replaces the outbox with one entry per suggestion. Suggestions are
// taken by descending confidence and an address already queued is skipped,
// so each address keeps its most confident suggestion.
func Build(ctx context.Context, st store.Store) (*Stats, error) {
	rows, err := st.ListSuggestionRows(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "outbox: list suggestions")
	}
	messages, err := st.LatestMessages(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "outbox: load messages")
	}

	stats := &Stats{Details: []Detail{}}
	seen := make(map[string]bool)
	entries := make([]model.OutboxEntry, 0, len(rows))

	for _, r := range rows {
		email := strings.ToLower(strings.TrimSpace(r.Email))
		if email != "" && seen[email] {
			stats.SkippedDuplicates++
			stats.Details = append(stats.Details, Detail{
				Company: r.Company, Email: email, Status: StatusSkipped, Reason: model.ErrDuplicateEmail,
			})
			zap.L().Info("outbox: duplicate email skipped", zap.String("email", email))
			continue
		}

		msg, hasMsg := messages[r.CompanyKey]
		codes := Validate(email, r.Status, msg, hasMsg)

		e := model.OutboxEntry{
			Company:    r.Company,
			CompanyKey: r.CompanyKey,
			Email:      email,
			Firstname:  r.Firstname,
			Lastname:   r.Lastname,
			Subject:    msg.Subject,
			BodyText:   msg.BodyText,
			Status:     model.OutboxReady,
		}
		if len(codes) > 0 {
			e.Status = model.OutboxError
			e.ErrorMessage = strings.Join(codes, ", ")
			stats.Error++
		} else {
			stats.Ready++
		}
		entries = append(entries, e)
		if email != "" {
			seen[email] = true
		}
		stats.Details = append(stats.Details, Detail{
			Company: r.Company, Email: email, Status: string(e.Status), Reason: e.ErrorMessage,
		})
	}

	if err := st.ReplaceOutbox(ctx, entries); err != nil {
		return nil, eris.Wrap(err, "outbox: replace")
	}
	zap.L().Info("outbox: built",
		zap.Int("ready", stats.Ready),
		zap.Int("error", stats.Error),
		zap.Int("skipped_duplicates", stats.SkippedDuplicates),
	)
	return stats, nil
}

// Validate returns the error codes for a prospective entry, in a fixed order.
func Validate(email string, status model.SuggestionStatus, msg model.Message, hasMsg bool) []string {
	var codes []string
	switch {
	case email == "" || status == model.SuggestionNotFound:
		codes = append(codes, model.ErrEmailNotFound)
	case checkmail.ValidateFormat(email) != nil:
		codes = append(codes, model.ErrInvalidEmail)
	}
	if !hasMsg {
		return append(codes, model.ErrMessageNotFound)
	}
	if strings.TrimSpace(msg.Subject) == "" {
		codes = append(codes, model.ErrEmptySubject)
	}
	if strings.TrimSpace(msg.BodyText) == "" {
		codes = append(codes, model.ErrEmptyBody)
	}
	return codes
}
