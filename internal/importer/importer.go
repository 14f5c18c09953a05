package importer

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/normalize"
	"github.com/sells-group/mailfinder/internal/store"
)

// Result counts imported and skipped rows.
type Result struct {
	Imported  int    `json:"imported"`
	Skipped   int    `json:"skipped"`
	WithEmail int    `json:"with_email,omitempty"`
	Encoding  string `json:"encoding"`
}

// ImportProspects inserts one prospect per row with a first name, last name
// and company. When withEmail is set and the row carries an address, the
// prospect also gets an IMPORTED suggestion at full confidence.
func ImportProspects(ctx context.Context, st store.Store, t *Table, withEmail bool) (*Result, error) {
	cols := ProspectColumns
	if withEmail {
		cols = withEmailColumn(cols)
	}
	m := Detect(t.Header, cols)
	if err := requireExcept(m, ColEmail); err != nil {
		return nil, err
	}

	res := &Result{Encoding: t.Encoding}
	var suggestions []model.Suggestion
	for _, row := range t.Rows {
		first := Cell(row, m[ColFirstname])
		last := Cell(row, m[ColLastname])
		company := Cell(row, m[ColCompany])
		if first == "" || last == "" || company == "" {
			res.Skipped++
			continue
		}

		p := &model.Prospect{
			Firstname:  first,
			Lastname:   last,
			Company:    company,
			CompanyKey: normalize.Company(company),
		}
		id, err := st.InsertProspect(ctx, p)
		if err != nil {
			return res, eris.Wrapf(err, "importer: insert prospect %s %s", first, last)
		}
		res.Imported++

		if !withEmail {
			continue
		}
		if email := Cell(row, m[ColEmail]); email != "" {
			suggestions = append(suggestions, ManualSuggestion(id, email, model.SuggestionImported))
			res.WithEmail++
		}
	}

	if len(suggestions) > 0 {
		if err := st.UpsertSuggestions(ctx, suggestions); err != nil {
			return res, eris.Wrap(err, "importer: store imported emails")
		}
	}
	zap.L().Info("importer: prospects imported",
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Int("with_email", res.WithEmail),
		zap.String("encoding", res.Encoding),
	)
	return res, nil
}

// ImportMessages inserts one message per row with a company. Subject and body
// may be blank; the outbox flags them.
func ImportMessages(ctx context.Context, st store.Store, t *Table) (*Result, error) {
	m := Detect(t.Header, MessageColumns)
	if err := m.Require(); err != nil {
		return nil, err
	}

	res := &Result{Encoding: t.Encoding}
	for _, row := range t.Rows {
		company := Cell(row, m[ColCompany])
		if company == "" {
			res.Skipped++
			continue
		}
		msg := &model.Message{
			Company:    company,
			CompanyKey: normalize.Company(company),
			Subject:    Cell(row, m[ColSubject]),
			BodyText:   Cell(row, m[ColBody]),
		}
		if _, err := st.InsertMessage(ctx, msg); err != nil {
			return res, eris.Wrapf(err, "importer: insert message %s", company)
		}
		res.Imported++
	}
	zap.L().Info("importer: messages imported", zap.Int("imported", res.Imported), zap.Int("skipped", res.Skipped))
	return res, nil
}

// ManualSuggestion builds a full-confidence suggestion for a known address.
func ManualSuggestion(prospectID int64, email string, status model.SuggestionStatus) model.Suggestion {
	email = strings.ToLower(strings.TrimSpace(email))
	_, domain, _ := strings.Cut(email, "@")
	return model.Suggestion{
		ProspectID: prospectID,
		Domain:     domain,
		Pattern:    model.PatternManual,
		Email:      email,
		Confidence: 1.0,
		Status:     status,
	}
}

func withEmailColumn(cols map[string][]string) map[string][]string {
	out := make(map[string][]string, len(cols)+1)
	for k, v := range cols {
		out[k] = v
	}
	out[ColEmail] = emailSyn
	return out
}

func requireExcept(m Mapping, optional string) error {
	required := make(Mapping, len(m))
	for col, i := range m {
		if col != optional {
			required[col] = i
		}
	}
	return required.Require()
}
