package importer

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailfinder/internal/model"
)

var outboxHeader = []string{
	"id", "company", "email", "firstname", "lastname", "subject", "body_text",
	"status", "error_message", "sent_at",
}

// ExportOutbox writes entries as UTF-8 CSV with a BOM so spreadsheet tools
// detect the encoding.
func ExportOutbox(w io.Writer, entries []model.OutboxEntry) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return eris.Wrap(err, "importer: write bom")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(outboxHeader); err != nil {
		return eris.Wrap(err, "importer: write header")
	}
	for _, e := range entries {
		sentAt := ""
		if e.SentAt != nil {
			sentAt = e.SentAt.UTC().Format(time.RFC3339)
		}
		rec := []string{
			strconv.FormatInt(e.ID, 10), e.Company, e.Email, e.Firstname, e.Lastname,
			e.Subject, e.BodyText, string(e.Status), e.ErrorMessage, sentAt,
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrapf(err, "importer: write row %d", e.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "importer: flush csv")
}
