// Package bounce scans a mailbox for delivery status notifications and marks
// the matching outbox entries.
package bounce

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // non-UTF-8 bodies
	"github.com/emersion/go-message/mail"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailfinder/internal/model"
)

var (
	fromRe      = regexp.MustCompile(`(?i)mailer-daemon|postmaster`)
	subjectRe   = regexp.MustCompile(`(?i)undelivered|delivery status|failure notice|returned mail|non remis|mail delivery failed|undeliverable`)
	recipientRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	diagRe      = regexp.MustCompile(`(\d\.\d\.\d)`)
)

// CodeInvalid is the enhanced status code for a non-existent mailbox.
const CodeInvalid = "5.1.1"

// Info is what a notification says about a failed delivery.
type Info struct {
	IsBounce  bool
	Recipient string
	DiagCode  string
	RawDiag   string
}

// Parse reads an RFC 5322 message and extracts bounce information. Messages
// that are not notifications return IsBounce=false.
func Parse(r io.Reader) (*Info, error) {
	e, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, eris.Wrap(err, "bounce: read message")
	}

	info := &Info{IsBounce: isBounce(e.Header)}
	if !info.IsBounce {
		return info, nil
	}

	var body strings.Builder
	walkErr := e.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil {
			return nil
		}
		ct, _, _ := part.Header.ContentType()
		switch ct {
		case "message/delivery-status":
			b, rerr := io.ReadAll(part.Body)
			if rerr != nil {
				return nil
			}
			info.readStatusFields(b)
		case "text/plain":
			b, rerr := io.ReadAll(part.Body)
			if rerr != nil {
				return nil
			}
			body.Write(b)
		}
		return nil
	})
	if walkErr != nil {
		return nil, eris.Wrap(walkErr, "bounce: walk parts")
	}

	if info.Recipient == "" {
		for _, addr := range recipientRe.FindAllString(body.String(), -1) {
			lower := strings.ToLower(addr)
			if !strings.Contains(lower, "mailer-daemon") && !strings.Contains(lower, "postmaster") {
				info.Recipient = lower
				break
			}
		}
		if info.DiagCode == "" {
			if m := diagRe.FindStringSubmatch(body.String()); m != nil {
				info.DiagCode = m[1]
			}
		}
	}
	return info, nil
}

// Status maps the diagnostic code to the outbox status to record.
func (i *Info) Status() model.OutboxStatus {
	if i.DiagCode == CodeInvalid {
		return model.OutboxInvalid
	}
	return model.OutboxBounced
}

func (i *Info) readStatusFields(b []byte) {
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := sc.Text()
		lower := strings.ToLower(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(lower, "final-recipient:"), strings.HasPrefix(lower, "original-recipient:"):
			if m := recipientRe.FindString(line); m != "" {
				i.Recipient = strings.ToLower(m)
			}
		case strings.HasPrefix(lower, "diagnostic-code:"):
			_, raw, _ := strings.Cut(line, ":")
			i.RawDiag = strings.TrimSpace(raw)
			if m := diagRe.FindStringSubmatch(i.RawDiag); m != nil {
				i.DiagCode = m[1]
			}
		}
	}
}

func isBounce(h message.Header) bool {
	if fromRe.MatchString(h.Get("From")) {
		return true
	}
	subject, err := (&mail.Header{Header: h}).Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	if subjectRe.MatchString(subject) {
		return true
	}
	return strings.Contains(strings.ToLower(h.Get("Content-Type")), "delivery-status")
}
