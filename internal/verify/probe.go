package verify

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/mailfinder/internal/mx"
)

// Outcome is the tri-state answer of a mailbox probe.
type Outcome int

const (
	Unknown Outcome = iota
	Valid
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// Checker probes whether a mailbox exists.
type Checker interface {
	Check(ctx context.Context, address string) Outcome
}

// Prober asks the domain's primary MX whether it accepts a recipient, without
// sending any message data.
type Prober struct {
	MX       mx.Resolver
	HeloHost string
	MailFrom string
	Port     int
	Timeout  time.Duration
}

// NewProber returns a Prober on port 25 with a 10s deadline.
func NewProber(r mx.Resolver, heloHost, mailFrom string) *Prober {
	return &Prober{MX: r, HeloHost: heloHost, MailFrom: mailFrom, Port: 25, Timeout: 10 * time.Second}
}

// Check never fails: transport errors, timeouts and transient replies all
// map to Unknown.
func (p *Prober) Check(ctx context.Context, address string) Outcome {
	_, domain, ok := strings.Cut(address, "@")
	if !ok || domain == "" {
		return Unknown
	}
	log := zap.L().With(zap.String("address", address))

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	host, err := mx.Primary(ctx, p.MX, domain)
	if err != nil || host == "" {
		log.Debug("probe: no mx", zap.Error(err))
		return Unknown
	}

	outcome, err := p.rcpt(ctx, host, address)
	if err != nil {
		log.Debug("probe: inconclusive", zap.String("mx", host), zap.Error(err))
	}
	return outcome
}

func (p *Prober) rcpt(ctx context.Context, host, address string) (Outcome, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p.Port)))
	if err != nil {
		return Unknown, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close() //nolint:errcheck
		return Unknown, err
	}
	defer c.Close() //nolint:errcheck

	if err := c.Hello(p.HeloHost); err != nil {
		return Unknown, err
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		// Continue in clear text when the upgrade is refused.
		if err := c.StartTLS(&tls.Config{ServerName: host, InsecureSkipVerify: true}); err != nil { //nolint:gosec
			zap.L().Debug("probe: starttls refused", zap.String("mx", host), zap.Error(err))
		}
	}
	if err := c.Mail(p.MailFrom); err != nil {
		return Unknown, err
	}
	if err := c.Rcpt(address); err != nil {
		return classify(err)
	}
	_ = c.Quit()
	return Valid, nil
}

// classify maps a permanent 5xx recipient reply to Invalid and anything else
// to Unknown.
func classify(err error) (Outcome, error) {
	var te *textproto.Error
	if errors.As(err, &te) && te.Code >= 500 && te.Code < 600 {
		return Invalid, err
	}
	return Unknown, err
}
