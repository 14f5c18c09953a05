package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the fields a command needs. All problems are reported
// together, separated by "; ".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "find":
		if c.Probe.MailFrom == "" {
			errs = append(errs, "probe.mail_from is required")
		}
		if c.Search.MaxResults <= 0 {
			errs = append(errs, "search.max_results must be > 0")
		}
		errs = append(errs, c.validateBackends()...)
	case "send":
		if c.SMTP.Host == "" {
			errs = append(errs, "smtp.host is required")
		}
		if c.SMTP.User == "" {
			errs = append(errs, "smtp.user is required")
		}
		if c.SMTP.AppPassword == "" {
			errs = append(errs, "smtp.app_password is required")
		}
		if c.Send.MaxPerRun <= 0 {
			errs = append(errs, "send.max_per_run must be > 0")
		}
	case "bounces":
		if c.IMAP.Host == "" {
			errs = append(errs, "imap.host is required")
		}
		if c.IMAP.User == "" {
			errs = append(errs, "imap.user is required")
		}
		if c.IMAP.Password == "" {
			errs = append(errs, "imap.password is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.validateBackends()...)
	case "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateBackends() []string {
	var errs []string
	switch c.Lock.Backend {
	case "memory", "postgres":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for lock.backend=redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("lock.backend %q is not supported", c.Lock.Backend))
	}
	if c.Lock.Backend == "postgres" && c.Store.Driver != "postgres" {
		errs = append(errs, "lock.backend=postgres requires store.driver=postgres")
	}
	switch c.Progress.Backend {
	case "memory":
	case "file":
		if c.Progress.Path == "" {
			errs = append(errs, "progress.path is required for progress.backend=file")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for progress.backend=redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("progress.backend %q is not supported", c.Progress.Backend))
	}
	return errs
}
