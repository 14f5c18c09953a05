// Package verify picks the most likely address for a person, checking
// candidates against Hunter.io and the domain's mail server.
package verify

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/mailfinder/internal/normalize"
	"github.com/sells-group/mailfinder/internal/pace"
	"github.com/sells-group/mailfinder/internal/pattern"
	"github.com/sells-group/mailfinder/pkg/hunter"
)

// Confidence levels by evidence.
const (
	confHunterDeliverable = 0.95
	confHunterVerdict     = 0.80
	confHunterPattern     = 0.85
	confSMTPBase          = 0.75
	confSMTPPerInvalid    = 0.05
	confSMTPMax           = 0.95
)

const missingInput = "nom/prénom/domaine manquant"

// hunterPatterns maps Hunter.io pattern templates to kinds.
var hunterPatterns = map[string]pattern.Kind{
	"{first}.{last}": pattern.PrenomNom,
	"{first}{last}":  pattern.PrenomNomC,
	"{f}{last}":      pattern.PNomC,
	"{f}.{last}":     pattern.PNom,
	"{first}":        pattern.Prenom,
	"{last}.{first}": pattern.NomPrenom,
	"{last}":         pattern.Nom,
	"{last}{f}":      pattern.NomP,
	"{first}_{last}": pattern.PrenomUNom,
}

// HunterKind maps a Hunter.io pattern template. Unrecognized templates fall
// back to the default kind and report false.
func HunterKind(raw string) (pattern.Kind, bool) {
	k, ok := hunterPatterns[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return pattern.Default, false
	}
	return k, true
}

// HunterDomain is what Hunter.io knows about a domain.
type HunterDomain struct {
	Kind   pattern.Kind
	Raw    string
	Emails []string
}

// Result is the chosen address. Email is empty when none could be built.
type Result struct {
	Email      string
	Pattern    pattern.Kind
	Confidence float64
	Debug      string
}

// Verifier selects the best candidate address for a person.
type Verifier struct {
	// Hunter is optional; nil disables the reputation branch.
	Hunter hunter.Client
	// Prober is optional; nil behaves as if SMTP checks were skipped.
	Prober Checker
	// Pacer delays successive mailbox probes.
	Pacer *pace.Pacer

	mu   sync.Mutex
	memo map[string]*HunterDomain
	rand func() int
}

// New returns a Verifier with the default 0.3 to 0.8s probe delay.
func New(h hunter.Client, p Checker) *Verifier {
	return &Verifier{Hunter: h, Prober: p, Pacer: pace.Seconds(0.3, 0.8)}
}

// Reset forgets memoized Hunter.io lookups.
func (v *Verifier) Reset() {
	v.mu.Lock()
	v.memo = nil
	v.mu.Unlock()
}

// LookupHunter returns Hunter.io's pattern for domain, querying it at most
// once per domain until Reset. It reports false when Hunter is disabled or
// unavailable.
func (v *Verifier) LookupHunter(ctx context.Context, domain string) (*HunterDomain, bool) {
	if v.Hunter == nil || domain == "" {
		return nil, false
	}
	domain = strings.ToLower(domain)

	v.mu.Lock()
	hd, seen := v.memo[domain]
	v.mu.Unlock()
	if seen {
		return hd, hd != nil
	}

	res, err := v.Hunter.DomainSearch(ctx, domain)
	if err != nil {
		zap.L().Warn("verify: hunter domain search failed", zap.String("domain", domain), zap.Error(err))
		if ctx.Err() != nil {
			return nil, false
		}
	} else {
		kind, known := HunterKind(res.Pattern)
		if !known {
			zap.L().Warn("verify: unrecognized hunter pattern, using default",
				zap.String("domain", domain),
				zap.String("pattern", res.Pattern),
				zap.String("default", kind.String()),
			)
		}
		hd = &HunterDomain{Kind: kind, Raw: res.Pattern, Emails: res.Addresses()}
	}

	v.mu.Lock()
	if v.memo == nil {
		v.memo = make(map[string]*HunterDomain)
	}
	v.memo[domain] = hd
	v.mu.Unlock()
	return hd, hd != nil
}

// FindBestEmail returns the most likely address for first last at domain.
// known, when set, is tried before the default priority order.
func (v *Verifier) FindBestEmail(ctx context.Context, first, last, domain string, known *pattern.Kind, skipSMTP bool) Result {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if normalize.NamePart(first) == "" || normalize.NamePart(last) == "" || domain == "" {
		return Result{Pattern: pattern.Default, Debug: missingInput}
	}
	log := zap.L().With(zap.String("domain", domain))

	if hd, ok := v.LookupHunter(ctx, domain); ok {
		if res, done := v.hunterBranch(ctx, first, last, domain, hd); done {
			return res
		}
		log.Info("verify: hunter address undeliverable, probing candidates",
			zap.String("pattern", hd.Kind.String()))
	}

	candidates := pattern.Candidates(first, last, domain, known)
	if len(candidates) == 0 {
		return Result{Pattern: pattern.Default, Debug: "impossible de générer des candidats"}
	}
	top := candidates[0]

	if skipSMTP || v.Prober == nil {
		return Result{Email: top.Email, Pattern: top.Kind, Confidence: split(top.Kind, 0.50, 0.40), Debug: "pas de vérification SMTP"}
	}

	if v.isCatchAll(ctx, domain) {
		log.Info("verify: catch-all domain")
		return Result{Email: top.Email, Pattern: top.Kind, Confidence: split(top.Kind, 0.55, 0.45), Debug: "domaine catch-all (SMTP non fiable)"}
	}

	invalid := 0
	for _, c := range candidates {
		if err := v.Pacer.Wait(ctx); err != nil {
			break
		}
		outcome := v.Prober.Check(ctx, c.Email)
		log.Debug("verify: probed", zap.String("email", c.Email), zap.Stringer("outcome", outcome))
		switch outcome {
		case Valid:
			conf := math.Min(confSMTPMax, round2(confSMTPBase+confSMTPPerInvalid*float64(invalid)))
			return Result{
				Email:      c.Email,
				Pattern:    c.Kind,
				Confidence: conf,
				Debug:      fmt.Sprintf("SMTP vérifié (%d invalides rejetés avant)", invalid),
			}
		case Invalid:
			invalid++
		}
	}

	return Result{
		Email:      top.Email,
		Pattern:    top.Kind,
		Confidence: split(top.Kind, 0.50, 0.40),
		Debug:      fmt.Sprintf("SMTP inconcluant (%d invalides)", invalid),
	}
}

// hunterBranch reports done=false when Hunter rejects its own address.
func (v *Verifier) hunterBranch(ctx context.Context, first, last, domain string, hd *HunterDomain) (Result, bool) {
	email, ok := pattern.Generate(first, last, domain, hd.Kind)
	if !ok {
		return Result{}, false
	}

	ver, err := v.Hunter.VerifyEmail(ctx, email)
	if err != nil {
		zap.L().Warn("verify: hunter verification unavailable", zap.String("email", email), zap.Error(err))
		return Result{Email: email, Pattern: hd.Kind, Confidence: confHunterPattern, Debug: "Hunter.io: pattern=" + hd.Raw}, true
	}
	switch ver.Result {
	case hunter.ResultDeliverable:
		return Result{Email: email, Pattern: hd.Kind, Confidence: confHunterDeliverable, Debug: fmt.Sprintf("Hunter.io: vérifié (%d%%)", ver.Score)}, true
	case hunter.ResultUndeliverable:
		return Result{}, false
	}
	return Result{Email: email, Pattern: hd.Kind, Confidence: confHunterVerdict, Debug: "Hunter.io: " + ver.Result}, true
}

// isCatchAll probes a local part that cannot exist.
func (v *Verifier) isCatchAll(ctx context.Context, domain string) bool {
	n := 10000 + rand.IntN(90000)
	if v.rand != nil {
		n = v.rand()
	}
	return v.Prober.Check(ctx, fmt.Sprintf("zzztest%d@%s", n, domain)) == Valid
}

func split(k pattern.Kind, preferred, other float64) float64 {
	if k == pattern.Default {
		return preferred
	}
	return other
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
