package pattern

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/normalize"
	"github.com/sells-group/mailfinder/internal/store"
)

// Confidence bounds and the no-evidence prior.
const (
	MinConfidence     = 0.35
	MaxConfidence     = 0.95
	DefaultConfidence = 0.50
)

// Vote weights.
const (
	weightExact       = 5.0
	weightExactShared = 3.0
	weightSure        = 3.0
	weightPair        = 2.0
	weightMany        = 1.0
)

const epsilon = 1e-9

// Vote is a share of evidence for one kind.
type Vote struct {
	Kind   Kind
	Weight float64
}

// Result is the inferred rule for a domain.
type Result struct {
	Pattern    Kind
	Confidence float64
	Debug      string
	Cached     bool
}

// Entry converts r into its cached form.
func (r Result) Entry() model.PatternEntry {
	return model.PatternEntry{Pattern: r.Pattern.String(), Confidence: r.Confidence, Debug: r.Debug}
}

// Engine infers domain patterns, caching results in Store when set.
type Engine struct {
	Store store.Store
}

// NewEngine returns an Engine backed by s. A nil store disables caching.
func NewEngine(s store.Store) *Engine {
	return &Engine{Store: s}
}

// Infer picks the rule that best explains emails for domain. knownNames are
// people believed to work there; an email reproduced exactly from one of them
// is strong evidence. Without usable evidence it returns the prior at 0.50,
// which is not cached.
func (e *Engine) Infer(ctx context.Context, domain string, emails []string, knownNames []model.Name, forceRefresh bool) (Result, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	log := zap.L().With(zap.String("domain", domain))

	if e.Store != nil && !forceRefresh && domain != "" {
		entry, ok, err := store.GetCached[model.PatternEntry](ctx, e.Store, store.NamespacePattern, domain)
		if err != nil {
			return Result{}, eris.Wrap(err, "pattern: read cache")
		}
		if ok && entry != nil {
			if k, valid := Parse(entry.Pattern); valid {
				log.Debug("pattern: cache hit", zap.String("pattern", entry.Pattern))
				return Result{Pattern: k, Confidence: entry.Confidence, Debug: entry.Debug, Cached: true}, nil
			}
		}
	}

	res, ok := Score(domain, emails, knownNames)
	if !ok {
		log.Info("pattern: no evidence, using prior", zap.Int("emails", len(emails)))
		return res, nil
	}

	if e.Store != nil {
		entry := res.Entry()
		if err := store.SetCached(ctx, e.Store, store.NamespacePattern, domain, &entry); err != nil {
			return Result{}, eris.Wrap(err, "pattern: write cache")
		}
	}
	log.Info("pattern: inferred",
		zap.String("pattern", res.Pattern.String()),
		zap.Float64("confidence", res.Confidence),
	)
	return res, nil
}

// Score computes the winning rule and its confidence without touching any
// cache. It reports false, with the prior, when no email belongs to domain.
func Score(domain string, emails []string, knownNames []model.Name) (Result, bool) {
	suffix := "@" + strings.ToLower(domain)
	seen := make(map[string]bool)
	var locals []string
	for _, em := range emails {
		em = strings.ToLower(strings.TrimSpace(em))
		if domain == "" || !strings.HasSuffix(em, suffix) || seen[em] {
			continue
		}
		seen[em] = true
		if local := strings.TrimSuffix(em, suffix); local != "" {
			locals = append(locals, local)
		}
	}
	if len(locals) == 0 {
		reason := "no emails found"
		if len(emails) > 0 {
			reason = "no emails match domain"
		}
		return Result{Pattern: Default, Confidence: DefaultConfidence, Debug: "default prior, " + reason}, false
	}

	names := normalizeNames(knownNames)
	votes := make([]float64, len(kindNames))
	var exact, unambiguous int
	for _, local := range locals {
		matched := ExactMatches(local, names)
		switch {
		case len(matched) == 1:
			exact++
			unambiguous++
			votes[matched[0]] += weightExact
		case len(matched) > 1:
			exact++
			for _, k := range matched {
				votes[k] += weightExactShared / float64(len(matched))
			}
		default:
			for _, v := range Guess(local) {
				votes[v.Kind] += v.Weight
			}
		}
	}

	winner, total := Default, 0.0
	for _, k := range All() {
		total += votes[k]
		if votes[k] > votes[winner]+epsilon {
			winner = k
		}
	}

	conf := 0.45*votes[winner]/total +
		math.Min(0.20, 0.12*float64(len(locals))) +
		math.Min(0.30, 0.20*float64(exact)) +
		math.Min(0.15, 0.10*float64(unambiguous))
	if winner == PrenomNom {
		conf += 0.10
	}
	conf = math.Round(clamp(conf, MinConfidence, MaxConfidence)*100) / 100

	return Result{
		Pattern:    winner,
		Confidence: conf,
		Debug:      fmt.Sprintf("votes=%s, emails=%d, exact=%d, unambiguous=%d", formatVotes(votes), len(locals), exact, unambiguous),
	}, true
}

// ExactMatches returns the kinds that reproduce local from any of names,
// in priority order.
func ExactMatches(local string, names []model.Name) []Kind {
	var out []Kind
	for _, k := range All() {
		for _, n := range names {
			if k.Local(n.First, n.Last) == local {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

// Guess classifies a local part by shape. A dotted part with a one-letter
// first side is an initial; other dotted parts split evenly between
// first.last and last.first; undotted parts are ranked by length.
func Guess(local string) []Vote {
	local = strings.ToLower(local)
	switch {
	case strings.Contains(local, "."):
		parts := strings.Split(local, ".")
		if len(parts) == 2 && len(parts[0]) == 1 {
			return []Vote{{PNom, weightSure}}
		}
		return even(weightPair, PrenomNom, NomPrenom)
	case strings.Contains(local, "_"):
		return []Vote{{PrenomUNom, weightSure}}
	case len(local) <= 2:
		return ranked(weightPair, PNomC, Nom, Prenom, NomP)
	case len(local) <= 6:
		return ranked(weightMany, PNomC, Nom, Prenom, PrenomNomC, NomP)
	default:
		return ranked(weightMany, PrenomNomC, PNomC, NomP, Prenom, Nom)
	}
}

func even(weight float64, kinds ...Kind) []Vote {
	out := make([]Vote, len(kinds))
	for i, k := range kinds {
		out[i] = Vote{k, weight / float64(len(kinds))}
	}
	return out
}

// ranked splits weight in proportion n, n-1, ..., 1.
func ranked(weight float64, kinds ...Kind) []Vote {
	n := len(kinds)
	sum := float64(n*(n+1)) / 2
	out := make([]Vote, n)
	for i, k := range kinds {
		out[i] = Vote{k, weight * float64(n-i) / sum}
	}
	return out
}

func normalizeNames(names []model.Name) []model.Name {
	out := make([]model.Name, 0, len(names))
	for _, n := range names {
		f, l := normalize.NamePart(n.First), normalize.NamePart(n.Last)
		if f != "" && l != "" {
			out = append(out, model.Name{First: f, Last: l})
		}
	}
	return out
}

func formatVotes(votes []float64) string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, k := range All() {
		if votes[k] == 0 {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s:%.2f", k, votes[k])
	}
	b.WriteByte('}')
	return b.String()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
