// Package orchestrator drives the inference pipeline over a batch of
// prospects, one company group at a time.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailfinder/internal/lock"
	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/pattern"
	"github.com/sells-group/mailfinder/internal/progress"
	"github.com/sells-group/mailfinder/internal/store"
	"github.com/sells-group/mailfinder/internal/verify"
)

// ErrAlreadyRunning is returned by Run when another run holds the lock.
var ErrAlreadyRunning = eris.New("orchestrator: a run is already active")

// NotesNoDomain is recorded on prospects whose company has no domain.
const NotesNoDomain = "Domaine non trouvé"

// DomainFinder resolves a company to its mail domain.
type DomainFinder interface {
	FindDomain(ctx context.Context, company string, forceRefresh bool) (string, bool, error)
}

// EmailDiscoverer harvests published addresses for a domain.
type EmailDiscoverer interface {
	Discover(ctx context.Context, domain string, maxPages int) []string
}

// PatternInferrer infers a domain's naming rule.
type PatternInferrer interface {
	Infer(ctx context.Context, domain string, emails []string, knownNames []model.Name, forceRefresh bool) (pattern.Result, error)
}

// EmailVerifier picks the best address per person.
type EmailVerifier interface {
	LookupHunter(ctx context.Context, domain string) (*verify.HunterDomain, bool)
	FindBestEmail(ctx context.Context, first, last, domain string, known *pattern.Kind, skipSMTP bool) verify.Result
}

// Options selects the batch.
type Options struct {
	// Limit caps the number of prospects; 0 means no cap.
	Limit int `json:"limit"`
	// ForceRefresh reprocesses every prospect and bypasses caches.
	ForceRefresh bool `json:"force_refresh"`
}

// Runner owns the single-run lock and the progress record.
type Runner struct {
	Store     store.Store
	Domains   DomainFinder
	Harvester EmailDiscoverer
	Patterns  PatternInferrer
	Verifier  EmailVerifier
	Sink      progress.Sink
	Lock      lock.Lock

	MaxPages int
	SkipSMTP bool

	now func() time.Time
	wg  sync.WaitGroup
}

// Start launches a background run. It returns false when a run is already
// active. The run outlives ctx cancellation.
func (r *Runner) Start(ctx context.Context, opts Options) (bool, error) {
	ok, err := r.Lock.TryAcquire(ctx)
	if err != nil || !ok {
		return false, err
	}

	bg := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(bg)
		r.execute(bg, opts)
	}()
	return true, nil
}

// Wait blocks until background runs started by Start have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Run processes the batch synchronously and returns the terminal record.
func (r *Runner) Run(ctx context.Context, opts Options) (model.Progress, error) {
	ok, err := r.Lock.TryAcquire(ctx)
	if err != nil {
		return model.Progress{}, err
	}
	if !ok {
		return model.Progress{}, ErrAlreadyRunning
	}
	defer r.release(ctx)

	p := r.execute(ctx, opts)
	if p.Error != "" {
		return p, eris.New(p.Error)
	}
	return p, nil
}

func (r *Runner) release(ctx context.Context) {
	if err := r.Lock.Release(ctx); err != nil {
		zap.L().Error("orchestrator: release lock", zap.Error(err))
	}
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now().UTC()
}

// execute always writes exactly one terminal record, even on panic.
func (r *Runner) execute(ctx context.Context, opts Options) (final model.Progress) {
	started := r.clock()
	p := model.Progress{
		RunID:     uuid.NewString(),
		Running:   true,
		TaskName:  model.TaskEmailSearch,
		Message:   "Démarrage...",
		StartedAt: &started,
	}
	r.write(ctx, p)
	log := zap.L().With(zap.String("run_id", p.RunID))

	if rs, ok := r.Verifier.(interface{ Reset() }); ok {
		rs.Reset()
	}

	var res model.ProgressResult
	defer func() {
		if v := recover(); v != nil {
			log.Error("orchestrator: panic", zap.Any("panic", v))
			final = r.finish(ctx, p, res, fmt.Errorf("panic: %v", v))
		}
	}()

	err := r.process(ctx, opts, &p, &res)
	if err != nil {
		log.Error("orchestrator: run failed", zap.Error(err))
	} else {
		log.Info("orchestrator: run complete",
			zap.Int("total", res.Total),
			zap.Int("found", res.Found),
			zap.Int("not_found", res.NotFound),
		)
	}
	return r.finish(ctx, p, res, err)
}

func (r *Runner) finish(ctx context.Context, p model.Progress, res model.ProgressResult, err error) model.Progress {
	finished := r.clock()
	p.Running = false
	p.FinishedAt = &finished
	switch {
	case err != nil:
		p.Error = err.Error()
		p.Message = "Erreur : " + err.Error()
		p.Results = &res
	case p.Total == 0:
		p.Message = "Aucun prospect à traiter."
	default:
		p.Current = p.Total
		p.Message = fmt.Sprintf("Terminé : %d prospects traités", p.Total)
		p.Results = &res
	}
	r.write(ctx, p)
	return p
}

func (r *Runner) write(ctx context.Context, p model.Progress) {
	if r.Sink == nil {
		return
	}
	if err := r.Sink.Write(ctx, p); err != nil {
		zap.L().Warn("orchestrator: write progress", zap.Error(err))
	}
}

func (r *Runner) process(ctx context.Context, opts Options, p *model.Progress, res *model.ProgressResult) error {
	prospects, err := r.Store.ListProspects(ctx, store.ProspectFilter{
		WithoutSuggestion: !opts.ForceRefresh,
		Limit:             opts.Limit,
	})
	if err != nil {
		return eris.Wrap(err, "orchestrator: list prospects")
	}
	p.Total = len(prospects)
	res.Total = p.Total
	if p.Total == 0 {
		return nil
	}

	for _, g := range groupByCompany(prospects) {
		p.Message = "Traitement : " + g.company
		r.write(ctx, *p)

		suggestions, err := r.processGroup(ctx, g, opts.ForceRefresh, p)
		if err != nil {
			return eris.Wrapf(err, "orchestrator: company %q", g.company)
		}
		if err := r.Store.UpsertSuggestions(ctx, suggestions); err != nil {
			return eris.Wrapf(err, "orchestrator: save company %q", g.company)
		}
		for _, s := range suggestions {
			if s.Status == model.SuggestionFound {
				res.Found++
			} else {
				res.NotFound++
			}
		}
		p.Current += len(g.prospects)
		r.write(ctx, *p)
	}
	return nil
}

func (r *Runner) processGroup(ctx context.Context, g group, force bool, p *model.Progress) ([]model.Suggestion, error) {
	log := zap.L().With(zap.String("company", g.company))
	out := make([]model.Suggestion, 0, len(g.prospects))

	domain, found, err := r.Domains.FindDomain(ctx, g.company, force)
	if err != nil {
		return nil, err
	}
	if !found {
		log.Info("orchestrator: no domain")
		for _, pr := range g.prospects {
			out = append(out, model.Suggestion{
				ProspectID: pr.ID,
				Status:     model.SuggestionNotFound,
				DebugNotes: NotesNoDomain,
			})
		}
		return out, nil
	}

	hd, hasHunter := r.Verifier.LookupHunter(ctx, domain)
	webEmails := r.Harvester.Discover(ctx, domain, r.MaxPages)

	evidence := webEmails
	if hasHunter && len(hd.Emails) > 0 {
		evidence = append(append([]string(nil), webEmails...), hd.Emails...)
	}
	inferred, err := r.Patterns.Infer(ctx, domain, evidence, g.names(), force)
	if err != nil {
		return nil, err
	}

	base, source := inferred.Pattern, "inferred"
	if hasHunter {
		base, source = hd.Kind, "hunter"
	}
	log.Info("orchestrator: base pattern",
		zap.String("domain", domain),
		zap.String("pattern", base.String()),
		zap.String("source", source),
		zap.Int("web_emails", len(webEmails)),
	)

	for _, pr := range g.prospects {
		p.Message = fmt.Sprintf("Vérification : %s %s @ %s", pr.Firstname, pr.Lastname, g.company)
		r.write(ctx, *p)

		best := r.Verifier.FindBestEmail(ctx, pr.Firstname, pr.Lastname, domain, &base, r.SkipSMTP)
		notes := fmt.Sprintf("domain=%s, source=%s, %s", domain, source, best.Debug)
		if len(webEmails) > 0 {
			notes += fmt.Sprintf(", web_emails=%d", len(webEmails))
		}
		s := model.Suggestion{
			ProspectID: pr.ID,
			Domain:     domain,
			Pattern:    best.Pattern.String(),
			Email:      best.Email,
			Confidence: best.Confidence,
			Status:     model.SuggestionNotFound,
			DebugNotes: notes,
		}
		if best.Email != "" {
			s.Status = model.SuggestionFound
		}
		out = append(out, s)
	}
	return out, nil
}

type group struct {
	key       string
	company   string
	prospects []model.Prospect
}

func (g group) names() []model.Name {
	var out []model.Name
	for _, p := range g.prospects {
		if p.Firstname != "" && p.Lastname != "" {
			out = append(out, model.Name{First: p.Firstname, Last: p.Lastname})
		}
	}
	return out
}

// groupByCompany groups prospects by company key in first-seen order.
func groupByCompany(prospects []model.Prospect) []group {
	idx := make(map[string]int)
	var groups []group
	for _, p := range prospects {
		i, ok := idx[p.CompanyKey]
		if !ok {
			i = len(groups)
			idx[p.CompanyKey] = i
			groups = append(groups, group{key: p.CompanyKey, company: p.Company})
		}
		groups[i].prospects = append(groups[i].prospects, p)
	}
	return groups
}
