package bounce

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/store"
)

// Detail records one processed notification.
type Detail struct {
	Email    string             `json:"email"`
	Status   model.OutboxStatus `json:"status"`
	DiagCode string             `json:"diag_code"`
	RawDiag  string             `json:"raw_diag"`
}

// Stats summarizes a scan.
type Stats struct {
	Bounced     int      `json:"bounced"`
	Invalid     int      `json:"invalid"`
	AlreadySeen int      `json:"already_seen"`
	Processed   int      `json:"processed"`
	Details     []Detail `json:"details"`
}

// Scanner applies bounces found in a mailbox to the outbox. UIDs already
// examined are remembered under SeenKey so reruns skip them.
type Scanner struct {
	Store   store.Store
	SeenKey string

	now func() time.Time
}

// NewScanner returns a Scanner whose seen set is keyed by account and folder.
func NewScanner(st store.Store, user, folder string) *Scanner {
	return &Scanner{
		Store:   st,
		SeenKey: strings.ToLower(user) + "/" + folder,
		now:     time.Now,
	}
}

// Scan examines messages from the last sinceDays days.
func (s *Scanner) Scan(ctx context.Context, mb Mailbox, sinceDays int) (*Stats, error) {
	seen, err := s.loadSeen(ctx)
	if err != nil {
		return nil, err
	}

	since := s.now().UTC().AddDate(0, 0, -sinceDays)
	uids, err := mb.SearchSince(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "bounce: search")
	}
	zap.L().Info("bounce: messages found", zap.Int("count", len(uids)), zap.Time("since", since))

	// Outcomes already classified are kept even if the scan is interrupted.
	persist := context.WithoutCancel(ctx)
	stats := &Stats{Details: []Detail{}}
	for _, uid := range uids {
		if ctx.Err() != nil {
			break
		}
		if seen[uid] {
			stats.AlreadySeen++
			continue
		}

		raw, err := mb.Fetch(ctx, uid)
		if err != nil {
			zap.L().Debug("bounce: fetch failed", zap.Uint32("uid", uid), zap.Error(err))
			continue
		}
		info, err := Parse(bytes.NewReader(raw))
		if err != nil {
			zap.L().Debug("bounce: parse failed", zap.Uint32("uid", uid), zap.Error(err))
			continue
		}
		if !info.IsBounce || info.Recipient == "" {
			seen[uid] = true
			continue
		}

		status := info.Status()
		if status == model.OutboxInvalid {
			stats.Invalid++
		} else {
			stats.Bounced++
		}
		errMsg := strings.TrimSpace(fmt.Sprintf("diag=%s %s", info.DiagCode, info.RawDiag))
		n, err := s.Store.UpdateOutboxByEmail(persist, info.Recipient, status, errMsg)
		if err != nil {
			if serr := s.saveSeen(persist, seen); serr != nil {
				zap.L().Error("bounce: save seen", zap.Error(serr))
			}
			return stats, eris.Wrapf(err, "bounce: update %s", info.Recipient)
		}
		if n == 0 {
			zap.L().Debug("bounce: no outbox entry", zap.String("email", info.Recipient))
		}

		stats.Processed++
		stats.Details = append(stats.Details, Detail{
			Email: info.Recipient, Status: status, DiagCode: info.DiagCode, RawDiag: info.RawDiag,
		})
		seen[uid] = true
	}

	if err := s.saveSeen(persist, seen); err != nil {
		return stats, err
	}
	zap.L().Info("bounce: scan complete",
		zap.Int("bounced", stats.Bounced),
		zap.Int("invalid", stats.Invalid),
		zap.Int("already_seen", stats.AlreadySeen),
	)
	return stats, nil
}

func (s *Scanner) loadSeen(ctx context.Context) (map[uint32]bool, error) {
	uids, _, err := store.GetCached[[]uint32](ctx, s.Store, store.NamespaceBounce, s.SeenKey)
	if err != nil {
		return nil, eris.Wrap(err, "bounce: load seen")
	}
	seen := make(map[uint32]bool)
	if uids != nil {
		for _, uid := range *uids {
			seen[uid] = true
		}
	}
	return seen, nil
}

func (s *Scanner) saveSeen(ctx context.Context, seen map[uint32]bool) error {
	uids := make([]uint32, 0, len(seen))
	for uid := range seen {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	return eris.Wrap(store.SetCached(ctx, s.Store, store.NamespaceBounce, s.SeenKey, &uids), "bounce: save seen")
}
