package cache

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/chain"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimerr"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/eligibility"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/retry"
)

// Syncer keeps the mirror converging on chain state: periodic full resyncs
// of known templates plus incremental updates from observed mints. Every
// failure here is logged and retried later; none of them blocks a
// redemption, since the contract re-validates at mint time regardless.
type Syncer struct {
	Store    Store
	Chain    chain.Reader
	Retry    retry.Config
	Interval time.Duration
	Log      *slog.Logger

	// Events, when set, is scanned each cycle for CardIssued mints that
	// bypassed this service (direct issuer transactions).
	Events chain.EventReader
	Now    func() time.Time

	// OnSyncError observes each failed sync, for metrics.
	OnSyncError func()
	// OnResync observes the number of templates covered by each full
	// resync, for metrics.
	OnResync func(count int)

	fromBlock uint64
}

// Resync reads templates(templateId) for each id and upserts the result.
// Individual failures are logged and skipped; the loop keeps going.
func (s *Syncer) Resync(ctx context.Context, templateIDs []*big.Int) {
	for _, id := range templateIDs {
		t, err := retry.Do(ctx, s.Retry, func(ctx context.Context) (eligibility.Template, error) {
			return s.Chain.Template(ctx, id)
		})
		if err != nil {
			s.reportErr("resync read", id, err)
			continue
		}
		if existing, err := s.Store.Template(ctx, id); err == nil && existing != nil {
			// templates() does not expose the eligibility mode or the
			// requirements map; keep what the cache already knows.
			t.Eligibility = existing.Eligibility
			t.Requirements = existing.Requirements
		}
		if err := s.Store.UpsertTemplate(ctx, t); err != nil {
			s.reportErr("resync upsert", id, err)
		}
	}
}

// ResyncKnown resyncs every template id already present in the store.
func (s *Syncer) ResyncKnown(ctx context.Context) {
	ids, err := s.Store.TemplateIDs(ctx)
	if err != nil {
		s.reportErr("list templates", nil, err)
		return
	}
	s.Resync(ctx, ids)
	if s.OnResync != nil {
		s.OnResync(len(ids))
	}
}

// IngestEvents folds CardIssued mints observed since the last scan into the
// mirror. Mints already recorded by the redemption flow are no-ops; the
// rest are direct issuances.
func (s *Syncer) IngestEvents(ctx context.Context) {
	if s.Events == nil {
		return
	}
	receipts, head, err := s.Events.CardIssuedSince(ctx, s.fromBlock)
	if err != nil {
		s.reportErr("scan events", nil, err)
		return
	}
	for _, receipt := range receipts {
		s.ApplyClaim(ctx, eligibility.ClaimRecord{
			ProfileID:  receipt.ProfileID,
			TemplateID: receipt.TemplateID,
			CardID:     receipt.CardID,
			ClaimType:  eligibility.ClaimTypeDirect,
			ClaimedAt:  s.now(),
		})
	}
	s.fromBlock = head
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ApplyClaim folds a confirmed mint into the mirror: one claims_log row and
// one supply increment, idempotently.
func (s *Syncer) ApplyClaim(ctx context.Context, rec eligibility.ClaimRecord) {
	if err := s.Store.RecordClaim(ctx, rec); err != nil {
		s.reportErr("record claim", rec.TemplateID, err)
	}
}

// Run resyncs on a fixed interval until the context ends.
func (s *Syncer) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ResyncKnown(ctx)
			s.IngestEvents(ctx)
		}
	}
}

func (s *Syncer) reportErr(op string, id *big.Int, err error) {
	wrapped := claimerr.CacheSync(err)
	attrs := []any{slog.String("op", op), slog.Any("error", wrapped)}
	if id != nil {
		attrs = append(attrs, slog.String("template_id", id.String()))
	}
	if s.Log != nil {
		s.Log.Warn("cache sync failed", attrs...)
	}
	if s.OnSyncError != nil {
		s.OnSyncError()
	}
}
