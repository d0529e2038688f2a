package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/eligibility"
)

// PostgresStore persists the mirror in PostgreSQL. Numeric IDs are stored
// as decimal text so uint256 values survive unclipped.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS templates_cache (
    template_id TEXT PRIMARY KEY,
    issuer TEXT NOT NULL,
    max_supply BIGINT NOT NULL,
    current_supply BIGINT NOT NULL,
    tier BIGINT NOT NULL,
    start_time BIGINT NOT NULL,
    end_time BIGINT NOT NULL,
    is_paused BOOLEAN NOT NULL,
    eligibility_type TEXT NOT NULL DEFAULT 'open',
    requirements JSONB NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS claims_log (
    profile_id TEXT NOT NULL,
    template_id TEXT NOT NULL,
    card_id BIGINT NOT NULL,
    claim_type TEXT NOT NULL,
    claimed_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (profile_id, template_id)
);
`

// NewPostgresStore connects using the DSN and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTablesSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) UpsertTemplate(ctx context.Context, t eligibility.Template) error {
	reqs, err := json.Marshal(nonNil(t.Requirements))
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO templates_cache
    (template_id, issuer, max_supply, current_supply, tier, start_time, end_time, is_paused, eligibility_type, requirements, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (template_id) DO UPDATE
SET issuer = EXCLUDED.issuer,
    max_supply = EXCLUDED.max_supply,
    current_supply = EXCLUDED.current_supply,
    tier = EXCLUDED.tier,
    start_time = EXCLUDED.start_time,
    end_time = EXCLUDED.end_time,
    is_paused = EXCLUDED.is_paused,
    eligibility_type = EXCLUDED.eligibility_type,
    requirements = EXCLUDED.requirements,
    updated_at = EXCLUDED.updated_at
`, t.ID.String(), t.Issuer.Hex(), int64(t.MaxSupply), int64(t.CurrentSupply), t.Tier,
		int64(t.StartTime), int64(t.EndTime), t.Paused, t.Eligibility.String(), reqs, time.Now().UTC())
	return err
}

func (p *PostgresStore) Template(ctx context.Context, templateID *big.Int) (*eligibility.Template, error) {
	row := p.pool.QueryRow(ctx, `
SELECT issuer, max_supply, current_supply, tier, start_time, end_time, is_paused, eligibility_type, requirements
FROM templates_cache
WHERE template_id = $1
`, templateID.String())

	var (
		issuer   string
		maxSup   int64
		curSup   int64
		tier     int64
		start    int64
		end      int64
		paused   bool
		elig     string
		reqsJSON []byte
	)
	if err := row.Scan(&issuer, &maxSup, &curSup, &tier, &start, &end, &paused, &elig, &reqsJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	eligType, err := eligibility.ParseType(elig)
	if err != nil {
		return nil, err
	}
	var reqs map[string]string
	if len(reqsJSON) > 0 {
		if err := json.Unmarshal(reqsJSON, &reqs); err != nil {
			return nil, fmt.Errorf("unmarshal requirements: %w", err)
		}
	}

	return &eligibility.Template{
		ID:            new(big.Int).Set(templateID),
		Issuer:        common.HexToAddress(issuer),
		MaxSupply:     uint64(maxSup),
		CurrentSupply: uint64(curSup),
		Tier:          tier,
		StartTime:     uint64(start),
		EndTime:       uint64(end),
		Paused:        paused,
		Eligibility:   eligType,
		Requirements:  reqs,
	}, nil
}

func (p *PostgresStore) TemplateIDs(ctx context.Context) ([]*big.Int, error) {
	rows, err := p.pool.Query(ctx, `SELECT template_id FROM templates_cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []*big.Int
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt template_id %q", raw)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordClaim appends one claim row and bumps the cached supply, once.
// Replaying the same mint event is a no-op.
func (p *PostgresStore) RecordClaim(ctx context.Context, rec eligibility.ClaimRecord) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
INSERT INTO claims_log (profile_id, template_id, card_id, claim_type, claimed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (profile_id, template_id) DO NOTHING
`, rec.ProfileID.String(), rec.TemplateID.String(), int64(rec.CardID), rec.ClaimType, rec.ClaimedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		if _, err := tx.Exec(ctx, `
UPDATE templates_cache
SET current_supply = current_supply + 1, updated_at = $2
WHERE template_id = $1
`, rec.TemplateID.String(), time.Now().UTC()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) HasClaimed(ctx context.Context, profileID, templateID *big.Int) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM claims_log WHERE profile_id = $1 AND template_id = $2
)
`, profileID.String(), templateID.String()).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) ClaimsFor(ctx context.Context, profileID *big.Int) ([]eligibility.ClaimRecord, error) {
	rows, err := p.pool.Query(ctx, `
SELECT profile_id, template_id, card_id, claim_type, claimed_at
FROM claims_log
WHERE profile_id = $1
ORDER BY claimed_at
`, profileID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []eligibility.ClaimRecord
	for rows.Next() {
		var (
			profRaw   string
			tmplRaw   string
			cardID    int64
			claimType string
			claimedAt time.Time
		)
		if err := rows.Scan(&profRaw, &tmplRaw, &cardID, &claimType, &claimedAt); err != nil {
			return nil, err
		}
		prof, _ := new(big.Int).SetString(profRaw, 10)
		tmpl, _ := new(big.Int).SetString(tmplRaw, 10)
		out = append(out, eligibility.ClaimRecord{
			ProfileID:  prof,
			TemplateID: tmpl,
			CardID:     uint64(cardID),
			ClaimType:  claimType,
			ClaimedAt:  claimedAt,
		})
	}
	return out, rows.Err()
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
