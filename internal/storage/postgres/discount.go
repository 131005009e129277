package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/mothership-commerce/internal/domain/discount"
)

const (
	getDiscountByCodeSQL = `SELECT code, discount_type, value, min_items, description,
		valid_from, valid_until, max_uses, uses, max_discount
		FROM discount_rules WHERE UPPER(code) = UPPER($1) AND active = TRUE`

	upsertDiscountSQL = `INSERT INTO discount_rules
		(code, discount_type, value, min_items, description, valid_from, valid_until, max_uses, max_discount, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
		ON CONFLICT (code) DO UPDATE SET discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
			min_items = EXCLUDED.min_items, description = EXCLUDED.description,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			max_uses = EXCLUDED.max_uses, max_discount = EXCLUDED.max_discount, active = TRUE`

	listActiveCodesSQL = `SELECT UPPER(code) FROM discount_rules WHERE active = TRUE`
)

// upsertBatchSize bounds the number of statements queued per batch.
const upsertBatchSize = 1000

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up an active rule by its code (case-insensitive).
// Returns discount.ErrInvalidCode when no matching active rule exists.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Rule, error) {
	rows, err := r.pool.Query(ctx, getDiscountByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanDiscountRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrInvalidCode
		}
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	return &rule, nil
}

// Upsert inserts or replaces rules, keeping their usage counters.
func (r *DiscountRepository) Upsert(ctx context.Context, rules []discount.Rule) error {
	for start := 0; start < len(rules); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(rules))

		b := &pgx.Batch{}
		for _, rule := range rules[start:end] {
			b.Queue(upsertDiscountSQL,
				rule.Code, string(rule.Type), rule.Value, rule.MinItems, rule.Description,
				rule.ValidFrom, rule.ValidUntil, rule.MaxUses, rule.MaxDiscount,
			)
		}
		if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("upserting discounts %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// ActiveCodes calls fn for every active code.
func (r *DiscountRepository) ActiveCodes(ctx context.Context, fn func(code string)) error {
	rows, err := r.pool.Query(ctx, listActiveCodesSQL)
	if err != nil {
		return fmt.Errorf("listing discount codes: %w", err)
	}
	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing discount codes: %w", err)
	}
	return nil
}

func scanDiscountRule(row pgx.CollectableRow) (discount.Rule, error) {
	var (
		rule         discount.Rule
		discountType string
	)
	err := row.Scan(
		&rule.Code, &discountType, &rule.Value, &rule.MinItems, &rule.Description,
		&rule.ValidFrom, &rule.ValidUntil, &rule.MaxUses, &rule.Uses, &rule.MaxDiscount,
	)
	rule.Type = discount.Type(discountType)
	return rule, err
}
