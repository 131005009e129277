package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Validator validates a discount code against order lines and returns the
// granted discount.
type Validator interface {
	Validate(ctx context.Context, code string, lines []Line) (*Discount, error)
}

// RepoValidator implements Validator by looking up rules from a Repository
// and applying them via Apply.
type RepoValidator struct {
	repo   Repository
	filter *CodeFilter
	now    func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by repo. A non-nil filter
// rejects codes it has never seen without querying repo.
func NewRepoValidator(repo Repository, filter *CodeFilter) *RepoValidator {
	return &RepoValidator{repo: repo, filter: filter, now: time.Now}
}

// Validate looks up the rule for code, checks its time window and usage
// limit and applies it. It does not count a use: the code is redeemed when
// the order that carries it is stored.
func (v *RepoValidator) Validate(ctx context.Context, code string, lines []Line) (*Discount, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if v.filter != nil && !v.filter.MayContain(code) {
		return nil, ErrInvalidCode
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return nil, ErrInvalidCode
		}
		return nil, errors.Wrap(err, "lookup discount")
	}

	now := v.now()
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return nil, ErrExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return nil, ErrExpired
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return nil, ErrUsageLimitReached
	}

	d, err := Apply(rule, lines)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
