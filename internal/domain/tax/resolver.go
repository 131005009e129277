package tax

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"
)

// Address is the jurisdiction projection of a postal address.
type Address struct {
	CountryID string
	RegionID  string
}

// RateResolver resolves the rates applicable to a product type at an address.
type RateResolver interface {
	Resolve(productType string, addr Address) (RateSet, error)
}

var (
	_ RateResolver = (*Resolver)(nil)
	_ RateResolver = (*Registry)(nil)
	_ Snapshotter  = (*Registry)(nil)
)

// Snapshotter is implemented by resolvers whose rules can be replaced while
// in use.
type Snapshotter interface {
	Snapshot() RateResolver
}

// Pin returns a resolver whose answers cannot change: the current snapshot
// when r is a Snapshotter, r itself otherwise. Work that must be priced
// under one rule table, such as a single order, pins once and uses the
// result throughout.
func Pin(r RateResolver) RateResolver {
	if s, ok := r.(Snapshotter); ok {
		return s.Snapshot()
	}
	return r
}

// Resolver maps (product type, address) pairs to rate sets by walking the
// rule table: country, then region, then product type, each with a default
// fallback. A Resolver never changes after construction and is safe for
// concurrent use.
type Resolver struct {
	rules *Rules
}

// NewResolver returns a Resolver over rules.
func NewResolver(rules *Rules) *Resolver {
	return &Resolver{rules: rules}
}

// Rules returns the rule table the resolver was built from.
func (r *Resolver) Rules() *Rules { return r.rules }

// Resolve returns every rate that applies to productType at addr. A product
// type without any applicable declaration yields an empty set.
func (r *Resolver) Resolve(productType string, addr Address) (RateSet, error) {
	country, err := r.country(addr)
	if err != nil {
		return RateSet{}, err
	}

	region, err := r.region(country, addr)
	if err != nil {
		return RateSet{}, err
	}

	scope := normalizeProductType(productType)
	product, ok := region.Products[scope]
	if !ok || scope == "" {
		scope = DefaultKey
		product, ok = region.Products[DefaultKey]
	}
	if !ok || product.Exempt {
		return RateSet{}, nil
	}

	rates := make([]Rate, 0, len(product.Rates))
	for name, decl := range product.Rates {
		rates = append(rates, Rate{
			Key:  RateKey(country.Code, region.Code, scope, name),
			Name: name,
			Type: decl.Type,
			Rate: decl.Rate,
		})
	}

	set, err := NewRateSet(rates...)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Country, cfgErr.Region, cfgErr.ProductType = country.Code, region.Code, scope
		}
		return RateSet{}, err
	}
	return set, nil
}

func (r *Resolver) country(addr Address) (*CountryRules, error) {
	if c, ok := r.rules.Country(addr.CountryID); ok {
		return c, nil
	}
	if c, ok := r.rules.Countries[DefaultKey]; ok {
		return c, nil
	}
	return nil, &ConfigError{Country: strings.ToUpper(addr.CountryID), Reason: ErrUnknownCountry}
}

func (r *Resolver) region(country *CountryRules, addr Address) (*RegionRules, error) {
	if addr.RegionID != "" {
		if reg, ok := country.Region(addr.RegionID); ok {
			return reg, nil
		}
	}
	if country.DefaultRegion != "" {
		return country.Regions[country.DefaultRegion], nil
	}
	if reg, ok := country.Regions[DefaultKey]; ok {
		return reg, nil
	}
	return nil, &ConfigError{Country: country.Code, Region: strings.ToUpper(addr.RegionID), Reason: ErrUnknownRegion}
}

// Request is one input to ResolveAll.
type Request struct {
	ProductType string
	Address     Address
}

// ResolveAll resolves every request concurrently. Results are returned in
// request order; the first failure cancels the rest.
func ResolveAll(ctx context.Context, r RateResolver, reqs []Request) ([]RateSet, error) {
	out := make([]RateSet, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			set, err := r.Resolve(req.ProductType, req.Address)
			if err != nil {
				return errors.Wrapf(err, "resolve %s", req.ProductType)
			}
			out[i] = set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Registry holds the current Resolver and replaces it wholesale on reload;
// callers holding the previous Resolver keep a consistent view.
type Registry struct {
	current atomic.Pointer[Resolver]
	paths   []string
}

// NewRegistry loads the rule files at paths and returns a Registry serving
// a Resolver over them.
func NewRegistry(paths ...string) (*Registry, error) {
	reg := &Registry{paths: paths}
	if err := reg.Reload(); err != nil {
		return nil, err
	}
	return reg, nil
}

// Reload re-reads the rule files. On failure the previous Resolver stays in
// service.
func (g *Registry) Reload() error {
	rules, err := LoadRulesFiles(g.paths...)
	if err != nil {
		return errors.Wrap(err, "load tax rules")
	}
	g.current.Store(NewResolver(rules))
	return nil
}

// Resolver returns the Resolver currently in service.
func (g *Registry) Resolver() *Resolver { return g.current.Load() }

// Snapshot returns the Resolver currently in service. Later reloads do not
// affect it.
func (g *Registry) Snapshot() RateResolver { return g.Resolver() }

// Resolve delegates to the current Resolver.
func (g *Registry) Resolve(productType string, addr Address) (RateSet, error) {
	return g.Resolver().Resolve(productType, addr)
}
