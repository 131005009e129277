package tax

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Rules is the validated jurisdiction rule table. It is read-only once
// returned by ParseRules.
type Rules struct {
	Countries map[string]*CountryRules
}

// CountryRules holds the regions declared for one country.
type CountryRules struct {
	Code string
	// DefaultRegion names the region used when an address region is not
	// declared. Empty means a region keyed "default", if any.
	DefaultRegion string
	Regions       map[string]*RegionRules
}

// RegionRules holds per product type declarations for one region.
type RegionRules struct {
	Code     string
	Products map[string]*ProductRules
}

// ProductRules holds the rates declared for one product type (or the
// "default" product tax) in one region.
type ProductRules struct {
	// Exempt marks an explicit declaration with no rates: the product type is
	// not tax-liable here, as opposed to carrying a 0% rate.
	Exempt bool
	Rates  map[string]RateDecl
}

// RateDecl is a single rate declaration.
type RateDecl struct {
	Type string
	Rate decimal.Decimal
}

// ParseRules compiles one or more YAML sources into a single rule table.
// Later sources extend earlier ones; re-declaring a rate that another source
// already declared is an ambiguous declaration, not an override.
func ParseRules(sources ...[]byte) (*Rules, error) {
	rules := &Rules{Countries: make(map[string]*CountryRules)}
	for i, src := range sources {
		var doc yaml.Node
		if err := yaml.Unmarshal(src, &doc); err != nil {
			return nil, &ConfigError{Reason: ErrInvalidRules, Detail: errors.Wrapf(err, "source %d", i).Error()}
		}
		if len(doc.Content) == 0 {
			continue
		}
		if err := rules.merge(doc.Content[0]); err != nil {
			return nil, err
		}
	}
	if err := rules.validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// LoadRulesFiles reads and compiles rule files. Files ending in .gz are
// decompressed first.
func LoadRulesFiles(paths ...string) (*Rules, error) {
	sources := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := readRulesFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", p)
		}
		sources = append(sources, data)
	}
	return ParseRules(sources...)
}

func readRulesFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) != ".gz" {
		return data, nil
	}

	gz, err := pgzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "gzip")
	}
	defer func() { _ = gz.Close() }()

	return io.ReadAll(gz)
}

// Country returns the rules for code, without falling back to the default.
func (r *Rules) Country(code string) (*CountryRules, bool) {
	c, ok := r.Countries[normalizeCode(code)]
	return c, ok
}

// CountryCodes returns the declared country codes in lexical order.
func (r *Rules) CountryCodes() []string {
	codes := make([]string, 0, len(r.Countries))
	for code := range r.Countries {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

// Region returns the rules for code, without falling back to the default.
func (c *CountryRules) Region(code string) (*RegionRules, bool) {
	reg, ok := c.Regions[normalizeCode(code)]
	return reg, ok
}

// normalizeCode upper-cases jurisdiction codes, keeping the default key as is.
func normalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if strings.EqualFold(code, DefaultKey) {
		return DefaultKey
	}
	return strings.ToUpper(code)
}

func normalizeProductType(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Rules) merge(root *yaml.Node) error {
	top, err := mapping(root, "")
	if err != nil {
		return err
	}
	for _, kv := range top {
		if kv.key != "rates" {
			continue
		}
		countries, err := mapping(kv.value, "rates")
		if err != nil {
			return err
		}
		for _, c := range countries {
			if err := r.mergeCountry(normalizeCode(c.key), c.value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Rules) mergeCountry(code string, n *yaml.Node) error {
	if code == "" {
		return &ConfigError{Reason: ErrInvalidRules, Detail: "empty country code"}
	}

	country, ok := r.Countries[code]
	if !ok {
		country = &CountryRules{Code: code, Regions: make(map[string]*RegionRules)}
		r.Countries[code] = country
	}

	fields, err := mapping(n, code)
	if err != nil {
		return err
	}
	for _, f := range fields {
		switch f.key {
		case "defaultRegion":
			region := normalizeCode(f.value.Value)
			if country.DefaultRegion != "" && country.DefaultRegion != region {
				return &ConfigError{
					Country: code,
					Reason:  ErrAmbiguousDeclaration,
					Detail:  "default region declared as both " + country.DefaultRegion + " and " + region,
				}
			}
			country.DefaultRegion = region
		case "regions":
			regions, err := mapping(f.value, code+".regions")
			if err != nil {
				return err
			}
			for _, reg := range regions {
				if err := country.mergeRegion(normalizeCode(reg.key), reg.value); err != nil {
					return err
				}
			}
		default:
			return &ConfigError{Country: code, Reason: ErrInvalidRules, Detail: "unknown field " + f.key}
		}
	}
	return nil
}

func (c *CountryRules) mergeRegion(code string, n *yaml.Node) error {
	region, ok := c.Regions[code]
	if !ok {
		region = &RegionRules{Code: code, Products: make(map[string]*ProductRules)}
		c.Regions[code] = region
	}

	decls, err := mapping(n, c.Code+"."+code)
	if err != nil {
		return err
	}
	for _, d := range decls {
		// A declaration key may list several product types: "basic, food".
		for _, name := range strings.Split(d.key, ",") {
			productType := normalizeProductType(name)
			if productType == "" {
				return &ConfigError{Country: c.Code, Region: code, Reason: ErrInvalidRules, Detail: "empty product type"}
			}
			if err := c.declare(region, productType, d.value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *CountryRules) declare(region *RegionRules, productType string, n *yaml.Node) error {
	scope := func(reason error, detail string) error {
		return &ConfigError{Country: c.Code, Region: region.Code, ProductType: productType, Reason: reason, Detail: detail}
	}

	product, ok := region.Products[productType]
	if !ok {
		product = &ProductRules{Rates: make(map[string]RateDecl)}
		region.Products[productType] = product
	}

	if isEmpty(n) {
		if len(product.Rates) > 0 {
			return scope(ErrAmbiguousDeclaration, "declared both exempt and taxed")
		}
		product.Exempt = true
		return nil
	}
	if product.Exempt {
		return scope(ErrAmbiguousDeclaration, "declared both exempt and taxed")
	}

	rates, err := mapping(n, c.Code+"."+region.Code+"."+productType)
	if err != nil {
		return err
	}
	for _, r := range rates {
		name := strings.ToLower(r.key)
		if _, dup := product.Rates[name]; dup {
			return scope(ErrAmbiguousDeclaration, "rate "+name+" declared more than once")
		}
		decl, err := parseRateDecl(r.value)
		if err != nil {
			return scope(ErrInvalidRules, "rate "+name+": "+err.Error())
		}
		product.Rates[name] = decl
	}
	return nil
}

func parseRateDecl(n *yaml.Node) (RateDecl, error) {
	fields, err := mapping(n, "")
	if err != nil {
		return RateDecl{}, err
	}

	var (
		decl    RateDecl
		hasRate bool
	)
	for _, f := range fields {
		switch f.key {
		case "type":
			decl.Type = strings.TrimSpace(f.value.Value)
		case "rate":
			rate, err := decimal.NewFromString(f.value.Value)
			if err != nil {
				return RateDecl{}, errors.Errorf("rate %q is not a number", f.value.Value)
			}
			decl.Rate = rate
			hasRate = true
		default:
			return RateDecl{}, errors.Errorf("unknown field %s", f.key)
		}
	}

	switch {
	case decl.Type == "":
		return RateDecl{}, errors.New("type is required")
	case !hasRate:
		return RateDecl{}, errors.New("rate is required")
	case decl.Rate.IsNegative():
		return RateDecl{}, errors.Errorf("rate %s is negative", decl.Rate)
	case !decl.Rate.Equal(decl.Rate.Round(3)):
		return RateDecl{}, errors.Errorf("rate %s has more than 3 decimal places", decl.Rate)
	}
	return decl, nil
}

func (r *Rules) validate() error {
	for code, country := range r.Countries {
		if country.DefaultRegion == "" {
			continue
		}
		if _, ok := country.Regions[country.DefaultRegion]; !ok {
			return &ConfigError{
				Country: code,
				Region:  country.DefaultRegion,
				Reason:  ErrInvalidRules,
				Detail:  "default region is not declared",
			}
		}
	}
	return nil
}

type keyValue struct {
	key   string
	value *yaml.Node
}

// mapping returns the pairs of a YAML mapping node, rejecting keys that
// appear twice.
func mapping(n *yaml.Node, path string) ([]keyValue, error) {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	if n.Kind != yaml.MappingNode {
		return nil, &ConfigError{Reason: ErrInvalidRules, Detail: "expected mapping at " + pathOrRoot(path)}
	}

	pairs := make([]keyValue, 0, len(n.Content)/2)
	seen := make(map[string]int, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if line, dup := seen[k.Value]; dup {
			return nil, &ConfigError{
				Reason: ErrAmbiguousDeclaration,
				Detail: errors.Errorf("%s: key %q at line %d already declared at line %d",
					pathOrRoot(path), k.Value, k.Line, line).Error(),
			}
		}
		seen[k.Value] = k.Line
		pairs = append(pairs, keyValue{key: k.Value, value: v})
	}
	return pairs, nil
}

func isEmpty(n *yaml.Node) bool {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Tag == "!!null"
	case yaml.MappingNode:
		return len(n.Content) == 0
	}
	return false
}

func pathOrRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}
