package tax

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrConfiguration is matched by every *ConfigError. Configuration errors
	// are deterministic and must not be retried.
	ErrConfiguration = errors.New("tax configuration error")

	// ErrUnknownCountry is returned when neither the address country nor the
	// "default" country entry exists.
	ErrUnknownCountry = errors.New("no default region")
	// ErrUnknownRegion is returned when the address region is not declared and
	// the country has no default region.
	ErrUnknownRegion = errors.New("no default region for country")
	// ErrAmbiguousDeclaration is returned when the same rate is declared more
	// than once for a product type at one jurisdiction level.
	ErrAmbiguousDeclaration = errors.New("ambiguous tax declaration")
	// ErrInvalidRules is returned for malformed rule tables.
	ErrInvalidRules = errors.New("invalid tax rules")

	// ErrRateNotFound is returned when a key is absent from a RateSet.
	ErrRateNotFound = errors.New("tax rate not found")

	// ErrInvalidPrice is returned for non-numeric or negative prices.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrUnknownStrategy is returned for unrecognised tax strategy names.
	ErrUnknownStrategy = errors.New("unknown tax strategy")
)

// ConfigError describes a misconfigured jurisdiction rule table.
type ConfigError struct {
	Country     string
	Region      string
	ProductType string
	Reason      error
	Detail      string
}

func (e *ConfigError) Error() string {
	var scope []string
	for _, part := range []string{e.Country, e.Region, e.ProductType} {
		if part != "" {
			scope = append(scope, part)
		}
	}

	msg := e.Reason.Error()
	if len(scope) > 0 {
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(scope, "."))
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the specific reason, e.g. ErrAmbiguousDeclaration.
func (e *ConfigError) Unwrap() error { return e.Reason }

// Is reports whether target is ErrConfiguration.
func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// ValidationError reports caller input that can be corrected and retried.
type ValidationError struct {
	Field  string
	Value  string
	Reason error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// NotFoundError indicates a RateSet lookup miss.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tax rate %q not found", e.Key)
}

// Is reports whether target is ErrRateNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrRateNotFound }
