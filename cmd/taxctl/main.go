// Command taxctl inspects jurisdiction tax rule files: it validates them,
// resolves rates for a location and prices an amount under a strategy.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("taxctl failed", "error", err)
		os.Exit(1)
	}
}

type locationFlags struct {
	rules   []string
	country string
	region  string
}

func (f *locationFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.rules, "rules", "r", []string{"rules/tax.yaml"}, "rule files, merged in order")
	cmd.Flags().StringVar(&f.country, "country", "", "ISO country code")
	cmd.Flags().StringVar(&f.region, "region", "", "region code within the country")
	_ = cmd.MarkFlagRequired("country")
}

func (f *locationFlags) resolver() (*tax.Resolver, error) {
	rules, err := tax.LoadRulesFiles(f.rules...)
	if err != nil {
		return nil, err
	}
	return tax.NewResolver(rules), nil
}

func (f *locationFlags) address() tax.Address {
	return tax.Address{CountryID: f.country, RegionID: f.region}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "taxctl",
		Short:         "Inspect jurisdiction tax rules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newResolveCmd(), newPriceCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Parse rule files and report the jurisdictions they declare",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := tax.LoadRulesFiles(args...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, code := range rules.CountryCodes() {
				country, _ := rules.Country(code)
				regions := make([]string, 0, len(country.Regions))
				for r := range country.Regions {
					regions = append(regions, r)
				}
				sort.Strings(regions)
				line := fmt.Sprintf("%s: %s", code, strings.Join(regions, ", "))
				if country.DefaultRegion != "" {
					line += " (default " + country.DefaultRegion + ")"
				}
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "ok: %d countries\n", len(rules.Countries))
			return nil
		},
	}
}

type resolvedRate struct {
	ProductType string `json:"product_type"`
	Key         string `json:"key,omitempty"`
	Name        string `json:"name,omitempty"`
	Type        string `json:"type,omitempty"`
	Rate        string `json:"rate,omitempty"`
	Exempt      bool   `json:"exempt,omitempty"`
}

func newResolveCmd() *cobra.Command {
	var (
		loc    locationFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <product-type>...",
		Short: "Show the rates applying to product types at a location",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := loc.resolver()
			if err != nil {
				return err
			}
			reqs := make([]tax.Request, len(args))
			for i, pt := range args {
				reqs[i] = tax.Request{ProductType: pt, Address: loc.address()}
			}
			sets, err := tax.ResolveAll(cmd.Context(), resolver, reqs)
			if err != nil {
				return err
			}

			var rows []resolvedRate
			for i, set := range sets {
				if set.IsEmpty() {
					rows = append(rows, resolvedRate{ProductType: args[i], Exempt: true})
					continue
				}
				for _, r := range set.Rates() {
					rows = append(rows, resolvedRate{
						ProductType: args[i],
						Key:         r.Key,
						Name:        r.Name,
						Type:        r.Type,
						Rate:        r.Rate.String(),
					})
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return writeRates(cmd.OutOrStdout(), rows)
		},
	}
	loc.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeRates(w io.Writer, rows []resolvedRate) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT TYPE\tNAME\tTYPE\tRATE")
	for _, r := range rows {
		if r.Exempt {
			fmt.Fprintf(tw, "%s\t-\t-\texempt\n", r.ProductType)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s%%\n", r.ProductType, r.Name, r.Type, r.Rate)
	}
	return tw.Flush()
}

func newPriceCmd() *cobra.Command {
	var (
		loc         locationFlags
		productType string
		strategy    string
	)
	cmd := &cobra.Command{
		Use:   "price <amount>",
		Short: "Split a price into net, tax and gross at a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := tax.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			price, err := tax.ParsePrice(args[0])
			if err != nil {
				return err
			}
			resolver, err := loc.resolver()
			if err != nil {
				return err
			}
			rates, err := resolver.Resolve(productType, loc.address())
			if err != nil {
				return err
			}

			net, err := s.NetPrice(price, rates)
			if err != nil {
				return errors.Wrap(err, "net price")
			}
			gross, err := s.GrossPrice(price, rates)
			if err != nil {
				return errors.Wrap(err, "gross price")
			}
			taxDue := gross.Sub(net)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "net:   %s\n", net.StringFixed(2))
			for _, l := range rates.Split(taxDue) {
				fmt.Fprintf(out, "  %s %s%%: %s\n", l.Type, l.Rate, l.Amount.StringFixed(2))
			}
			fmt.Fprintf(out, "tax:   %s\n", taxDue.StringFixed(2))
			fmt.Fprintf(out, "gross: %s\n", gross.StringFixed(2))
			return nil
		},
	}
	loc.bind(cmd)
	cmd.Flags().StringVarP(&productType, "type", "t", "default", "product type")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "inclusive", "whether the amount includes tax (inclusive or exclusive)")
	return cmd
}
