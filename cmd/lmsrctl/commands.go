package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atmx/lmsr-amm/internal/lmsr"
)

type globalFlags struct {
	liquidity float64
	shares    string
	output    string
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "lmsrctl",
		Short:        "inspect LMSR prices and trade costs",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if g.output != "human" && g.output != "json" {
				return fmt.Errorf("--output must be human or json, got %q", g.output)
			}
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().Float64VarP(&g.liquidity, "liquidity", "b", 100, "liquidity parameter b")
	root.PersistentFlags().StringVarP(&g.shares, "shares", "q", "0,0", "comma separated outstanding shares, one per outcome")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "human", "output format: human or json")

	root.AddCommand(
		newCostCmd(g),
		newPricesCmd(g),
		newQuoteCmd(g),
		newTargetCmd(g),
		newMaxLossCmd(g),
	)
	return root
}

func parseShares(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	shares := make([]float64, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("share %d is empty", i)
		}
		q, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("share %d: %w", i, err)
		}
		shares = append(shares, q)
	}
	return shares, nil
}

func (g *globalFlags) engine() (*lmsr.Engine, error) {
	shares, err := parseShares(g.shares)
	if err != nil {
		return nil, err
	}
	return lmsr.NewWithShares(g.liquidity, shares)
}

// emit writes v as JSON or the human line, depending on --output.
func (g *globalFlags) emit(cmd *cobra.Command, v any, human string) error {
	if g.output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), human)
	return err
}

func newCostCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cost",
		Short: "print the cost function C(q)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.engine()
			if err != nil {
				return err
			}
			c := e.Cost()
			return g.emit(cmd, map[string]float64{"cost": c}, fmt.Sprintf("C(q) = %.8f", c))
		},
	}
}

func newPricesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prices",
		Short: "print the price of every outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.engine()
			if err != nil {
				return err
			}
			prices := e.Prices()
			lines := make([]string, len(prices))
			for i, p := range prices {
				lines[i] = fmt.Sprintf("outcome %d: %.8f", i, p)
			}
			return g.emit(cmd, map[string][]float64{"prices": prices}, strings.Join(lines, "\n"))
		},
	}
}

func newQuoteCmd(g *globalFlags) *cobra.Command {
	var (
		outcome int
		delta   float64
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "price a trade of --delta shares of --outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.engine()
			if err != nil {
				return err
			}
			cost, err := e.CostToTrade(outcome, delta)
			if err != nil {
				return err
			}
			before, _ := e.Price(outcome)
			after, err := e.PriceAfterTrade(outcome, delta)
			if err != nil {
				return err
			}
			v := map[string]float64{"cost": cost, "price_before": before, "price_after": after}
			return g.emit(cmd, v, fmt.Sprintf("cost %.8f, price %.8f -> %.8f", cost, before, after))
		},
	}
	cmd.Flags().IntVar(&outcome, "outcome", 0, "outcome index")
	cmd.Flags().Float64Var(&delta, "delta", 0, "signed shares to trade")
	cmd.MarkFlagRequired("delta")
	return cmd
}

func newTargetCmd(g *globalFlags) *cobra.Command {
	var (
		outcome int
		price   float64
	)
	cmd := &cobra.Command{
		Use:   "target",
		Short: "print the shares of --outcome needed to reach --price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.engine()
			if err != nil {
				return err
			}
			shares, err := e.SharesToReachPrice(outcome, price)
			if err != nil {
				return err
			}
			return g.emit(cmd, map[string]float64{"shares": shares}, fmt.Sprintf("shares %.8f", shares))
		},
	}
	cmd.Flags().IntVar(&outcome, "outcome", 0, "outcome index")
	cmd.Flags().Float64Var(&price, "price", 0, "target price in (0, 1)")
	cmd.MarkFlagRequired("price")
	return cmd
}

func newMaxLossCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "max-loss",
		Short: "print the market maker's worst-case loss b * ln(n)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.engine()
			if err != nil {
				return err
			}
			loss := e.MaxLoss()
			return g.emit(cmd, map[string]float64{"max_loss": loss}, fmt.Sprintf("max loss %.8f", loss))
		},
	}
}
