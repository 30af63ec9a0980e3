package main

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"voice-server-go/internal/bootstrap"
	"voice-server-go/internal/domain/ledger"
)

var (
	settlePrice float64
	settleForce bool

	rewardMinutes float64
	rewardPrice   float64
	rewardOf      string
)

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Run the monthly batch settlement over unsettled usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := bootstrap.Prepare(cmd.Context(), options())
		if err != nil {
			return err
		}
		defer app.Close()

		price := settlePrice
		if price == 0 {
			price = app.Config().Ledger.MarketPriceUSD
		}
		report, err := app.Settler().Settle(cmd.Context(), time.Now(), price, settleForce)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

var rewardCmd = &cobra.Command{
	Use:   "reward",
	Short: "Show the batch reward for a number of minutes or for one contribution",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := bootstrap.Prepare(cmd.Context(), options())
		if err != nil {
			return err
		}
		defer app.Close()

		minutes := rewardMinutes
		if rewardOf != "" {
			total, err := app.Ledger().ContributionUsage(cmd.Context(), rewardOf)
			if err != nil {
				return err
			}
			minutes = total.TotalSeconds / 60
		}
		price := rewardPrice
		if price == 0 {
			price = app.Config().Ledger.MarketPriceUSD
		}
		calc, err := ledger.CalculateReward(minutes, price)
		if err != nil {
			return err
		}
		days, err := app.Settler().DaysUntilNext(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		return printJSON(cmd, struct {
			ledger.RewardCalculation
			NextSettlementInDays int `json:"nextSettlementInDays"`
		}{calc, days})
	},
}

func init() {
	settleCmd.Flags().Float64Var(&settlePrice, "price", 0, "token market price in USD (default from config)")
	settleCmd.Flags().BoolVar(&settleForce, "force", false, "settle even if the cycle has not elapsed")

	rewardCmd.Flags().Float64Var(&rewardMinutes, "minutes", 0, "minutes of usage")
	rewardCmd.Flags().StringVar(&rewardOf, "contribution", "", "use the recorded minutes of this contribution")
	rewardCmd.Flags().Float64Var(&rewardPrice, "price", 0, "token market price in USD (default from config)")
	rewardCmd.MarkFlagsMutuallyExclusive("minutes", "contribution")

	rootCmd.AddCommand(settleCmd, rewardCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
