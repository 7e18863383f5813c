// Package main provides the command line entry point of the jewelry price sync service
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	businessflow "github.com/amirphl/metal-price-sync/business_flow"
	"github.com/amirphl/metal-price-sync/config"
	"github.com/amirphl/metal-price-sync/models"
	"github.com/amirphl/metal-price-sync/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose bool
	envFile string

	logger *zap.Logger
	cfg    *config.Config
)

// errRunNotSuccessful makes the process exit 1 without a second error line.
var errRunNotSuccessful = errors.New("price run did not succeed")

var rootCmd = &cobra.Command{
	Use:           "metal-price-sync",
	Short:         "Recompute jewelry prices from live metal rates and sync them to Shopify",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(envFile)
		if err != nil {
			return err
		}
		logger, err = utils.NewLogger(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runFlags struct {
	dryRun         bool
	skipMetafields bool
	pushSettings   bool
	goldRate       float64
	silverRate     float64
	makingCharge   float64
	markup         float64
	tax            float64
	currency       string
	summaryFile    string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one price update and exit",
	Long: `Fetches the current metal rates (unless given on the command line), recomputes
every variant price of the eligible products and writes the changed prices back.

Exits with status 1 when the run aborted or completed with errors.`,
	RunE: runPriceUpdate,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the admin API and run scheduled price updates",
	RunE:  serve,
}

var checkRatesCmd = &cobra.Command{
	Use:   "check-rates",
	Short: "Fetch the live metal rates and print them",
	RunE:  checkRates,
}

var tokenSubject string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin API token",
	RunE:  mintToken,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path of the .env file to load")

	f := runCmd.Flags()
	f.BoolVar(&runFlags.dryRun, "dry-run", false, "Compute prices without writing to the store")
	f.BoolVar(&runFlags.skipMetafields, "skip-metafields", false, "Do not write the per-product rate metafields")
	f.BoolVar(&runFlags.pushSettings, "push-settings", false, "Write the rates and charges to the theme settings")
	f.Float64Var(&runFlags.goldRate, "gold-rate", 0, "24K gold rate per gram (skips the live fetch)")
	f.Float64Var(&runFlags.silverRate, "silver-rate", 0, "Pure silver rate per gram (skips the live fetch)")
	f.Float64Var(&runFlags.makingCharge, "making-charge", 0, "Making charge override")
	f.Float64Var(&runFlags.markup, "markup", 0, "Markup percentage override")
	f.Float64Var(&runFlags.tax, "tax", 0, "Tax percentage override")
	f.StringVar(&runFlags.currency, "currency", "", "Currency of the rates (default from CURRENCY)")
	f.StringVar(&runFlags.summaryFile, "summary-file", "", "Where to write the JSON run summary (default from SUMMARY_FILE)")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "Operator name recorded in the token")

	rootCmd.AddCommand(runCmd, serveCmd, checkRatesCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunNotSuccessful) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runPriceUpdate(cmd *cobra.Command, args []string) error {
	if err := config.ValidateConfig(cfg, config.ModeRun); err != nil {
		return err
	}
	if runFlags.summaryFile != "" {
		cfg.Reports.SummaryFile = runFlags.summaryFile
	}

	ctx, cancel := signalContext()
	defer cancel()

	app, err := initializeApplication(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer app.Close()

	in := runInputFromFlags(cmd)
	report, err := app.priceSync.Run(ctx, in)
	if report == nil {
		return err
	}
	if err != nil {
		logger.Error("price run aborted", zap.String("code", businessflow.ErrorCode(err)), zap.Error(err))
	}

	outcome := report.Outcome()
	fmt.Fprintf(cmd.OutOrStdout(), "%s (run %s)\n", report.Summary(), report.RunID)
	if outcome != models.RunOutcomeSuccess {
		return errRunNotSuccessful
	}
	return nil
}

func runInputFromFlags(cmd *cobra.Command) businessflow.RunInput {
	f := cmd.Flags()
	in := businessflow.RunInput{
		Trigger:        utils.TriggerCLI,
		Currency:       strings.ToUpper(runFlags.currency),
		DryRun:         runFlags.dryRun,
		SkipMetafields: runFlags.skipMetafields,
		PushSettings:   runFlags.pushSettings || cfg.Shopify.PushSettings,
	}
	if f.Changed("gold-rate") || f.Changed("silver-rate") {
		in.Rates = models.RateSet{}
		if f.Changed("gold-rate") {
			in.Rates[models.MetalFamilyGold] = runFlags.goldRate
		}
		if f.Changed("silver-rate") {
			in.Rates[models.MetalFamilySilver] = runFlags.silverRate
		}
	}
	if f.Changed("making-charge") {
		in.Overrides.MakingCharge = utils.ToPtr(runFlags.makingCharge)
	}
	if f.Changed("markup") {
		in.Overrides.MarkupPercentage = utils.ToPtr(runFlags.markup)
	}
	if f.Changed("tax") {
		in.Overrides.TaxPercentage = utils.ToPtr(runFlags.tax)
	}
	return in
}

func serve(cmd *cobra.Command, args []string) error {
	if err := config.ValidateConfig(cfg, config.ModeServe); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	app, err := initializeApplication(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Serve(ctx)
}

func checkRates(cmd *cobra.Command, args []string) error {
	if err := config.ValidateConfig(cfg, config.ModeRates); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := newGoldAPIClient(cfg, logger)
	if err := client.CheckConnection(ctx, cfg.Pricing.Currency); err != nil {
		return fmt.Errorf("GoldAPI connection failed: %w", err)
	}
	flow := businessflow.NewPriceSyncFlow(nil, nil, client, nil, nil, priceSyncOptions(cfg), logger)
	rates, err := flow.LiveRates(ctx, cfg.Pricing.Currency)
	if err != nil {
		return err
	}

	out := map[string]any{"currency": cfg.Pricing.Currency, "rates_per_gram": rates}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func mintToken(cmd *cobra.Command, args []string) error {
	if err := config.ValidateConfig(cfg, config.ModeToken); err != nil {
		return err
	}
	tokens, err := newTokenService(cfg)
	if err != nil {
		return err
	}
	token, expiresAt, err := tokens.GenerateAdminToken(tokenSubject)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	logger.Info("admin token issued", zap.String("subject", tokenSubject), zap.Time("expires_at", expiresAt))
	return nil
}
