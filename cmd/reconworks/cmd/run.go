package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"reconworks/cmd/reconworks/config"
	"reconworks/internal/matcher"
	"reconworks/internal/parsers"
	"reconworks/internal/reconciler"
	"reconworks/internal/store"
	"reconworks/pkg/errors"

	"github.com/spf13/cobra"
)

// Flags for the run command
var (
	runBatch        string
	runPreset       string
	runOutputFormat string
	runProgress     bool
)

// matching flags that map one-to-one onto config keys
var matchingFlags = []struct {
	name string
	key  string
}{
	{"date-window", config.KeyDateWindowDays},
	{"amount-tolerance", config.KeyAmountToleranceCents},
	{"min-score", config.KeyMinScore},
	{"low-confidence", config.KeyLowConfidenceThreshold},
	{"vendor-weight", config.KeyVendorWeight},
	{"date-weight", config.KeyDateWeight},
	{"amount-weight", config.KeyAmountWeight},
	{"workers", config.KeyWorkers},
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile one batch and replace its outputs",
	Long: `Run loads the projected transaction and vendor payment facts of a batch,
scores candidate pairs, accepts one-to-one matches, evaluates quality flags
and derives exceptions. Candidates, matches, flags and exceptions of the batch
are replaced in one store transaction, so a failed run leaves the previous
outputs in place.

Without --batch the most recently projected batch is reconciled.

Examples:
  reconworks run
  reconworks run --batch batch-2025-12
  reconworks run --preset relaxed --workers 4
  reconworks run --date-window 5 --amount-tolerance 100 --output-format json`,
	PreRunE: validateRunFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(runCmd)

	defaults := matcher.DefaultMatchingConfig()
	flags := runCmd.Flags()
	flags.StringVarP(&runBatch, "batch", "b", "", "batch id to reconcile (default: latest projected batch)")
	flags.StringVar(&runPreset, "preset", "", "matching preset: default, strict, relaxed")
	flags.StringVarP(&runOutputFormat, "output-format", "f", "console", "output format: console, json")
	flags.BoolVar(&runProgress, "progress", false, "show stage progress on stderr")

	flags.Int("date-window", defaults.DateWindowDays, "blocking date window in days")
	flags.Int64("amount-tolerance", defaults.AmountToleranceCents, "blocking amount tolerance in cents")
	flags.Float64("min-score", defaults.MinScore, "minimum score for an accepted match")
	flags.Float64("low-confidence", defaults.LowConfidenceThreshold, "matches scoring below this become exceptions")
	flags.Float64("vendor-weight", defaults.Weights.Vendor, "vendor similarity weight")
	flags.Float64("date-weight", defaults.Weights.Date, "date proximity weight")
	flags.Float64("amount-weight", defaults.Weights.Amount, "amount proximity weight")
	flags.Int("workers", defaults.Workers, "parallel candidate generation workers")

	for _, f := range matchingFlags {
		_ = settings.BindPFlag(f.key, flags.Lookup(f.name))
	}
}

func validateRunFlags(cmd *cobra.Command, args []string) error {
	switch runOutputFormat {
	case "console", "json":
	default:
		return errors.ValidationError(errors.CodeOutOfRange, "output-format", runOutputFormat, nil).
			WithSuggestion("Valid formats: console, json")
	}
	if _, err := presetConfig(runPreset); err != nil {
		return err
	}
	return nil
}

// presetConfig resolves a named matching preset. The empty name has no preset.
func presetConfig(name string) (*matcher.MatchingConfig, error) {
	switch name {
	case "":
		return nil, nil
	case "default":
		return matcher.DefaultMatchingConfig(), nil
	case "strict":
		return matcher.StrictMatchingConfig(), nil
	case "relaxed":
		return matcher.RelaxedMatchingConfig(), nil
	default:
		return nil, errors.ValidationError(errors.CodeOutOfRange, "preset", name, nil).
			WithSuggestion("Valid presets: default, strict, relaxed")
	}
}

// resolveMatching picks the matching configuration for a run. A preset
// replaces configured values; flags set on the command line override both.
func resolveMatching(cmd *cobra.Command, cfg *config.Config) (*matcher.MatchingConfig, error) {
	matching := cfg.Matching.MatcherConfig()

	preset, err := presetConfig(runPreset)
	if err != nil || preset == nil {
		return matching, err
	}

	flags := cmd.Flags()
	for _, f := range matchingFlags {
		if !flags.Changed(f.name) {
			continue
		}
		switch f.name {
		case "date-window":
			preset.DateWindowDays = matching.DateWindowDays
		case "amount-tolerance":
			preset.AmountToleranceCents = matching.AmountToleranceCents
		case "min-score":
			preset.MinScore = matching.MinScore
		case "low-confidence":
			preset.LowConfidenceThreshold = matching.LowConfidenceThreshold
		case "vendor-weight":
			preset.Weights.Vendor = matching.Weights.Vendor
		case "date-weight":
			preset.Weights.Date = matching.Weights.Date
		case "amount-weight":
			preset.Weights.Amount = matching.Weights.Amount
		case "workers":
			preset.Workers = matching.Workers
		}
	}
	return preset, nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	matching, err := resolveMatching(cmd, cfg)
	if err != nil {
		return err
	}

	rules, err := parsers.LoadPolicyRules(cfg.Reference.PolicyRulesPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := reconciler.NewService(st, &reconciler.Options{
		Matching:    matching,
		PolicyRules: rules,
	})
	if err != nil {
		return err
	}
	if runProgress {
		stderr := cmd.ErrOrStderr()
		svc.AddProgressCallback(func(p *reconciler.Progress) {
			fmt.Fprintf(stderr, "[%d/%d] %s (%.0f%% complete)\n",
				p.CompletedStages, p.TotalStages, p.CurrentStage, p.PercentComplete)
		})
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := svc.Run(ctx, runBatch)
	if err != nil {
		return err
	}
	return outputError(renderSummary(cmd.OutOrStdout(), summary, runOutputFormat), "run summary")
}

// outputError classifies a failure to write command output. Errors that
// already carry a category pass through unchanged.
func outputError(err error, what string) error {
	if err == nil {
		return nil
	}
	return errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "failed to write "+what)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// renderSummary writes the run summary in the requested format
func renderSummary(w io.Writer, summary *reconciler.RunSummary, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	r := summary.Reconciliation
	fmt.Fprintf(w, "RECONCILIATION RUN\n")
	fmt.Fprintf(w, "Run ID:   %s\n", summary.RunID)
	fmt.Fprintf(w, "Batch:    %s\n", summary.BatchID)
	fmt.Fprintf(w, "Finished: %s\n\n", summary.FinishedAt.Format("2006-01-02T15:04:05Z07:00"))

	fmt.Fprintf(w, "Transactions:           %d\n", r.TotalTransactions)
	fmt.Fprintf(w, "Vendor payments:        %d\n", r.TotalPayments)
	fmt.Fprintf(w, "Candidates:             %d\n", summary.Candidates)
	fmt.Fprintf(w, "Matches:                %d (%.1f%% of transactions)\n", r.MatchedTransactions, r.MatchRate()*100)
	fmt.Fprintf(w, "  exact:                %d\n", r.ExactMatches)
	fmt.Fprintf(w, "  date window:          %d\n", r.DateWindowMatches)
	fmt.Fprintf(w, "  vendor fuzzy:         %d\n", r.VendorFuzzyMatches)
	fmt.Fprintf(w, "  weak:                 %d\n", r.WeakMatches)
	fmt.Fprintf(w, "  low confidence:       %d\n", summary.LowConfidence)
	fmt.Fprintf(w, "Unmatched transactions: %d (%s)\n", r.UnmatchedTransactions, r.UnmatchedTxnAmount.StringFixed(2))
	fmt.Fprintf(w, "Unmatched payments:     %d (%s)\n", r.UnmatchedPayments, r.UnmatchedPayAmount.StringFixed(2))
	fmt.Fprintf(w, "Amount matched:         %s\n", r.TotalAmountMatched.StringFixed(2))
	fmt.Fprintf(w, "QA flags:               %d\n", summary.QAFlags)
	fmt.Fprintf(w, "Exceptions:             %d\n", summary.Exceptions)
	return nil
}
