package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"reconworks/internal/normalizer"
	"reconworks/internal/parsers"
	"reconworks/pkg/errors"
	"reconworks/pkg/logger"

	"github.com/spf13/cobra"
)

// Flags for the normalize command
var (
	normalizeFile    string
	normalizeColumn  string
	normalizeAliases string
	normalizeFormat  string
)

// normalizeCmd represents the normalize command
var normalizeCmd = &cobra.Command{
	Use:   "normalize [vendor...]",
	Short: "Normalize raw vendor strings with the alias rules",
	Long: `Normalize cleans raw vendor strings and resolves each to a canonical vendor
using the ordered vendor alias rules. Input comes from the arguments, from one
column of a CSV file (--file), or from stdin, one value per line.

Examples:
  reconworks normalize "AMZN Mktp US*2K3" "Uber *Trip"
  reconworks normalize --file data/raw/transactions.csv --column vendor_raw
  cat vendors.txt | reconworks normalize --output-format json`,
	RunE: runNormalize,
}

func init() {
	rootCmd.AddCommand(normalizeCmd)

	flags := normalizeCmd.Flags()
	flags.StringVar(&normalizeFile, "file", "", "CSV file to read vendor values from")
	flags.StringVar(&normalizeColumn, "column", parsers.ColumnVendorRaw, "CSV column holding raw vendor values")
	flags.StringVar(&normalizeAliases, "aliases", "", "vendor alias rules CSV (default: reference.vendor_aliases_path)")
	flags.StringVarP(&normalizeFormat, "output-format", "f", "console", "output format: console, json")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	if normalizeFormat != "console" && normalizeFormat != "json" {
		return errors.ValidationError(errors.CodeOutOfRange, "output-format", normalizeFormat, nil).
			WithSuggestion("Valid formats: console, json")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	aliasPath := normalizeAliases
	if aliasPath == "" {
		aliasPath = cfg.Reference.VendorAliasesPath
	}
	aliases, err := parsers.LoadAliasRules(aliasPath)
	if err != nil {
		return err
	}

	raws, err := vendorInputs(args, normalizeFile, normalizeColumn, cmd.InOrStdin())
	if err != nil {
		return err
	}

	n := normalizer.New(aliases)
	rows, stats := n.NormalizeAll(raws)

	logger.GetGlobalLogger().WithComponent("normalizer").WithFields(logger.Fields{
		"rules":         len(n.Rules()),
		"rows":          stats.Total,
		"alias_matches": stats.AliasMatches,
		"fallbacks":     stats.Fallbacks,
		"missing":       stats.Missing,
	}).Info("Vendor normalization completed")

	return outputError(renderNormalization(cmd.OutOrStdout(), rows, stats, normalizeFormat), "normalization report")
}

// vendorInputs picks the raw vendor values: arguments first, then the CSV
// file column, then stdin lines.
func vendorInputs(args []string, file, column string, stdin io.Reader) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.FileError(errors.CodeFileNotFound, file, err)
			}
			return nil, errors.FileError(errors.CodeFilePermission, file, err)
		}
		defer f.Close()
		return parsers.ReadVendorColumn(file, f, column)
	}

	var out []string
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		out = append(out, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.FileError(errors.CodeInvalidFormat, "stdin", err)
	}
	return out, nil
}

type normalizationReport struct {
	Rows  []normalizer.Row `json:"rows"`
	Stats normalizer.Stats `json:"stats"`
}

func renderNormalization(w io.Writer, rows []normalizer.Row, stats normalizer.Stats, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(normalizationReport{Rows: rows, Stats: stats})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RAW\tCLEAN\tCANONICAL\tMETHOD\tCONFIDENCE\tNOTES")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n", r.Raw, r.Clean, r.Canonical, r.Method, r.Confidence, r.Notes)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nRows: %d  Alias matches: %d  Fallbacks: %d  Missing: %d\n",
		stats.Total, stats.AliasMatches, stats.Fallbacks, stats.Missing)
	return nil
}
