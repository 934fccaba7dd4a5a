package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"starwatch/internal/config"
	"starwatch/internal/content"
	"starwatch/internal/poller"
	"starwatch/internal/surface"
)

var (
	checkSince  string
	checkDryRun bool
	checkFormat string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one poll cycle and list new items",
	Long: "check runs a single cycle treating everything published within --since as new. " +
		"Unless --dry-run is set, alerts are presented on the configured surface when consent is granted.",
	RunE: checkAction,
}

func init() {
	checkCmd.Flags().StringVar(&checkSince, "since", "24h", "look-back window (e.g. 90m, 24h, 7d)")
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "list new items without presenting alerts")
	checkCmd.Flags().StringVar(&checkFormat, "format", "text", "output format: text, json")
	rootCmd.AddCommand(checkCmd)
}

// checkResult is the JSON shape of a check run.
type checkResult struct {
	Since     time.Time      `json:"since"`
	Sources   int            `json:"sources"`
	Items     int            `json:"items"`
	Novel     []content.Item `json:"novel"`
	Presented int            `json:"presented"`
	Skipped   bool           `json:"skipped"`
	Errors    []string       `json:"errors,omitempty"`
}

func checkAction(cmd *cobra.Command, _ []string) error {
	window, err := parseDuration(checkSince)
	if err != nil || window <= 0 {
		return fmt.Errorf("parse --since %q: want a positive duration", checkSince)
	}
	if checkFormat != "text" && checkFormat != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", checkFormat)
	}
	ctx := cmd.Context()
	since := time.Now().Add(-window)

	_, comp, err := loadComponents(ctx, since)
	if err != nil {
		return err
	}
	defer closeComponents(comp)

	var res checkResult
	res.Since = since
	if checkDryRun {
		snap := comp.Fetcher.Fetch(ctx)
		res.Sources, res.Items = len(snap.Sources), len(snap.Items)
		for _, e := range snap.Errs {
			res.Errors = append(res.Errors, e.Error())
		}
		res.Skipped = snap.Failed()
		if !res.Skipped {
			res.Novel = comp.Tracker.SelectNovel(snap.Sources, snap.Items)
		}
	} else {
		if err := comp.Surface.Start(ctx); err != nil && !errors.Is(err, surface.ErrUnsupported) {
			return fmt.Errorf("start surface: %w", err)
		}
		if st := comp.Gate.Refresh(ctx); st != poller.PermissionGranted {
			fmt.Fprintf(cmd.ErrOrStderr(), "alerts are not shown: permission %s (see 'starwatch consent')\n", st)
		}
		rep := comp.Scheduler.RunOnce(ctx)
		res.Sources, res.Items, res.Novel = rep.Sources, rep.Items, rep.Novel
		res.Presented, res.Skipped = rep.Presented, rep.Skipped
		for _, e := range rep.FetchErrors {
			res.Errors = append(res.Errors, e.Error())
		}
	}

	if checkFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printCheck(cmd.OutOrStdout(), res, checkDryRun)
	return nil
}

func printCheck(w io.Writer, res checkResult, dryRun bool) {
	for _, e := range res.Errors {
		fmt.Fprintf(w, "warning: %s\n", e)
	}
	if res.Skipped {
		fmt.Fprintln(w, "Cycle skipped: the content service could not be read completely.")
		return
	}
	fmt.Fprintf(w, "%d new item(s) since %s (%d sources, %d items checked)\n",
		len(res.Novel), res.Since.Format(time.RFC3339), res.Sources, res.Items)
	for _, it := range res.Novel {
		fmt.Fprintf(w, "  - %s\n    %s  (%s)\n", it.Title, it.URL, it.EffectiveTime().Format(time.RFC3339))
	}
	if !dryRun {
		fmt.Fprintf(w, "%d alert(s) presented\n", res.Presented)
	}
}

// parseDuration accepts Go durations and the whole-day "Nd" form.
func parseDuration(s string) (time.Duration, error) {
	d, err := config.ParseDuration(s)
	if err == nil && d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, err
}
