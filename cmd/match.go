package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/gate-attendance/internal/config"
	"github.com/kozaktomas/gate-attendance/internal/logger"
	"github.com/kozaktomas/gate-attendance/internal/matcher"
	"github.com/spf13/cobra"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match probe embeddings against the enrolled students",
	Long: `Load every enrolled student into a fresh embedding cache and match the probe
vectors from a JSON file against it. The file uses the enrollment format:
a bare array of vectors or an object with an "embeddings" array.

Examples:
  # Match a captured probe
  gate-attendance match --file probe.json

  # Use a stricter threshold and print JSON
  gate-attendance match --file probe.json --threshold 0.85 --json`,
	Args: cobra.NoArgs,
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("file", "", "JSON file with probe embeddings (required)")
	matchCmd.Flags().Float64("threshold", 0, "Minimum cosine similarity (default from MATCHER_THRESHOLD)")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
}

func runMatch(cmd *cobra.Command, args []string) error {
	path := mustGetString(cmd, "file")
	threshold := mustGetFloat64(cmd, "threshold")
	jsonOutput := mustGetBool(cmd, "json")

	if path == "" {
		return errors.New("--file is required")
	}
	probes, err := matcher.LoadEmbeddingFile(path)
	if err != nil {
		return err
	}

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	m := matcher.New(st.registry, log, matcherOptions(cfg, nil))
	if err := m.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load embedding cache: %w", err)
	}

	results, err := m.MatchBatch(ctx, probes, threshold)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	applied := threshold
	if applied <= 0 || applied > 1 {
		applied = m.Threshold()
	}
	stats := m.Stats()
	fmt.Printf("Matched %d probes against %d students (%d references), threshold %.2f\n\n",
		len(probes), stats.Identities, stats.References, applied)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBE\tSTUDENT\tNAME\tCONFIDENCE")
	for i, res := range results {
		switch {
		case res.Err != nil:
			fmt.Fprintf(w, "%d\t-\t%v\t-\n", i, res.Err)
		case res.Matched:
			fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\n", i, res.StudentID, res.Name, res.Score)
		default:
			fmt.Fprintf(w, "%d\t-\t(no match)\t%.4f\n", i, res.Score)
		}
	}
	return w.Flush()
}
