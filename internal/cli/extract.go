package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-audit/internal/models"
)

var (
	extractConcurrency int
	extractTags        []string
	extractExamples    string
	extractPretty      bool
)

var extractCmd = &cobra.Command{
	Use:   "extract FILE...",
	Short: "Run the extraction pipeline over local report files",
	Long: `Run one extraction per report file and write one JSON result per line to
stdout, in argument order. Use "-" to read a report from stdin. Logs go to
stderr. The command fails if any run did not finish.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().IntVar(&extractConcurrency, "concurrency", 2, "maximum reports processed at once")
	extractCmd.Flags().StringSliceVar(&extractTags, "tag", nil, "allowed tag (repeatable); defaults to the corpus vocabulary")
	extractCmd.Flags().StringVar(&extractExamples, "examples", "", "file holding the examples block; defaults to the corpus examples")
	extractCmd.Flags().BoolVar(&extractPretty, "pretty", false, "indent JSON output")
}

// fileResult is one line of extract output.
type fileResult struct {
	File   string                `json:"file"`
	Result models.PipelineResult `json:"result"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var examples string
	if extractExamples != "" {
		data, err := os.ReadFile(extractExamples)
		if err != nil {
			return fmt.Errorf("read examples: %w", err)
		}
		examples = string(data)
	}

	reports := make([]string, len(args))
	for i, path := range args {
		text, err := readReport(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}
		reports[i] = text
	}

	a, err := newApp(ctx, configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	results := make([]fileResult, len(args))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(extractConcurrency, 1))
	for i := range args {
		g.Go(func() error {
			// Run failures are reported in the result, not through the group.
			res, _ := a.service.Run(gCtx, models.ExtractionRequest{
				ReportText:  reports[i],
				AllowedTags: extractTags,
				Examples:    examples,
			})
			results[i] = fileResult{File: args[i], Result: res}
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(cmd.OutOrStdout())
	if extractPretty {
		enc.SetIndent("", "  ")
	}
	var failed []string
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		if r.Result.Outcome != models.OutcomeDone {
			failed = append(failed, r.File)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d runs did not finish: %s", len(failed), len(results), strings.Join(failed, ", "))
	}
	return nil
}

func readReport(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}
	return string(data), nil
}
