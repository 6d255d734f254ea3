package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qualys/piiflow/internal/analysis"
	"github.com/qualys/piiflow/internal/backend"
	"github.com/qualys/piiflow/internal/models"
	"github.com/qualys/piiflow/internal/reports"
	"github.com/qualys/piiflow/internal/results"
	"github.com/qualys/piiflow/internal/store"
	"github.com/qualys/piiflow/internal/workflow"
)

var (
	analyzeProcess    string
	analyzeCountry    string
	analyzeAttributes []string
	analyzeCategories []string
	analyzePrompt     string
	analyzeFormat     string
	analyzeOutputFile string
	analyzeTitle      string
)

func newAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze file...",
		Short: "Classify local files and export the results",
		Long: `Upload local files to the analysis service, wait for the result and write a
CSV or PDF report.

Examples:
  piiflow analyze contract.pdf scan.png
  piiflow analyze --attribute email --attribute person --category PERSON=RESTRICTED notes.txt
  piiflow analyze --country India --attribute inPan --format pdf --output-file report.pdf ids.pdf
  piiflow analyze --process tables_extraction invoices.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAnalyze,
	}

	cmd.Flags().StringVar(&analyzeProcess, "process", string(models.ProcessClassification), "process type (classification, tables_extraction)")
	cmd.Flags().StringVar(&analyzeCountry, "country", "", "country whose entities are offered")
	cmd.Flags().StringSliceVarP(&analyzeAttributes, "attribute", "a", nil, "entity id to detect (repeatable, replaces the default selection)")
	cmd.Flags().StringSliceVar(&analyzeCategories, "category", nil, "category override as CODE=CATEGORY (repeatable)")
	cmd.Flags().StringVarP(&analyzePrompt, "prompt", "p", "", "free-text instructions for the classifier")
	cmd.Flags().StringVarP(&analyzeFormat, "format", "f", string(reports.FormatCSV), "report format (csv, pdf)")
	cmd.Flags().StringVarP(&analyzeOutputFile, "output-file", "o", "", "report path (defaults to the generated file name)")
	cmd.Flags().StringVar(&analyzeTitle, "title", "", "report title")

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format, err := reports.ParseFormat(strings.ToLower(analyzeFormat))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cmd.ErrOrStderr())
	client := backend.New(cfg.Backend.URL, backend.WithTimeout(cfg.Backend.Timeout), backend.WithLogger(logger))

	st := store.NewMemory()
	defer st.Close()
	sessions := workflow.NewManager(st,
		workflow.WithSpoolDir(cfg.Session.SpoolDir),
		workflow.WithLogger(logger),
	)

	sess, err := sessions.Create(ctx)
	if err != nil {
		return err
	}
	defer sessions.Delete(context.Background(), sess.ID)

	files, err := spoolFiles(sessions, sess.ID, args)
	if err != nil {
		return err
	}

	uploads := make([]backend.Upload, len(files))
	for i, f := range files {
		uploads[i] = backend.Upload{Name: f.Name, Path: f.Path}
	}
	if _, err := client.InitializeUpload(ctx); err != nil {
		return fmt.Errorf("file upload failed: %w", err)
	}
	if _, err := client.UploadFiles(ctx, uploads); err != nil {
		return fmt.Errorf("file upload failed: %w", err)
	}

	_, err = sessions.Update(ctx, sess.ID, func(s *workflow.Session) error {
		return configure(s, files)
	})
	if err != nil {
		return userError(err)
	}

	runner := analysis.NewRunner(client, sessions,
		analysis.WithLogger(logger),
		analysis.WithConfig(analysis.Config{
			Estimate: cfg.Analysis.Estimate,
			Tick:     cfg.Analysis.Tick,
			Cap:      cfg.Analysis.Cap,
			Timeout:  cfg.Analysis.Timeout,
		}),
	)
	defer runner.Shutdown()

	if _, err := runner.Start(ctx, sess.ID); err != nil {
		return userError(err)
	}
	progress, err := follow(ctx, runner, sess.ID, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if progress.State != analysis.StateSucceeded {
		if progress.Notice != nil {
			return errors.New(progress.Notice.Message)
		}
		return errors.New(analysis.StatusFailed)
	}

	sess, err = sessions.Get(ctx, sess.ID)
	if err != nil {
		return err
	}
	view := results.Build(sess.Result, sess.ProcessType, sess.ResultFiles, sess.RowCategories)
	return writeOutcome(cmd.OutOrStdout(), view, format)
}

func spoolFiles(sessions *workflow.Manager, id string, paths []string) ([]models.LocalFile, error) {
	files := make([]models.LocalFile, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		lf, err := sessions.Spool(id, filepath.Base(p), f)
		f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, lf)
	}
	return files, nil
}

// configure applies the command's flags to a fresh session.
func configure(s *workflow.Session, files []models.LocalFile) error {
	if err := s.SetProcessType(models.ProcessType(analyzeProcess)); err != nil {
		return err
	}
	if err := s.SetCountry(analyzeCountry); err != nil {
		return err
	}
	if len(analyzeAttributes) > 0 {
		for id, on := range s.Selected {
			if on {
				if err := s.SetAttribute(id, false); err != nil {
					return err
				}
			}
		}
		for _, id := range analyzeAttributes {
			if err := s.SetAttribute(id, true); err != nil {
				return err
			}
		}
	}
	for _, kv := range analyzeCategories {
		code, cat, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("%w: category override %q must be CODE=CATEGORY", workflow.ErrInvalidInput, kv)
		}
		category, valid := models.ParseCategory(cat)
		if !valid {
			return fmt.Errorf("%w: unknown category %q", workflow.ErrInvalidInput, cat)
		}
		if err := s.MoveEntity(strings.ToUpper(code), category); err != nil {
			return err
		}
	}
	s.SetUserPrompt(analyzePrompt)
	if _, err := s.SetLocalFiles(files); err != nil {
		return err
	}
	return s.Advance()
}

func userError(err error) error {
	if n := workflow.NoticeFor(err); n != nil {
		return errors.New(n.Message)
	}
	return err
}

// follow prints status changes until the run ends. Interrupting cancels it.
func follow(ctx context.Context, runner *analysis.Runner, id string, out io.Writer) (analysis.Progress, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	last := ""
	for {
		p, err := runner.Progress(id)
		if err != nil {
			return p, err
		}
		if p.Status != last {
			fmt.Fprintf(out, "%3.0f%%  %s\n", p.Percent, p.Status)
			last = p.Status
		}
		if p.State != analysis.StateRunning {
			return p, nil
		}

		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p, err := runner.Cancel(cancelCtx, id)
			cancel()
			if err != nil && !errors.Is(err, analysis.ErrNoRun) {
				return p, err
			}
			return p, ctx.Err()
		case <-ticker.C:
		}
	}
}

func writeOutcome(out io.Writer, view *results.View, format reports.ReportFormat) error {
	if view.Failed() {
		return errors.New(view.Error)
	}
	for _, n := range view.Notices {
		fmt.Fprintln(out, n)
	}

	if view.ProcessType == models.ProcessTablesExtraction {
		for _, t := range view.Tables {
			fmt.Fprintf(out, "table: %s\n", t.Name)
		}
		return nil
	}

	report, err := reports.NewGenerator().Generate(view, format, analyzeTitle)
	if err != nil {
		return err
	}
	path := analyzeOutputFile
	if path == "" {
		path = report.Filename
	}
	if err := os.WriteFile(path, report.Data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	pii := 0
	for _, r := range view.Rows {
		if r.HasPII {
			pii++
		}
	}
	fmt.Fprintf(out, "%d file(s) analysed, %d with sensitive data\n", len(view.Rows), pii)
	fmt.Fprintf(out, "report written to %s\n", path)
	return nil
}
