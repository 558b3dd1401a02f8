package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/analysis"
	"github.com/jackzampolin/bindery/internal/api"
	"github.com/jackzampolin/bindery/internal/ingest"
	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/metrics"
	"github.com/jackzampolin/bindery/internal/pipeline"
	"github.com/jackzampolin/bindery/internal/providers"
	"github.com/jackzampolin/bindery/internal/quality"
)

var (
	convertOut   string
	convertTitle string
	convertType  string
	convertMock  bool
)

// ConvertResult is printed after a local conversion.
type ConvertResult struct {
	JobID    string                 `json:"job_id" yaml:"job_id"`
	Output   string                 `json:"output" yaml:"output"`
	Status   jobs.Status            `json:"status" yaml:"status"`
	Progress *pipeline.ProgressView `json:"progress" yaml:"progress"`
	Report   *quality.Report        `json:"quality_report,omitempty" yaml:"quality_report,omitempty"`
	Cost     map[string]float64     `json:"cost_by_provider,omitempty" yaml:"cost_by_provider,omitempty"`
}

var convertCmd = &cobra.Command{
	Use:   "convert <file.pdf>",
	Short: "Convert a PDF to EPUB without a server",
	Long: `Convert a PDF to EPUB in this process.

Runs the same pipeline as the server against an in-memory job store and
prints the quality report when done. Provider settings come from the
config file; --mock uses the built-in mock provider instead.

Examples:
  bindery convert book.pdf
  bindery convert book.pdf -f out/book.epub --type complex
  bindery convert book.pdf --mock -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger()
		if err != nil {
			return err
		}
		h, err := getHome()
		if err != nil {
			return err
		}
		cfgMgr, err := loadConfig(h, logger)
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()

		input, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		out := convertOut
		if out == "" {
			out = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + ".epub"
		}

		registry := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig(logger))
		a := cfg.Analysis
		if convertMock {
			registry.Register(providers.MockProviderName, providers.NewMockProvider(providers.MockProviderName))
			a.Primary = providers.MockProviderName
			a.FallbackEnabled = false
		}

		recorder := metrics.NewRecorder(0, logger)
		factory := analysis.NewFactory(registry, analysis.FactoryConfig{
			Primary:        a.Primary,
			Fallback:       a.Fallback,
			Policy:         a.Policy(),
			Concurrency:    a.Concurrency,
			AbortThreshold: a.AbortThreshold,
			Recorder:       recorder,
			Logger:         logger,
		})

		workDir, err := os.MkdirTemp("", "bindery-convert-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(workDir)

		store := jobs.NewMemoryStore()
		defer store.Close()
		svc := pipeline.NewService(pipeline.ServiceConfig{Store: store, Logger: logger})

		var renderer ingest.Renderer
		if r := (ingest.PdftoppmRenderer{DPI: cfg.Ingest.DPI, Binary: cfg.Ingest.Pdftoppm}); r.Available() {
			renderer = r
		} else {
			logger.Warn("pdftoppm not found, pages are analyzed from extracted text only")
		}

		orch, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
			Store: store,
			Source: pipeline.PDFSource{Options: ingest.Options{
				Renderer:    renderer,
				Concurrency: cfg.Ingest.Concurrency,
				Logger:      logger,
			}},
			NewAnalyzer: pipeline.FactoryFrom(factory),
			Assembler: pipeline.EPUBAssembler{
				OutputDir: workDir,
				Author:    cfg.Output.Author,
				Language:  cfg.Output.Language,
			},
			Quality: cfg.Quality,
			Cache:   svc.Cache(),
			Logger:  logger,
		})
		if err != nil {
			return err
		}

		job, err := svc.Submit(ctx, pipeline.SubmitRequest{
			UserID:       currentUserName(),
			InputRef:     input,
			Title:        convertTitle,
			DocumentType: convertType,
		})
		if err != nil {
			return err
		}

		stop := watchProgress(ctx, svc, job.ID, cmd.ErrOrStderr())
		runErr := orch.Run(ctx, job.ID)
		stop()
		if runErr != nil {
			return runErr
		}

		final, err := svc.Get(context.WithoutCancel(ctx), job.ID)
		if err != nil {
			return err
		}
		if final.Status != jobs.StatusCompleted {
			return fmt.Errorf("conversion %s: %s", final.Status, final.ErrorMessage)
		}
		if err := copyFile(final.OutputRef, out); err != nil {
			return err
		}

		view, _ := svc.Progress(ctx, job.ID)
		return api.Output(ConvertResult{
			JobID:    final.ID,
			Output:   out,
			Status:   final.Status,
			Progress: view,
			Report:   final.QualityReport,
			Cost:     recorder.CostByProvider(metrics.Filter{JobID: final.ID}),
		})
	},
}

func init() {
	convertCmd.Flags().StringVarP(&convertOut, "file", "f", "", "Output EPUB path (default: <input>.epub in the current directory)")
	convertCmd.Flags().StringVar(&convertTitle, "title", "", "Book title (default: from PDF metadata)")
	convertCmd.Flags().StringVar(&convertType, "type", "", "Document type: auto, complex or text-based")
	convertCmd.Flags().BoolVar(&convertMock, "mock", false, "Use the mock provider")

	rootCmd.AddCommand(convertCmd)
}

// watchProgress prints a progress line whenever the job's stage or
// percentage changes. The returned func stops it.
func watchProgress(ctx context.Context, svc *pipeline.Service, id string, w io.Writer) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		last := ""
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			v, err := svc.Progress(ctx, id)
			if err != nil {
				continue
			}
			line := fmt.Sprintf("[%3d%%] %s: %s", v.ProgressPercentage, v.CurrentStage, v.StageDescription)
			if line != last {
				fmt.Fprintln(w, line)
				last = line
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func copyFile(src, dst string) error {
	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Join(err, os.Remove(dst))
	}
	return out.Close()
}

func currentUserName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
