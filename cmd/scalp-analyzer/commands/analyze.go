package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/scalpcheck/scalp-analyzer/internal/config"
	"github.com/scalpcheck/scalp-analyzer/pkg/capture"
	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	appfsm "github.com/scalpcheck/scalp-analyzer/pkg/fsm"
	"github.com/scalpcheck/scalp-analyzer/pkg/health"
	"github.com/scalpcheck/scalp-analyzer/pkg/metrics"
	"github.com/scalpcheck/scalp-analyzer/pkg/progress"
	"github.com/scalpcheck/scalp-analyzer/pkg/security"
	"github.com/scalpcheck/scalp-analyzer/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
)

var (
	analyzePrefix      string
	analyzeInteractive bool
	analyzeJSON        bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <path|s3://bucket/key>...",
	Short: "Validate, health-check and upload scalp images for analysis",
	Long: `Analyze one or more scalp images. Sources are local files or S3 objects
(s3://bucket/key). --prefix adds every object under a prefix of --s3-bucket.
With --interactive, a retryable failure prompts for a retry.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&analyzePrefix, "prefix", "", "Analyze every object under this prefix of --s3-bucket")
	analyzeCmd.Flags().BoolVar(&analyzeInteractive, "interactive", false, "Offer a retry after retryable failures")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print outcomes as JSON lines")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && analyzePrefix == "" {
		return fmt.Errorf("must specify at least one image or --prefix")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Ensure all necessary directories exist
	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath); err != nil {
		return err
	}

	// Interrupts abandon the in-flight attempt; the process still reports it.
	ctx := context.Background()
	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(sigCtx, cfg.MetricsAddr); err != nil {
				slog.Warn("metrics_server_stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	repo, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	sources, err := newSourceSet(sigCtx, cfg, args, analyzePrefix)
	if err != nil {
		return err
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	client := newTransport(cfg)
	out := cmd.OutOrStdout()
	observer := newConsoleObserver(cmd.ErrOrStderr(), analyzeJSON)
	validator := security.NewValidator(cfg.MaxImageSize, cfg.AcceptedTypes)

	orch := appfsm.NewOrchestrator(appfsm.Options{
		Validator:   validator,
		Gate:        health.NewGate(client, cfg.HealthTimeout),
		Analyzer:    client,
		Estimator:   progress.NewEstimator(cfg.ProgressInterval, cfg.ExpectedDuration),
		Observer:    observer,
		Journal:     repo,
		OrdinalBase: lastOrdinal(ctx, repo),
	})
	if err := orch.Register(ctx, manager); err != nil {
		return err
	}

	stopCancel := context.AfterFunc(sigCtx, func() { orch.Cancel() })
	defer stopCancel()

	prompt := bufio.NewReader(cmd.InOrStdin())
	failed := 0

	for _, src := range sources.items {
		if sigCtx.Err() != nil {
			break
		}

		img, err := sources.load(sigCtx, src)
		if err != nil {
			slog.Error("image_load_failed", "source", src, "error", err)
			fmt.Fprintf(cmd.ErrOrStderr(), "❌ %s: %v\n", src, err)
			failed++
			continue
		}

		outcome, err := orch.Submit(ctx, img)
		for err == nil {
			if perr := printOutcome(out, src, outcome, analyzeJSON, validator.MaxImageSize()); perr != nil {
				return perr
			}
			if outcome.Success() || !analyzeInteractive || !outcome.Err.Retryable || sigCtx.Err() != nil {
				break
			}
			if !confirm(cmd.ErrOrStderr(), prompt, "Retry? [y/N] ") {
				break
			}
			outcome, err = orch.Retry(ctx)
		}
		if err != nil {
			return errors.Wrap(err, "analysis could not run")
		}
		if !outcome.Success() {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d analyses failed", failed, len(sources.items))
	}
	return nil
}

// sourceSet resolves CLI arguments to image sources.
type sourceSet struct {
	cfg     *config.Config
	items   []string
	buckets map[string]*storage.Client
}

func newSourceSet(ctx context.Context, cfg *config.Config, args []string, prefix string) (*sourceSet, error) {
	s := &sourceSet{cfg: cfg, items: append([]string(nil), args...), buckets: make(map[string]*storage.Client)}
	if prefix == "" {
		return s, nil
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("--prefix requires --s3-bucket")
	}

	client, err := s.bucket(ctx, cfg.S3Bucket)
	if err != nil {
		return nil, err
	}
	keys, err := client.ListObjects(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		s.items = append(s.items, "s3://"+cfg.S3Bucket+"/"+key)
	}
	if len(s.items) == 0 {
		return nil, fmt.Errorf("no objects under s3://%s/%s", cfg.S3Bucket, prefix)
	}
	return s, nil
}

func (s *sourceSet) bucket(ctx context.Context, name string) (*storage.Client, error) {
	if c, ok := s.buckets[name]; ok {
		return c, nil
	}
	c, err := storage.NewClient(ctx, name, s.cfg.S3Region, s.cfg.S3Anonymous)
	if err != nil {
		return nil, errors.Wrap(err, "S3 client failed")
	}
	s.buckets[name] = c
	return c, nil
}

func (s *sourceSet) load(ctx context.Context, src string) (*capture.Image, error) {
	if bucket, key, ok := storage.ParseURI(src); ok {
		client, err := s.bucket(ctx, bucket)
		if err != nil {
			return nil, err
		}
		exists, err := client.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("object not found: %s", src)
		}
		return client.Fetch(ctx, key, s.cfg.MaxImageSize)
	}
	return capture.Open(src, s.cfg.MaxImageSize)
}

func confirm(w io.Writer, r *bufio.Reader, question string) bool {
	fmt.Fprint(w, question)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// consoleObserver renders state and progress on stderr.
type consoleObserver struct {
	mu    sync.Mutex
	w     io.Writer
	quiet bool
}

func newConsoleObserver(w io.Writer, quiet bool) *consoleObserver {
	return &consoleObserver{w: w, quiet: quiet}
}

func (c *consoleObserver) OnState(attemptID string, state appfsm.State) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch state {
	case appfsm.StateHealthChecking:
		fmt.Fprintln(c.w, "🔍 Checking analysis service...")
	case appfsm.StateUploading:
		fmt.Fprintln(c.w, "📤 Uploading image...")
	}
}

func (c *consoleObserver) OnProgress(attemptID string, s progress.Sample) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "\r   %3.0f%% %-20s", s.Fraction, s.Phase)
	if s.Fraction >= progress.Done {
		fmt.Fprintln(c.w)
	}
}

func (c *consoleObserver) OnOutcome(o *appfsm.Outcome) {
	if c.quiet || o.Success() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w)
}

type outcomeJSON struct {
	Source     string          `json:"source"`
	AttemptID  string          `json:"attempt_id"`
	Ordinal    int64           `json:"ordinal"`
	Retry      int64           `json:"retry"`
	Success    bool            `json:"success"`
	Report     json.RawMessage `json:"report,omitempty"`
	Error      *errorJSON      `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

type errorJSON struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Retryable  bool   `json:"retryable"`
	Details    string `json:"details,omitempty"`
}

// printOutcome writes one outcome. limit is the configured maximum image
// size, shown when an image was rejected for exceeding it.
func printOutcome(w io.Writer, src string, o *appfsm.Outcome, asJSON bool, limit int64) error {
	if asJSON {
		doc := outcomeJSON{
			Source:     src,
			AttemptID:  o.AttemptID,
			Ordinal:    o.Ordinal,
			Retry:      o.Retry,
			Success:    o.Success(),
			DurationMS: o.Duration.Milliseconds(),
		}
		if o.Success() {
			doc.Report = json.RawMessage(o.Report)
		} else {
			doc.Error = &errorJSON{
				Code:       string(o.Err.Code),
				Message:    o.Err.Message,
				Suggestion: o.Err.Suggestion,
				Retryable:  o.Err.Retryable,
				Details:    o.Err.Details,
			}
		}
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			return errors.Wrap(err, "failed to write outcome")
		}
		return nil
	}

	if !o.Success() {
		fmt.Fprintf(w, "❌ %s: [%s] %s\n", src, o.Err.Code, o.Err.Message)
		if o.Err.Suggestion != "" {
			fmt.Fprintf(w, "   💡 %s\n", o.Err.Suggestion)
		}
		if o.Err.Code == errors.CodeImageTooLarge && limit > 0 {
			fmt.Fprintf(w, "   limit: %.1f MB\n", float64(limit)/1024/1024)
		}
		if o.Err.Details != "" {
			fmt.Fprintf(w, "   details: %s\n", o.Err.Details)
		}
		return nil
	}

	scalpType, severity := o.Report.Summary()
	fmt.Fprintf(w, "✅ %s analyzed in %s", src, o.Duration.Round(time.Millisecond))
	if scalpType != "" {
		fmt.Fprintf(w, " (type: %s", scalpType)
		if severity != "" {
			fmt.Fprintf(w, ", severity: %s", severity)
		}
		fmt.Fprint(w, ")")
	}
	fmt.Fprintln(w)
	if body, err := o.Report.Indent(); err == nil {
		fmt.Fprintf(w, "%s\n", body)
	}
	return nil
}
