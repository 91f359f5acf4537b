// sumeval drives a resumable, multi-model code-summarization benchmark
// run: extract code units from a source tree, ask every configured model
// to summarize them, score the summaries with four evaluators, aggregate
// per-model scores, and report a leaderboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/codeready-toolchain/sumeval/pkg/aggregator"
	"github.com/codeready-toolchain/sumeval/pkg/config"
	"github.com/codeready-toolchain/sumeval/pkg/embedclient"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/contrastive"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/iterative"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/judge"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/retrieval"
	"github.com/codeready-toolchain/sumeval/pkg/extractor"
	"github.com/codeready-toolchain/sumeval/pkg/llmclient"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/orchestrator"
	"github.com/codeready-toolchain/sumeval/pkg/pipeline"
	"github.com/codeready-toolchain/sumeval/pkg/report"
	"github.com/codeready-toolchain/sumeval/pkg/statemachine"
	"github.com/codeready-toolchain/sumeval/pkg/statusserver"
	"github.com/codeready-toolchain/sumeval/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = runStart(os.Args[2:])
	case "resume":
		err = runResume(os.Args[2:])
	case "report":
		err = runReport(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("sumeval: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: sumeval <command> [flags]

commands:
  start   --config-dir=DIR --root=DIR [--name=NAME] [--status-addr=ADDR]
  resume  --config-dir=DIR --status-addr=ADDR <run-id>
  report  --config-dir=DIR [--format=table|json|markdown] [--out=FILE] <run-id>
  list    --config-dir=DIR [--status=STATUS]`)
}

// loadConfig mirrors cmd/tarsy/main.go's config.Initialize(ctx, configDir)
// startup sequence.
func loadConfig(ctx context.Context, configDir string) (*config.Config, error) {
	return config.Initialize(ctx, configDir)
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		return store.NewPostgresStore(ctx, store.PostgresConfig{
			Host:     cfg.Store.Host,
			Port:     cfg.Store.Port,
			User:     cfg.Store.User,
			Password: getEnv("SUMEVAL_DB_PASSWORD", ""),
			Database: cfg.Store.Database,
			SSLMode:  cfg.Store.SSLMode,
		}, log)
	default:
		return store.NewSQLiteStore(ctx, cfg.Store.SQLitePath, log)
	}
}

// buildExecutors wires every phase in models.Phases to the PhaseExecutor
// that implements it. Downstream and self-evaluation are scoped out
// (disabled by default in config.Default) and so are left unregistered,
// as is reporting, whose output is rendered after the Orchestrator
// returns: the Orchestrator treats an unregistered phase identically to
// an executor-reported skip.
func buildExecutors(root string, generatorResolve, judgeResolve llmclient.Resolver, embed embedclient.Client) map[models.Phase]orchestrator.PhaseExecutor {
	return map[models.Phase]orchestrator.PhaseExecutor{
		models.PhaseExtraction:            pipeline.ExtractionExecutor(&extractor.WholeFileExtractor{}, root),
		models.PhaseGeneration:            pipeline.GenerationExecutor(generatorResolve),
		models.PhaseEvaluationIterative:   iterative.Executor(embed, generatorResolve),
		models.PhaseEvaluationJudge:       judge.Executor(judgeResolve),
		models.PhaseEvaluationContrastive: contrastive.Executor(embed, firstJudgeClient(judgeResolve)),
		models.PhaseEvaluationRetrieval:   retrieval.Executor(embed),
		models.PhaseAggregation:           aggregator.Executor(),
	}
}

// firstJudgeClient resolves a single Client for the contrastive evaluator's
// optional LLM-method judge call (spec.md §4.6); a nil Client means the
// run's contrastive.method never exercises the LLM method, which is the
// caller's responsibility to configure consistently.
func firstJudgeClient(resolve llmclient.Resolver) llmclient.Client {
	client, err := resolve("")
	if err != nil {
		return nil
	}
	return client
}

// stubResolver returns a Resolver that hands back a deterministic Stub
// per model id. Real provider wiring (Anthropic, OpenAI, Google, ...) is
// out of scope; every command below runs against this dry-run transport
// unless a future provider package is wired in its place.
func stubResolver() llmclient.Resolver {
	return func(modelID string) (llmclient.Client, error) {
		return &llmclient.Stub{Model: modelID}, nil
	}
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configDir := fs.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	root := fs.String("root", "", "path to the source tree to extract code units from")
	name := fs.String("name", "", "human-readable name for the run")
	statusAddr := fs.String("status-addr", getEnv("STATUS_ADDR", ":8089"), "address the status HTTP surface listens on")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" {
		return fmt.Errorf("start: --root is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, *configDir)
	if err != nil {
		return err
	}

	s, err := openStore(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), *name)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	log.Printf("created run %s (%s)", run.ID, run.Name)

	go serveStatus(s, *statusAddr)

	return drive(ctx, s, cfg, run.ID, *root)
}

func runResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configDir := fs.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	root := fs.String("root", "", "path to the source tree (only consulted if extraction hasn't completed yet)")
	statusAddr := fs.String("status-addr", getEnv("STATUS_ADDR", ":8089"), "address the status HTTP surface listens on")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("resume: expected exactly one run id argument")
	}
	runID := fs.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, *configDir)
	if err != nil {
		return err
	}

	s, err := openStore(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if _, err := s.GetRun(ctx, runID); err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	go serveStatus(s, *statusAddr)

	return drive(ctx, s, cfg, runID, *root)
}

// drive registers every phase executor and runs the Orchestrator to
// completion, printing the resulting leaderboard to stdout.
func drive(ctx context.Context, s store.Store, cfg *config.Config, runID, root string) error {
	resolve := stubResolver()
	embed := &embedclient.Stub{Model: "stub-embed"}

	progress := func(phase models.Phase, completed, total int, detail string) {
		log.Printf("[%s] %d/%d %s", phase, completed, total, detail)
	}

	o := orchestrator.New(s, buildExecutors(root, resolve, resolve, embed), progress, slog.Default())
	if err := o.Run(ctx, runID, cfg); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	rep, err := buildReport(ctx, s, runID)
	if err != nil {
		return err
	}
	return report.WriteTable(os.Stdout, rep)
}

func serveStatus(s store.Store, addr string) {
	srv := statusserver.New(s)
	log.Printf("status surface listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil && err != http.ErrServerClosed {
		log.Printf("status surface stopped: %v", err)
	}
}

func buildReport(ctx context.Context, s store.Store, runID string) (*report.Report, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	scores, err := s.GetAggregatedScores(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load aggregated scores: %w", err)
	}
	summaries, err := s.GetSummaries(ctx, runID, nil)
	if err != nil {
		return nil, fmt.Errorf("load summaries: %w", err)
	}
	pairwise, err := s.GetPairwiseResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load pairwise results: %w", err)
	}
	return report.Build(run, scores, summaries, pairwise)
}

func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configDir := fs.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	format := fs.String("format", "table", "output format: table, json, or markdown")
	out := fs.String("out", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("report: expected exactly one run id argument")
	}
	runID := fs.Arg(0)

	ctx := context.Background()
	cfg, err := loadConfig(ctx, *configDir)
	if err != nil {
		return err
	}
	s, err := openStore(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	rep, err := buildReport(ctx, s, runID)
	if err != nil {
		return err
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("report: open %s: %w", *out, err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	switch *format {
	case "json":
		return report.WriteJSON(w, rep)
	case "markdown":
		return report.WriteMarkdown(w, rep)
	default:
		return report.WriteTable(w, rep)
	}
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configDir := fs.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	statusFlag := fs.String("status", "", "filter by run status (pending, running, completed, failed, paused)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	cfg, err := loadConfig(ctx, *configDir)
	if err != nil {
		return err
	}
	s, err := openStore(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	var status *models.RunStatus
	if *statusFlag != "" {
		st := models.RunStatus(*statusFlag)
		status = &st
	}

	runs, err := s.ListRuns(ctx, status)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	bold := color.New(color.Bold)
	bold.Fprintf(os.Stdout, "%-36s  %-20s  %-12s  %s\n", "ID", "NAME", "STATUS", "CREATED")
	for _, r := range runs {
		fmt.Fprintf(os.Stdout, "%-36s  %-20s  %-12s  %s\n", r.ID, r.Name, r.Status, r.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
