package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/replaycore/engine/internal/config"
	"github.com/replaycore/engine/pkg/archive"
	"github.com/replaycore/engine/pkg/canonical"
	"github.com/replaycore/engine/pkg/columnar"
	"github.com/replaycore/engine/pkg/contracts"
	"github.com/replaycore/engine/pkg/manifest"
	"github.com/replaycore/engine/pkg/metrics"
	"github.com/replaycore/engine/pkg/observability"
	"github.com/replaycore/engine/pkg/ordering"
	"github.com/replaycore/engine/pkg/replay"
	"github.com/replaycore/engine/pkg/runtime"
	"github.com/replaycore/engine/pkg/state"
	"github.com/replaycore/engine/pkg/strategies"
)

// runReplayCmd implements the CLI surface of §6: a runner accepting
// --parquet, --meta, --strategy, --stream, --config, --seed,
// --start-cursor, --error-policy, --ordering-mode, --checkpoint-dir,
// --checkpoint-interval, --output-dir. Exit codes: 0 success, 1
// configuration or runtime error.
func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("replayctl", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dataPath       string
		metaPath       string
		strategyName   string
		streamType     string
		configJSON     string
		seed           string
		startCursor    string
		errorPolicy    string
		orderingMode   string
		checkpointDir  string
		checkpointIvl  uint64
		outputDir      string
		stdinStream    bool
	)

	cmd.StringVar(&dataPath, "parquet", "", "Path to the columnar event file (REQUIRED unless --stdin-stream)")
	cmd.StringVar(&metaPath, "meta", "", "Path to the dataset manifest JSON (REQUIRED)")
	cmd.StringVar(&strategyName, "strategy", "counter", "Strategy to run: counter | marketmaker")
	cmd.StringVar(&streamType, "stream", "top_of_book", "Stream type identity for the manifest cache key")
	cmd.StringVar(&configJSON, "config", "{}", "Strategy configuration as a JSON object")
	cmd.StringVar(&seed, "seed", "0", "Deterministic seed folded into run_id derivation")
	cmd.StringVar(&startCursor, "start-cursor", "", "Opaque cursor token to resume after (exclusive)")
	cfg := config.Load()
	defaultCheckpointDir := ""
	if cfg.CheckpointsEnabled {
		defaultCheckpointDir = cfg.CheckpointDir
	}
	cmd.StringVar(&errorPolicy, "error-policy", cfg.ContainmentPolicy, "FAIL_FAST | SKIP_AND_LOG | QUARANTINE")
	cmd.StringVar(&orderingMode, "ordering-mode", cfg.OrderingMode, "STRICT | WARN")
	cmd.StringVar(&checkpointDir, "checkpoint-dir", defaultCheckpointDir, "Directory for checkpoint persistence (empty disables checkpointing)")
	cmd.Uint64Var(&checkpointIvl, "checkpoint-interval", cfg.CheckpointInterval, "Events between checkpoints")
	cmd.StringVar(&outputDir, "output-dir", cfg.OutputDir, "Directory the Run Archive is written under")
	cmd.BoolVar(&stdinStream, "stdin-stream", false, "Ingest newline-delimited JSON events from stdin through the backpressure queue instead of the bound Replay Engine")

	if err := cmd.Parse(args); err != nil {
		return 1
	}

	if metaPath == "" || (dataPath == "" && !stdinStream) {
		writeResult(stderr, cliResult{Error: "ConfigError", Message: "--meta is required, and --parquet unless --stdin-stream is set"})
		return 1
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))

	cache := manifest.NewCache(manifest.CacheConfig{
		Capacity: cfg.ManifestCacheCapacity,
		TTL:      time.Duration(cfg.ManifestCacheTTLSecs) * time.Second,
	})
	dm, err := manifest.Load(metaPath, manifest.Identity{Stream: streamType}, cache)
	if err != nil {
		return fail(stderr, err)
	}

	var engine *replay.Engine
	var opts replay.Options
	if !stdinStream {
		handle, err := columnar.Open(context.Background(), []string{dataPath}, columnar.RemoteConfig{}, nil)
		if err != nil {
			return fail(stderr, err)
		}
		defer handle.Close()

		engine = replay.New(handle, dm.Rows)

		if startCursor != "" {
			tuple, err := ordering.DecodeCursor(startCursor)
			if err != nil {
				return fail(stderr, err)
			}
			opts.Cursor = &tuple
		}
	}

	var strategyConfig map[string]any
	if err := json.Unmarshal([]byte(configJSON), &strategyConfig); err != nil {
		writeResult(stderr, cliResult{Error: "ConfigError", Message: "--config is not valid JSON"})
		return 1
	}

	runID, err := deriveRunID(dm.ManifestID, strategyConfig, seed)
	if err != nil {
		return fail(stderr, err)
	}
	replayRunID, err := deriveReplayRunID(dm.ManifestID, seed)
	if err != nil {
		return fail(stderr, err)
	}

	reg := metrics.New(runID)
	rc := runtime.NewContext(runID, dm.ManifestID, strategyConfig, reg)
	sc := state.NewContainer(nil)

	var checkpoints *state.Manager
	if checkpointDir != "" {
		backend, err := buildCheckpointBackend(cfg, checkpointDir)
		if err != nil {
			return fail(stderr, err)
		}
		checkpoints = state.NewManager(backend, runID)
	}

	writer, err := archive.NewFileWriter(outputDir)
	if err != nil {
		return fail(stderr, err)
	}

	strategy, setRuntime, err := buildStrategy(strategyName, sc)
	if err != nil {
		writeResult(stderr, cliResult{Error: "ConfigError", Message: err.Error()})
		return 1
	}

	runtimeCfg := runtime.Config{
		OrderingMode:       ordering.GuardMode(orderingMode),
		ContainmentPolicy:  runtime.ContainmentPolicy(errorPolicy),
		MaxErrors:          cfg.MaxErrors,
		ErrorRingCapacity:  cfg.ErrorRingCapacity,
		CheckpointsEnabled: checkpointDir != "",
		CheckpointInterval: checkpointIvl,
		YieldEvery:         cfg.YieldEvery,
		Backpressure: runtime.BackpressureConfig{
			High: cfg.QueueHigh,
			Low:  cfg.QueueLow,
			Max:  cfg.QueueMax,
		},
	}

	var execution runtime.Execution
	if strategyName == "marketmaker" {
		execution = &paperExecution{}
	}

	rt := runtime.New(runtimeCfg, rc, strategy, execution, nil, nil, nil, sc, checkpoints, writer, logger)
	if setRuntime != nil {
		setRuntime(rt)
	}

	if cfg.OTLPEnabled {
		obs, err := observability.New(context.Background(), &observability.Config{
			ServiceName:  "replayctl",
			RunID:        runID,
			OTLPEndpoint: cfg.OTLPEndpoint,
			SampleRate:   cfg.OTLPSampleRate,
			Enabled:      true,
			Insecure:     cfg.OTLPInsecure,
		})
		if err != nil {
			return fail(stderr, err)
		}
		rt.SetObservability(obs)
		defer obs.Shutdown(context.Background())
	}

	if sink, err := runtime.NewFileQuarantineSink(outputDir); err == nil {
		rt.SetQuarantineSink(sink)
	}

	if err := rt.Init(context.Background()); err != nil {
		return fail(stderr, err)
	}

	var manifestOut contracts.RunManifest
	var runErr error
	if stdinStream {
		queue := rt.NewIngestQueue()
		go ingestStdin(os.Stdin, queue, logger)
		manifestOut, runErr = rt.RunQueue(context.Background(), queue, replayRunID, 0, 0)
	} else {
		seq := engine.RowFactory(opts)
		manifestOut, runErr = rt.Run(context.Background(), seq, replayRunID, 0, 0)
	}
	if runErr != nil {
		writeResult(stdout, cliResult{
			RunID:   runID,
			Status:  "FAILED",
			Error:   manifestOut.EndedReason,
			Message: runErr.Error(),
		})
		return 1
	}

	writeResult(stdout, cliResult{
		RunID:         runID,
		Status:        string(rt.Lifecycle().State()),
		EventCount:    manifestOut.Output.EventCount,
		DecisionCount: manifestOut.Output.DecisionCount,
		FillsCount:    manifestOut.Output.FillsCount,
		StateHash:     manifestOut.Output.StateHash,
	})
	return 0
}

// ingestStdin is the externally supplied stream producer for
// --stdin-stream: it reads one JSON-encoded contracts.Event per line
// from r, pushing each onto queue. A malformed line is logged and
// skipped rather than aborting the stream. Once queue.Push reports
// SignalOverflow the producer stops pushing immediately, matching the
// upstream-disconnect requirement of the backpressure contract; Close
// always runs so the dispatch loop is released whether the stream
// ended cleanly or overflowed.
func ingestStdin(r io.Reader, queue *runtime.Queue, logger *slog.Logger) {
	defer queue.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event contracts.Event
		if err := json.Unmarshal(line, &event); err != nil {
			logger.Warn("stdin stream: skipping malformed event line", "error", err)
			continue
		}
		if queue.Push(event) == runtime.SignalOverflow {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("stdin stream: read error", "error", err)
	}
}

// cliResult is the single JSON object the CLI prints per §6's
// "machine-readable" requirement.
type cliResult struct {
	RunID         string `json:"run_id,omitempty"`
	Status        string `json:"status,omitempty"`
	EventCount    uint64 `json:"event_count,omitempty"`
	DecisionCount uint64 `json:"decision_count,omitempty"`
	FillsCount    uint64 `json:"fills_count,omitempty"`
	StateHash     string `json:"state_hash,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
}

func writeResult(w io.Writer, r cliResult) {
	data, _ := json.MarshalIndent(r, "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}

func fail(stderr io.Writer, err error) int {
	var cerr *contracts.Error
	if errors.As(err, &cerr) {
		writeResult(stderr, cliResult{Error: string(cerr.ErrorCode), Message: cerr.Message})
	} else {
		writeResult(stderr, cliResult{Error: "RuntimeError", Message: err.Error()})
	}
	return 1
}

// deriveRunID computes run_id = "run_" + first 16 hex chars of
// SHA-256(canonical({dataset, strategy_config, seed})), the Run ID
// formula mandated by §3/§4.6.
func deriveRunID(manifestID string, strategyConfig map[string]any, seed string) (string, error) {
	h, err := canonical.Hash(map[string]any{
		"dataset":         manifestID,
		"strategy_config": strategyConfig,
		"seed":            seed,
	})
	if err != nil {
		return "", err
	}
	return "run_" + h[:16], nil
}

// deriveReplayRunID computes the Replay Run ID, deterministic and
// distinct from run_id: derived from seed + manifest id only, per the
// glossary ("identifier of the read pass, derived from seed + manifest
// id").
func deriveReplayRunID(manifestID, seed string) (string, error) {
	h, err := canonical.Hash(map[string]any{
		"manifest_id": manifestID,
		"seed":        seed,
	})
	if err != nil {
		return "", err
	}
	return "replay_" + h[:16], nil
}

// buildCheckpointBackend selects the checkpoint Backend named by
// cfg.CheckpointBackend ("file" | "sqlite" | "postgres"). Unrecognized
// values fall back to the file backend under checkpointDir.
func buildCheckpointBackend(cfg *config.Config, checkpointDir string) (state.Backend, error) {
	switch strings.ToLower(cfg.CheckpointBackend) {
	case "sqlite":
		return state.NewSQLiteBackend(cfg.CheckpointDSN)
	case "postgres":
		db, err := sql.Open("postgres", cfg.CheckpointDSN)
		if err != nil {
			return nil, contracts.Wrap(contracts.CodeConfigError, "failed to open postgres checkpoint DSN", err, nil)
		}
		return state.NewPostgresBackend(db)
	default:
		return state.NewFileBackend(checkpointDir)
	}
}

func buildStrategy(name string, sc *state.Container) (runtime.Strategy, func(*runtime.Runtime), error) {
	switch strings.ToLower(name) {
	case "counter":
		return strategies.NewCounter(sc), nil, nil
	case "marketmaker":
		mm := strategies.NewMarketMaker(sc, "BTC-USD", 5.0, 1.0)
		return mm, mm.SetRuntime, nil
	default:
		return nil, nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// paperExecution fills every intent at its requested price with a
// monotonically numbered fill id; it never touches a live venue.
type paperExecution struct {
	next int
}

func (e *paperExecution) Execute(ctx context.Context, intent contracts.OrderIntent, event contracts.Event) (contracts.Fill, error) {
	e.next++
	return contracts.Fill{
		ID:        fmt.Sprintf("paper_%d", e.next),
		Side:      intent.Side,
		FillPrice: intent.Price,
		Qty:       intent.Qty,
		TsEvent:   event.TsEvent,
	}, nil
}
