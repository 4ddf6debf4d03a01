// Command dyadscribe analyses recorded parent-child interaction sessions:
// it segments ASR token streams into utterances and runs the LLM-backed
// analysis pipeline over persisted sessions.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/interactlab/dyadscribe/internal/config"
	"github.com/interactlab/dyadscribe/internal/health"
	"github.com/interactlab/dyadscribe/internal/observe"
	"github.com/interactlab/dyadscribe/internal/pipeline"
	"github.com/interactlab/dyadscribe/internal/segment"
	"github.com/interactlab/dyadscribe/pkg/asr"
	"github.com/interactlab/dyadscribe/pkg/classifier"
	anyllmclassifier "github.com/interactlab/dyadscribe/pkg/classifier/anyllm"
	openaiclassifier "github.com/interactlab/dyadscribe/pkg/classifier/openai"
	"github.com/interactlab/dyadscribe/pkg/store/postgres"
	"github.com/interactlab/dyadscribe/pkg/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dyadscribe: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "dyadscribe",
		Short:         "Parent-child interaction speech analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(newSegmentCmd(&configPath))
	root.AddCommand(newAnalyzeCmd(&configPath))
	root.AddCommand(newStageCmd(&configPath))
	return root
}

// ── segment ───────────────────────────────────────────────────────────────────

// segmentOutput is the JSON document the segment command writes to stdout.
type segmentOutput struct {
	Language   string             `json:"language,omitempty"`
	Utterances []utteranceOutput  `json:"utterances"`
	Statistics []statisticsOutput `json:"speaker_statistics"`
}

type utteranceOutput struct {
	SpeakerID string  `json:"speaker_id"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

type statisticsOutput struct {
	SpeakerID                   string  `json:"speaker_id"`
	UtteranceCount              int     `json:"utterance_count"`
	TotalDurationSeconds        float64 `json:"total_duration_seconds"`
	CharacterCount              int     `json:"character_count"`
	AvgUtteranceDurationSeconds float64 `json:"avg_utterance_duration_seconds"`
}

func newSegmentCmd(configPath *string) *cobra.Command {
	var (
		sessionID string
		mode      string
	)

	cmd := &cobra.Command{
		Use:   "segment <tokens.json>",
		Short: "Segment an ASR token stream into utterances and speaker statistics",
		Long: `Reads a diarized ASR token stream from a JSON file, folds it into
utterances, and prints the utterances and per-speaker statistics as JSON.
With --session-id the session and its utterances are also persisted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			stream, err := asr.ParseFile(args[0])
			if err != nil {
				return err
			}

			start := time.Now()
			utterances, err := segment.Segment(stream.Tokens)
			if err != nil {
				return err
			}
			observe.DefaultMetrics().SegmentDuration.Record(ctx, time.Since(start).Seconds())

			stats := segment.Statistics(utterances)

			if sessionID != "" {
				sessionMode := types.SessionMode(mode)
				if !sessionMode.IsValid() {
					return fmt.Errorf("invalid session mode %q (want CDI or PDI)", mode)
				}
				if err := persistSession(ctx, *configPath, sessionID, sessionMode, stream.Language, utterances); err != nil {
					return err
				}
				slog.Info("session persisted", "session_id", sessionID, "utterances", len(utterances))
			}

			out := segmentOutput{Language: stream.Language}
			for _, u := range utterances {
				out.Utterances = append(out.Utterances, utteranceOutput{
					SpeakerID: u.SpeakerID,
					Text:      u.Text,
					StartTime: u.StartTime,
					EndTime:   u.EndTime,
				})
			}
			for _, u := range utterances {
				if s, ok := stats[u.SpeakerID]; ok {
					out.Statistics = append(out.Statistics, statisticsOutput{
						SpeakerID:                   s.SpeakerID,
						UtteranceCount:              s.UtteranceCount,
						TotalDurationSeconds:        s.TotalDurationSeconds,
						CharacterCount:              s.CharacterCount,
						AvgUtteranceDurationSeconds: s.AvgUtteranceDurationSeconds,
					})
					delete(stats, u.SpeakerID)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session-id", "", "persist the session and utterances under this id")
	cmd.Flags().StringVar(&mode, "mode", string(types.ModeCDI), "session mode (CDI or PDI), used with --session-id")
	return cmd
}

// persistSession stores a freshly segmented session and its utterances.
func persistSession(ctx context.Context, configPath, sessionID string, mode types.SessionMode, language string, utterances []types.Utterance) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn must be configured to persist sessions")
	}

	st, err := postgres.NewStore(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.CreateSession(ctx, types.Session{
		ID:       sessionID,
		Mode:     mode,
		Language: language,
	}); err != nil {
		return err
	}
	return st.InsertUtterances(ctx, sessionID, utterances)
}

// ── analyze / stage ───────────────────────────────────────────────────────────

func newAnalyzeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <session-id>",
		Short: "Run the full analysis pipeline over a persisted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), *configPath, func(ctx context.Context, orch *pipeline.Orchestrator) error {
				return orch.Run(ctx, args[0])
			})
		},
	}
}

func newStageCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <session-id> <stage>",
		Short: "Run a single pipeline stage (role_identification or tag_assignment)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage := pipeline.Stage(args[1])
			if !stage.IsValid() {
				return fmt.Errorf("unknown stage %q (want one of %v)", args[1], pipeline.Stages)
			}
			return withOrchestrator(cmd.Context(), *configPath, func(ctx context.Context, orch *pipeline.Orchestrator) error {
				return orch.RunStage(ctx, args[0], stage)
			})
		},
	}
}

// withOrchestrator loads the configuration, wires logging, metrics, the store,
// and the classifier, and invokes fn with a ready orchestrator under a
// signal-cancelled context.
func withOrchestrator(parent context.Context, configPath string, fn func(context.Context, *pipeline.Orchestrator) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	if cfg.Database.DSN == "" {
		return errors.New("database.dsn must be configured")
	}
	st, err := postgres.NewStore(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Metrics.ListenAddr != "" {
		go serveOps(cfg.Metrics.ListenAddr, health.New(health.DatabaseChecker(st)))
	}

	provider, err := buildClassifier(cfg.Classifier)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if cfg.Pipeline.RoleSampleSize > 0 {
		opts = append(opts, pipeline.WithRoleSampleSize(cfg.Pipeline.RoleSampleSize))
	}
	if cfg.Pipeline.TagBatchSize > 0 {
		opts = append(opts, pipeline.WithTagBatchSize(cfg.Pipeline.TagBatchSize))
	}
	if cfg.Classifier.Temperature > 0 {
		opts = append(opts, pipeline.WithTemperature(cfg.Classifier.Temperature))
	}

	orch, err := pipeline.New(st, provider, opts...)
	if err != nil {
		return err
	}
	return fn(ctx, orch)
}

// buildClassifier constructs the classification backend selected by the
// configuration. The name "openai" uses the native OpenAI client; every other
// name is routed through any-llm-go. An empty name yields a nil provider, so
// pipeline runs fail fast with a configuration error instead of at dial time.
func buildClassifier(cfg config.ClassifierConfig) (classifier.Provider, error) {
	switch cfg.Name {
	case "":
		return nil, nil
	case "openai":
		var opts []openaiclassifier.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openaiclassifier.WithBaseURL(cfg.BaseURL))
		}
		return openaiclassifier.New(cfg.APIKey, cfg.Model, opts...)
	default:
		var opts []anyllmlib.Option
		if cfg.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		return anyllmclassifier.New(cfg.Name, cfg.Model, opts...)
	}
}

// serveOps exposes the Prometheus scrape endpoint and the health probes.
// Runs until the process exits.
func serveOps(addr string, h *health.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	h.Register(mux)
	slog.Info("operational endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("operational endpoint error", "err", err)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
