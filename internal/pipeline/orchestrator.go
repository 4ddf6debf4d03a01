// Package pipeline drives the analysis stages that turn a session's segmented
// utterances into classified conversational data.
//
// The [Orchestrator] runs a fixed ordered sequence of stages — Role
// Identification, then Tag Assignment — each of which calls the external
// classification service and persists a well-defined slice of output. Stages
// are sequential; within a stage, the per-speaker or per-utterance patches
// are issued concurrently and awaited as a batch, and the stage succeeds only
// when the entire batch succeeds.
//
// Every stage re-reads the persisted session and utterance state rather than
// assuming any pipeline-local memory survived a prior run, so any stage can
// be re-run on its own via [Orchestrator.RunStage] after a failure. The
// orchestrator performs no hidden automatic retries — retry is an explicit,
// externally invoked re-run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/interactlab/dyadscribe/internal/observe"
	"github.com/interactlab/dyadscribe/pkg/classifier"
	"github.com/interactlab/dyadscribe/pkg/store"
	"github.com/interactlab/dyadscribe/pkg/types"
)

// Stage names one ordered step of the analysis pipeline.
type Stage string

const (
	// StageRoleIdentification assigns child/parent roles to speakers.
	StageRoleIdentification Stage = "role_identification"

	// StageTagAssignment assigns DPICS behaviour tags to utterances.
	StageTagAssignment Stage = "tag_assignment"
)

// Stages lists all pipeline stages in execution order.
var Stages = []Stage{StageRoleIdentification, StageTagAssignment}

// IsValid reports whether s is a recognised stage name.
func (s Stage) IsValid() bool {
	return s == StageRoleIdentification || s == StageTagAssignment
}

const (
	defaultRoleSampleSize = 40
	defaultTagBatchSize   = 25
	defaultTemperature    = 0.1
)

// Orchestrator runs the analysis pipeline for one session at a time.
// Multiple sessions' pipelines are independent and may run in parallel on
// separate goroutines; all methods are safe for concurrent use.
type Orchestrator struct {
	store      store.Store
	classifier classifier.Provider
	metrics    *observe.Metrics
	logger     *slog.Logger

	roleSampleSize int
	tagBatchSize   int
	temperature    float64
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithRoleSampleSize bounds how many of the earliest utterances are sent to
// the classifier for Role Identification. Default: 40.
func WithRoleSampleSize(n int) Option {
	return func(o *Orchestrator) {
		o.roleSampleSize = n
	}
}

// WithTagBatchSize bounds how many utterances each Tag Assignment
// classification request carries. Default: 25.
func WithTagBatchSize(n int) Option {
	return func(o *Orchestrator) {
		o.tagBatchSize = n
	}
}

// WithTemperature sets the classifier sampling temperature. Default: 0.1.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) {
		o.temperature = t
	}
}

// WithMetrics overrides the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger overrides the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New constructs an Orchestrator over the given store and classifier.
//
// provider may be nil when no classifier credential is configured; in that
// case every stage run fails fast with [ErrNotConfigured] before any network
// call, which lets callers construct the orchestrator unconditionally and
// surface the configuration problem at run time with full stage context.
func New(st store.Store, provider classifier.Provider, opts ...Option) (*Orchestrator, error) {
	if st == nil {
		return nil, errors.New("pipeline: store must not be nil")
	}

	o := &Orchestrator{
		store:          st,
		classifier:     provider,
		roleSampleSize: defaultRoleSampleSize,
		tagBatchSize:   defaultTagBatchSize,
		temperature:    defaultTemperature,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.roleSampleSize <= 0 {
		return nil, fmt.Errorf("pipeline: role sample size %d must be positive", o.roleSampleSize)
	}
	if o.tagBatchSize <= 0 {
		return nil, fmt.Errorf("pipeline: tag batch size %d must be positive", o.tagBatchSize)
	}
	return o, nil
}

// Run executes all pipeline stages in order for sessionID, stopping at the
// first failed stage. The returned error is a [*StageError] identifying the
// failed stage, so the caller can resume with [Orchestrator.RunStage].
func (o *Orchestrator) Run(ctx context.Context, sessionID string) error {
	for _, stage := range Stages {
		if err := o.RunStage(ctx, sessionID, stage); err != nil {
			return err
		}
	}
	return nil
}

// RunStage executes a single named stage for sessionID. It re-reads the
// persisted session and utterances, checks the fail-fast preconditions, and
// only then calls the classification service. Any failure is wrapped in a
// [*StageError] carrying the session id and stage name.
func (o *Orchestrator) RunStage(ctx context.Context, sessionID string, stage Stage) error {
	if !stage.IsValid() {
		return &StageError{SessionID: sessionID, Stage: stage, Err: ErrUnknownStage}
	}

	start := time.Now()
	err := o.runStage(ctx, sessionID, stage)

	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.StageRuns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.String("status", status),
		))

	if err != nil {
		o.logger.Error("pipeline stage failed",
			"session_id", sessionID,
			"stage", stage,
			"duration", time.Since(start),
			"err", err,
		)
		return &StageError{SessionID: sessionID, Stage: stage, Err: err}
	}

	o.logger.Info("pipeline stage complete",
		"session_id", sessionID,
		"stage", stage,
		"duration", time.Since(start),
	)
	return nil
}

// runStage checks preconditions and dispatches to the stage implementation.
func (o *Orchestrator) runStage(ctx context.Context, sessionID string, stage Stage) error {
	if o.classifier == nil {
		return ErrNotConfigured
	}

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	utterances, err := o.store.GetUtterances(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load utterances: %w", err)
	}
	if len(utterances) == 0 {
		return ErrEmptyInput
	}

	switch stage {
	case StageRoleIdentification:
		return o.runRoleIdentification(ctx, sess, utterances)
	case StageTagAssignment:
		return o.runTagAssignment(ctx, sess, utterances)
	default:
		return ErrUnknownStage
	}
}

// classify wraps one classification call with latency and error metrics.
func (o *Orchestrator) classify(ctx context.Context, stage Stage, req classifier.Request) (*classifier.Response, error) {
	start := time.Now()
	resp, err := o.classifier.Complete(ctx, req)
	o.metrics.ClassifyDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("stage", string(stage))))
	if err != nil {
		o.metrics.ClassifierErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("stage", string(stage)),
				attribute.String("kind", "upstream"),
			))
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return resp, nil
}

// recordParseError counts a malformed classification payload.
func (o *Orchestrator) recordParseError(ctx context.Context, stage Stage) {
	o.metrics.ClassifierErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.String("kind", "parse"),
		))
}

// sessionModeLabel returns a human-readable interaction label for prompts.
func sessionModeLabel(mode types.SessionMode) string {
	switch mode {
	case types.ModePDI:
		return "Parent-Directed Interaction (PDI)"
	default:
		return "Child-Directed Interaction (CDI)"
	}
}
