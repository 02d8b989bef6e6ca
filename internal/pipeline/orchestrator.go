package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/querygate/querygate/internal/nl2sql"
	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/patterns"
	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/safety"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/session"
	"github.com/querygate/querygate/internal/summarize"
)

const logQueryChars = 200

var tracer = otel.Tracer("querygate/pipeline")

type Deadlines struct {
	Translate time.Duration
	Execute   time.Duration
	Interpret time.Duration
}

type Request struct {
	SessionID string
	Text      string
	// Zero fields fall back to the orchestrator defaults.
	Deadlines Deadlines
	Chart     summarize.ChartType
}

// Outcome is returned for every request, successful or not.
type Outcome struct {
	RequestID      string                `json:"request_id"`
	SessionID      string                `json:"session_id"`
	State          State                 `json:"state"`
	CandidateQuery string                `json:"candidate_query,omitempty"`
	Verdict        *safety.Verdict       `json:"-"`
	PatternReused  bool                  `json:"pattern_reused"`
	Result         *query.Result         `json:"-"`
	Summary        *summarize.Summary    `json:"summary,omitempty"`
	Failure        *Failure              `json:"failure,omitempty"`
	Turn           *session.Turn         `json:"turn,omitempty"`
	Stages         []session.StageTiming `json:"stages"`
	Duration       time.Duration         `json:"duration_ns"`
	// Abandoned is set when the caller canceled; no turn or pattern was
	// recorded.
	Abandoned bool `json:"abandoned"`
}

type Dependencies struct {
	Validator  *safety.Validator
	Schemas    *schema.Cache
	Source     schema.Source
	Patterns   patterns.Store
	Sessions   *session.Manager
	Translator nl2sql.Translator
	Engine     query.Engine
	Summarizer summarize.Summarizer
	Logger     *slog.Logger
	Metrics    *Metrics
}

type Options struct {
	HistoryTurns  int
	RowLimit      int
	SchemaMaxAge  time.Duration
	ReusePatterns bool
	Dialect       string
	Deadlines     Deadlines
	Now           func() time.Time
	NewID         func() string
}

type Orchestrator struct {
	deps Dependencies
	opts Options
}

func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Validator == nil:
		return nil, fmt.Errorf("validator is required")
	case deps.Schemas == nil:
		return nil, fmt.Errorf("schema cache is required")
	case deps.Source == nil:
		return nil, fmt.Errorf("schema source is required")
	case deps.Patterns == nil:
		return nil, fmt.Errorf("pattern store is required")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("session manager is required")
	case deps.Translator == nil:
		return nil, fmt.Errorf("translator is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("query engine is required")
	case deps.Summarizer == nil:
		return nil, fmt.Errorf("summarizer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(DefaultLatencyWindow)
	}
	if opts.HistoryTurns < 0 {
		return nil, fmt.Errorf("history turns must be >= 0")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	return &Orchestrator{deps: deps, opts: opts}, nil
}

func (o *Orchestrator) Metrics() *Metrics {
	return o.deps.Metrics
}

// Run drives one request to a terminal state. Stage errors never escape: they
// become the Failure of the returned Outcome. If ctx is canceled before the
// request reaches a terminal state, the outcome is Abandoned and neither the
// session nor the pattern store is touched.
func (o *Orchestrator) Run(ctx context.Context, req Request) Outcome {
	r := o.newRun(ctx, req)
	defer r.span.End()

	if failure := r.receive(); failure != nil {
		return r.fail(failure)
	}

	if failure := r.advance(StateTranslating); failure != nil {
		return r.fail(failure)
	}
	if failure := r.translate(); failure != nil {
		return r.fail(failure)
	}

	if failure := r.advance(StateValidating); failure != nil {
		return r.fail(failure)
	}
	verdict := o.deps.Validator.Validate(r.outcome.CandidateQuery, r.descriptor)
	r.outcome.Verdict = &verdict
	if !verdict.Accepted {
		return r.fail(&Failure{
			Stage:  StateValidating,
			Kind:   KindValidationRejection,
			Reason: "unsafe query: " + verdict.Error(),
		})
	}

	if failure := r.advance(StateExecuting); failure != nil {
		return r.fail(failure)
	}
	if failure := r.execute(verdict.Query); failure != nil {
		return r.fail(failure)
	}

	if failure := r.advance(StateInterpreting); failure != nil {
		return r.fail(failure)
	}
	if failure := r.interpret(); failure != nil {
		return r.fail(failure)
	}

	return r.complete()
}

type run struct {
	o       *Orchestrator
	ctx     context.Context
	span    trace.Span
	req     Request
	outcome Outcome

	state      State
	stageStart time.Time
	stageSpan  trace.Span
	spanCtx    context.Context
	startedAt  time.Time

	sessionCtx *session.Context
	history    []session.Turn
	descriptor *schema.Descriptor
	patternKey string
	execTime   time.Duration
}

func (o *Orchestrator) newRun(ctx context.Context, req Request) *run {
	now := o.opts.Now()
	requestID := o.opts.NewID()
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("querygate.request_id", requestID),
	))
	r := &run{
		o:         o,
		ctx:       ctx,
		span:      span,
		req:       req,
		state:     StateReceived,
		startedAt: now,
		outcome: Outcome{
			RequestID: requestID,
			SessionID: strings.TrimSpace(req.SessionID),
			State:     StateReceived,
			Stages:    []session.StageTiming{},
		},
	}
	if r.outcome.SessionID == "" {
		r.outcome.SessionID = o.opts.NewID()
	}
	r.openStage(now)
	o.deps.Metrics.requestStarted()
	observability.ObservePipelineRequest()
	return r
}

func (r *run) logger() *slog.Logger {
	return r.o.deps.Logger.With(
		slog.String("request_id", r.outcome.RequestID),
		slog.String("session_id", r.outcome.SessionID),
		slog.String("trace_id", observability.TraceIDFromContext(r.ctx)),
	)
}

func (r *run) openStage(at time.Time) {
	r.stageStart = at
	r.spanCtx, r.stageSpan = tracer.Start(r.ctx, "pipeline."+string(r.state))
}

// leaveStage closes the timing of the current state and records it.
func (r *run) leaveStage(to State, at time.Time) {
	elapsed := at.Sub(r.stageStart)
	r.outcome.Stages = append(r.outcome.Stages, session.StageTiming{
		Name:       string(r.state),
		StartedAt:  r.stageStart,
		Duration:   elapsed,
		DurationMs: float64(elapsed.Microseconds()) / 1000,
	})
	r.stageSpan.End()
	r.o.deps.Metrics.transition(r.state, elapsed)
	observability.ObservePipelineTransition(string(r.state), string(to))
	observability.ObserveStageDuration(string(r.state), elapsed)
	r.logger().Debug("pipeline_transition",
		slog.String("from", string(r.state)),
		slog.String("to", string(to)),
		slog.String("duration", elapsed.String()),
	)
}

// advance moves to the next non-terminal state. The caller's cancellation is
// checked at every boundary so an abandoned request stops early.
func (r *run) advance(to State) *Failure {
	if err := Transition(r.state, to); err != nil {
		return &Failure{Stage: r.state, Kind: KindInvalidRequest, Reason: "internal pipeline error", Err: err}
	}
	if failure := r.checkCanceled(); failure != nil {
		return failure
	}
	now := r.o.opts.Now()
	r.leaveStage(to, now)
	r.state = to
	r.outcome.State = to
	r.openStage(now)
	return nil
}

func (r *run) checkCanceled() *Failure {
	if errors.Is(r.ctx.Err(), context.Canceled) {
		return &Failure{Stage: r.state, Kind: KindCanceled, Reason: "request canceled", Err: r.ctx.Err()}
	}
	return nil
}

func (r *run) receive() *Failure {
	text := strings.TrimSpace(r.req.Text)
	if text == "" {
		return &Failure{Stage: StateReceived, Kind: KindInvalidRequest, Reason: "question is required"}
	}
	r.patternKey = patterns.Normalize(text)
	if r.patternKey == "" {
		return &Failure{Stage: StateReceived, Kind: KindInvalidRequest, Reason: "question has no content"}
	}
	r.sessionCtx = r.o.deps.Sessions.GetOrCreate(r.outcome.SessionID)
	r.history = r.sessionCtx.RecentTurns(r.o.opts.HistoryTurns)
	if r.o.opts.HistoryTurns == 0 {
		r.history = nil
	}
	return nil
}

// translate is the only stage that consults both memories: the schema cache
// and the pattern store.
func (r *run) translate() *Failure {
	ctx, cancel := r.stageContext(r.req.Deadlines.Translate, r.o.opts.Deadlines.Translate)
	defer cancel()

	descriptor, err := r.o.deps.Schemas.GetOrRefresh(ctx, r.o.deps.Source, r.o.opts.SchemaMaxAge)
	if err != nil {
		cached, ok := r.o.deps.Schemas.Get()
		if !ok {
			return r.stageFailure(ctx, KindTranslationFailure, "schema unavailable", err)
		}
		r.logger().Warn("schema_refresh_failed_using_cached", slog.String("error", err.Error()))
		descriptor = cached
	}
	r.descriptor = descriptor

	var hint string
	pattern, err := r.o.deps.Patterns.Lookup(ctx, r.patternKey)
	switch {
	case err == nil && pattern.Success:
		if r.o.opts.ReusePatterns {
			r.outcome.CandidateQuery = pattern.Query
			r.outcome.PatternReused = true
			r.o.deps.Metrics.patternReused()
			return nil
		}
		hint = pattern.Query
	case err != nil && !errors.Is(err, patterns.ErrNotFound):
		r.logger().Warn("pattern_lookup_failed", slog.String("error", err.Error()))
	}

	result, err := r.o.deps.Translator.Translate(ctx, nl2sql.Request{
		NaturalLanguage: strings.TrimSpace(r.req.Text),
		Schema:          descriptor,
		History:         r.history,
		Hint:            hint,
		Examples:        r.similarExamples(ctx),
		Dialect:         r.o.opts.Dialect,
	})
	if err != nil {
		reason := "translation service unavailable"
		if errors.Is(err, nl2sql.ErrNoCandidate) {
			reason = "no query could be produced for this question"
		}
		return r.stageFailure(ctx, KindTranslationFailure, reason, err)
	}
	if strings.TrimSpace(result.SQL) == "" {
		return r.stageFailure(ctx, KindTranslationFailure, "no query could be produced for this question", nl2sql.ErrNoCandidate)
	}
	r.outcome.CandidateQuery = result.SQL
	r.logger().Debug("candidate_query", slog.String("sql", observability.Truncate(result.SQL, logQueryChars)))
	return nil
}

// similarExamples returns successful queries of related questions. The exact
// question is left out since it is passed as the hint.
func (r *run) similarExamples(ctx context.Context) []nl2sql.Example {
	matches, err := r.o.deps.Patterns.Similar(ctx, r.patternKey, patterns.DefaultSimilarLimit+1)
	if err != nil {
		r.logger().Warn("similar_patterns_failed", slog.String("error", err.Error()))
		return nil
	}
	var examples []nl2sql.Example
	for _, match := range matches {
		if match.Pattern.Key == r.patternKey || len(examples) == patterns.DefaultSimilarLimit {
			continue
		}
		examples = append(examples, nl2sql.Example{Question: match.Pattern.Key, SQL: match.Pattern.Query})
	}
	return examples
}

func (r *run) execute(validated safety.ValidatedQuery) *Failure {
	ctx, cancel := r.stageContext(r.req.Deadlines.Execute, r.o.opts.Deadlines.Execute)
	defer cancel()

	started := r.o.opts.Now()
	result, err := r.o.deps.Engine.Execute(ctx, query.Request{Query: validated, RowLimit: r.o.opts.RowLimit})
	if err != nil {
		return r.stageFailure(ctx, KindExecutionFailure, "query execution failed", err)
	}
	r.execTime = result.Duration
	if r.execTime <= 0 {
		r.execTime = r.o.opts.Now().Sub(started)
	}
	r.outcome.Result = &result
	return nil
}

func (r *run) interpret() *Failure {
	ctx, cancel := r.stageContext(r.req.Deadlines.Interpret, r.o.opts.Deadlines.Interpret)
	defer cancel()

	summary, err := r.o.deps.Summarizer.Summarize(ctx, summarize.Request{
		Question: strings.TrimSpace(r.req.Text),
		SQL:      r.outcome.Verdict.Query.SQL(),
		Result:   *r.outcome.Result,
		Chart:    r.req.Chart,
	})
	if err != nil {
		return r.stageFailure(ctx, KindInterpretationFailure, "summarization service unavailable", err)
	}
	r.outcome.Summary = &summary
	return nil
}

func (r *run) stageContext(requested, fallback time.Duration) (context.Context, context.CancelFunc) {
	limit := requested
	if limit <= 0 {
		limit = fallback
	}
	if limit <= 0 {
		return context.WithCancel(r.spanCtx)
	}
	return context.WithTimeout(r.spanCtx, limit)
}

// stageFailure classifies err: caller cancellation abandons the request, an
// expired deadline is a deadline failure of this stage, anything else is
// reported as kind.
func (r *run) stageFailure(stageCtx context.Context, kind FailureKind, reason string, err error) *Failure {
	if failure := r.checkCanceled(); failure != nil {
		failure.Err = err
		return failure
	}
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Stage: r.state, Kind: KindDeadlineExceeded, Reason: string(r.state) + " deadline exceeded", Err: err}
	}
	return &Failure{Stage: r.state, Kind: kind, Reason: reason, Err: err}
}

func (r *run) fail(failure *Failure) Outcome {
	now := r.o.opts.Now()
	r.leaveStage(StateFailed, now)
	r.outcome.State = StateFailed
	r.outcome.Failure = failure
	r.outcome.Duration = now.Sub(r.startedAt)
	r.o.deps.Metrics.failed(failure)
	observability.ObservePipelineFailure(string(failure.Stage), string(failure.Kind))

	r.span.SetStatus(codes.Error, string(failure.Kind))
	r.span.SetAttributes(
		attribute.String("querygate.failed_stage", string(failure.Stage)),
		attribute.String("querygate.failure_kind", string(failure.Kind)),
	)

	attrs := []any{
		slog.String("stage", string(failure.Stage)),
		slog.String("kind", string(failure.Kind)),
		slog.String("reason", failure.Reason),
		slog.String("duration", r.outcome.Duration.String()),
	}
	if failure.Err != nil {
		attrs = append(attrs, slog.String("error", failure.Err.Error()))
	}
	if r.outcome.CandidateQuery != "" {
		attrs = append(attrs, slog.String("sql", observability.Truncate(r.outcome.CandidateQuery, logQueryChars)))
	}

	if failure.Kind == KindCanceled {
		r.outcome.Abandoned = true
		r.logger().Info("pipeline_abandoned", attrs...)
		return r.outcome
	}
	r.logger().Warn("pipeline_failed", attrs...)

	if r.sessionCtx == nil {
		r.sessionCtx = r.o.deps.Sessions.GetOrCreate(r.outcome.SessionID)
	}
	turn := r.turn(now)
	turn.Failed = true
	turn.FailedStage = string(failure.Stage)
	turn.FailureReason = failure.Reason
	r.sessionCtx.Append(turn)
	r.outcome.Turn = &turn
	return r.outcome
}

func (r *run) complete() Outcome {
	if failure := r.checkCanceled(); failure != nil {
		return r.fail(failure)
	}
	now := r.o.opts.Now()
	r.leaveStage(StateCompleted, now)
	r.outcome.State = StateCompleted
	r.outcome.Duration = now.Sub(r.startedAt)
	r.o.deps.Metrics.completed()

	turn := r.turn(now)
	r.sessionCtx.Append(turn)
	r.outcome.Turn = &turn

	// The pattern is recorded even if the caller cancels from here on; a
	// completed pipeline is never half-remembered.
	recordCtx := context.WithoutCancel(r.ctx)
	_, err := r.o.deps.Patterns.Record(recordCtx, r.patternKey, r.outcome.Verdict.Query, true, r.execTime)
	observability.ObservePatternRecord(err)
	if err != nil {
		r.logger().Error("pattern_record_failed", slog.String("error", err.Error()))
	}

	r.logger().Info("pipeline_completed",
		slog.Int("rows", r.outcome.Result.RowCount()),
		slog.Bool("pattern_reused", r.outcome.PatternReused),
		slog.String("duration", r.outcome.Duration.String()),
	)
	return r.outcome
}

func (r *run) turn(finishedAt time.Time) session.Turn {
	turn := session.Turn{
		ID:             r.o.opts.NewID(),
		SessionID:      r.outcome.SessionID,
		Request:        strings.TrimSpace(r.req.Text),
		CandidateQuery: r.outcome.CandidateQuery,
		Stages:         append([]session.StageTiming(nil), r.outcome.Stages...),
		StartedAt:      r.startedAt,
		FinishedAt:     finishedAt,
	}
	if verdict := r.outcome.Verdict; verdict != nil {
		turn.Accepted = verdict.Accepted
		if verdict.Accepted {
			turn.ExecutedQuery = verdict.Query.SQL()
		} else {
			turn.RejectReason = verdict.Error()
		}
	}
	if r.outcome.Result != nil {
		turn.RowCount = r.outcome.Result.RowCount()
	}
	if r.outcome.Summary != nil {
		turn.Summary = r.outcome.Summary.Text
	}
	return turn
}
