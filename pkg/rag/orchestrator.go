// Package rag implements the answer pipeline: cache probe, query
// embedding, retrieval, prompt assembly, token streaming, and the
// post-answer side effects.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/classedge/sensei/pkg/cache"
	"github.com/classedge/sensei/pkg/metrics"
	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
	"github.com/classedge/sensei/pkg/scheduler"
)

// noContextAnswer is returned without invoking the LLM when the subject
// has no retrievable chunks.
const noContextAnswer = "I don't have curriculum material covering this question yet. " +
	"Please ask your teacher, or try again after the next curriculum update."

const retryBackoff = 200 * time.Millisecond

// VersionSource exposes the active VKP version used for cache keys.
// Empty string means no package is installed for the subject.
type VersionSource interface {
	ActiveVersion(subjectID string) string
}

// AnswerObservation is what the pedagogy tracker sees for each answered
// (non-cached) query.
type AnswerObservation struct {
	UserID     string
	SubjectID  string
	Retrieved  []models.RetrievedChunk
	Confidence float64
}

// PedagogySink records mastery updates inside the caller's transaction.
type PedagogySink interface {
	ObserveAnswer(ctx context.Context, repos ports.RepositorySet, obs AnswerObservation) error
}

// TelemetrySink accepts one event per completed request. Must not block.
type TelemetrySink interface {
	Record(ev models.TelemetryEvent)
}

// Config bounds the pipeline.
type Config struct {
	TopK          int
	MaxTokens     int
	ContextWindow int // character budget for the chunk section
}

// Orchestrator runs the pipeline for admitted queries. It is reentrant:
// all mutable state lives behind the ports.
type Orchestrator struct {
	llm       ports.LLM
	embedder  ports.Embedder
	vectors   ports.VectorStore
	store     ports.RelationalStore
	cache     *cache.Service
	versions  VersionSource
	pedagogy  PedagogySink
	telemetry TelemetrySink
	clock     ports.Clock
	metrics   *metrics.Metrics
	cfg       Config
	idgen     func() string
}

// New wires the orchestrator. pedagogy and telemetry may be nil in tools.
func New(
	llm ports.LLM,
	embedder ports.Embedder,
	vectors ports.VectorStore,
	store ports.RelationalStore,
	cacheSvc *cache.Service,
	versions VersionSource,
	pedagogy PedagogySink,
	telemetry TelemetrySink,
	clock ports.Clock,
	m *metrics.Metrics,
	cfg Config,
	idgen func() string,
) *Orchestrator {
	return &Orchestrator{
		llm:       llm,
		embedder:  embedder,
		vectors:   vectors,
		store:     store,
		cache:     cacheSvc,
		versions:  versions,
		pedagogy:  pedagogy,
		telemetry: telemetry,
		clock:     clock,
		metrics:   m,
		cfg:       cfg,
		idgen:     idgen,
	}
}

// Execute implements scheduler.Executor.
func (o *Orchestrator) Execute(ctx context.Context, query *models.Query, sink *scheduler.TokenSink) *models.QueryResult {
	start := o.clock.Now()
	version := o.versions.ActiveVersion(query.SubjectID)
	key := cache.Key(query.Question, query.SubjectID, version)
	log := slog.With("query_id", query.ID, "subject_id", query.SubjectID)

	// 1. Cache probe. A hit streams the stored body as a single chunk
	// and triggers no pedagogy update.
	if cached := o.cache.Get(ctx, key); cached != nil {
		o.metrics.IncCacheHit()
		if err := sink.Send(cached.Text); err != nil {
			return o.fail(query, version, start, true, err)
		}
		o.emit(query, version, start, true, models.KindNone)
		log.Debug("Cache hit")
		return &models.QueryResult{QueryID: query.ID, Answer: cached, CacheHit: true}
	}
	o.metrics.IncCacheMiss()

	// 2. Embed the question (one retry for transient failures).
	vec, err := o.embedQuery(ctx, query.Question)
	if err != nil {
		return o.fail(query, version, start, false, err)
	}

	// 3. Retrieve.
	retrieved, err := o.vectors.TopK(ctx, query.SubjectID, vec, o.cfg.TopK)
	if err != nil {
		return o.fail(query, version, start, false,
			models.NewKindError(models.KindDependencyUnavailable, err))
	}
	if len(retrieved) == 0 {
		return o.answerWithoutContext(ctx, query, version, start, sink)
	}

	// 4–5. Assemble the prompt and stream tokens.
	prompt := assemblePrompt(query.Question, retrieved, o.cfg.ContextWindow)
	text, tokenCount, err := o.streamAnswer(ctx, prompt.Text, sink)
	if err != nil {
		return o.fail(query, version, start, false, err)
	}

	// 6. Post-process.
	answer := &models.Answer{
		Text:       text,
		Confidence: confidenceFromSimilarity(prompt.Kept[0].Similarity),
		Sources:    sourceRefs(prompt.Kept),
		TokenCount: tokenCount,
		LatencyMS:  o.clock.Now().Sub(start).Milliseconds(),
	}

	// 7. Side effects: chat record and mastery update share one
	// transaction, then cache, then telemetry.
	if err := o.persist(ctx, query, answer, prompt.Kept); err != nil {
		log.Error("Failed to persist answer", "error", err)
		return o.fail(query, version, start, false,
			models.NewKindError(models.KindDependencyUnavailable, err))
	}
	o.cache.Put(ctx, key, answer, 0)
	o.emit(query, version, start, false, models.KindNone)

	return &models.QueryResult{QueryID: query.ID, Answer: answer}
}

// embedQuery calls the embedder with at most one retry on transient
// failures, per the dependency retry policy.
func (o *Orchestrator) embedQuery(ctx context.Context, question string) ([]float32, error) {
	var vec []float32
	op := func() error {
		var err error
		vec, err = o.embedder.Embed(ctx, question)
		if err != nil {
			if errors.Is(err, ports.ErrMalformedInput) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(retryBackoff), 1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, models.NewKindError(models.KindDependencyUnavailable, err)
	}
	return vec, nil
}

// streamAnswer forwards tokens as they arrive and accumulates the body.
// An overload error before the first token permits one retry.
func (o *Orchestrator) streamAnswer(ctx context.Context, prompt string, sink *scheduler.TokenSink) (string, int, error) {
	text, count, err := o.streamOnce(ctx, prompt, sink)
	if err != nil && count == 0 && errors.Is(err, ports.ErrOverloaded) {
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-time.After(retryBackoff):
		}
		text, count, err = o.streamOnce(ctx, prompt, sink)
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", count, ctx.Err()
		}
		if errors.Is(err, ports.ErrMalformedInput) {
			return "", count, models.NewKindError(models.KindBadRequest, err)
		}
		return "", count, models.NewKindError(models.KindDependencyUnavailable, err)
	}
	return text, count, nil
}

func (o *Orchestrator) streamOnce(ctx context.Context, prompt string, sink *scheduler.TokenSink) (string, int, error) {
	chunks, err := o.llm.Stream(ctx, ports.StreamRequest{
		Prompt:    prompt,
		MaxTokens: o.cfg.MaxTokens,
	})
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	count := 0
	for chunk := range chunks {
		switch c := chunk.(type) {
		case ports.TokenChunk:
			// Hard ceiling regardless of backend behavior.
			if count >= o.cfg.MaxTokens {
				continue
			}
			if err := sink.Send(c.Content); err != nil {
				return "", count, err
			}
			b.WriteString(c.Content)
			count++
		case ports.ErrorChunk:
			return "", count, c.Err
		case ports.UsageChunk:
			// Completion token count from the backend wins when present.
			if c.Usage.CompletionTokens > 0 {
				count = c.Usage.CompletionTokens
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return "", count, err
	}
	return b.String(), count, nil
}

// answerWithoutContext produces the canned answer: no LLM call, but the
// success side effects still run (minus pedagogy, which has no topic).
func (o *Orchestrator) answerWithoutContext(ctx context.Context, query *models.Query, version string, start time.Time, sink *scheduler.TokenSink) *models.QueryResult {
	if err := sink.Send(noContextAnswer); err != nil {
		return o.fail(query, version, start, false, err)
	}

	answer := &models.Answer{
		Text:       noContextAnswer,
		Confidence: noContextConfidence,
		LatencyMS:  o.clock.Now().Sub(start).Milliseconds(),
	}
	if err := o.persist(ctx, query, answer, nil); err != nil {
		return o.fail(query, version, start, false,
			models.NewKindError(models.KindDependencyUnavailable, err))
	}
	o.emit(query, version, start, false, models.KindNone)
	return &models.QueryResult{QueryID: query.ID, Answer: answer}
}

// persist writes the chat record and the mastery delta in one transaction.
func (o *Orchestrator) persist(ctx context.Context, query *models.Query, answer *models.Answer, retrieved []models.RetrievedChunk) error {
	rec := &models.ChatRecord{
		ID:         o.idgen(),
		UserID:     query.UserID,
		SubjectID:  query.SubjectID,
		Question:   query.Question,
		Response:   answer.Text,
		Confidence: answer.Confidence,
		CreatedAt:  o.clock.Now(),
	}
	return o.store.WithinTx(ctx, func(repos ports.RepositorySet) error {
		if err := repos.Chats().Insert(ctx, rec); err != nil {
			return fmt.Errorf("inserting chat record: %w", err)
		}
		if o.pedagogy == nil || len(retrieved) == 0 {
			return nil
		}
		return o.pedagogy.ObserveAnswer(ctx, repos, AnswerObservation{
			UserID:     query.UserID,
			SubjectID:  query.SubjectID,
			Retrieved:  retrieved,
			Confidence: answer.Confidence,
		})
	})
}

// fail emits the failure telemetry event (the only side effect permitted
// on a failed request) and shapes the trailing record.
func (o *Orchestrator) fail(query *models.Query, version string, start time.Time, cacheHit bool, err error) *models.QueryResult {
	kind := models.KindOf(err)
	o.emit(query, version, start, cacheHit, kind)
	return &models.QueryResult{QueryID: query.ID, CacheHit: cacheHit, ErrorKind: kind}
}

func (o *Orchestrator) emit(query *models.Query, version string, start time.Time, cacheHit bool, kind models.ErrorKind) {
	if o.telemetry == nil {
		return
	}
	now := o.clock.Now()
	o.telemetry.Record(models.TelemetryEvent{
		HourBucket: now.Truncate(time.Hour),
		LatencyMS:  now.Sub(start).Milliseconds(),
		Success:    kind == models.KindNone,
		ErrorKind:  kind,
		SubjectID:  query.SubjectID,
		VKPVersion: version,
		CacheHit:   cacheHit,
	})
}

func sourceRefs(kept []models.RetrievedChunk) []models.SourceRef {
	refs := make([]models.SourceRef, len(kept))
	for i, c := range kept {
		refs[i] = models.SourceRef{
			ChunkID:    c.ChunkID,
			DocumentID: c.SourceFile,
			Similarity: c.Similarity,
		}
	}
	return refs
}
