// Package agentrunner implements a back-pressured, rate-limited bridge
// between a conversation handler and the agent engine. It classifies engine
// events, chunks output into fixed-size pieces, strips reserved marker
// tokens, and records usage.
package agentrunner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wayne930242/discord-agents/internal/agentengine"
	"github.com/wayne930242/discord-agents/internal/domain"
	"github.com/wayne930242/discord-agents/internal/errs"
	"github.com/wayne930242/discord-agents/internal/modelcatalog"
	"github.com/wayne930242/discord-agents/internal/observability"
	"github.com/wayne930242/discord-agents/internal/statestore"
	"github.com/wayne930242/discord-agents/internal/usage"
)

// defaultChunkSize is the maximum length of one chat message chunk sent
// back to the chat service.
const defaultChunkSize = 2000

// reservedMarkers are stripped from the final assembled text before
// chunking; the agent engine may emit these as internal control tokens.
var reservedMarkers = []string{"<start_of_audio>", "<end_of_audio>"}

// unmappedFunctionLabel is delivered in place of a function-call
// notification when UseFunctionMap is on but the called function has no
// entry in UserFunctionDisplayMap.
const unmappedFunctionLabel = "[working...]"

// Adaptor wires one agent engine, the shared state store, the usage sink,
// and the model catalog into a single Run call per conversational turn.
type Adaptor struct {
	engine    agentengine.Engine
	store     statestore.Store
	usageSink usage.Sink
	catalog   *modelcatalog.Catalog
	logger    *log.Logger
	chunkSize int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds an Adaptor. logger defaults to log.Default() when nil.
func New(engine agentengine.Engine, store statestore.Store, sink usage.Sink, catalog *modelcatalog.Catalog, logger *log.Logger) *Adaptor {
	if logger == nil {
		logger = log.Default()
	}
	if catalog == nil {
		catalog = modelcatalog.Default()
	}
	return &Adaptor{
		engine:    engine,
		store:     store,
		usageSink: sink,
		catalog:   catalog,
		logger:    logger,
		chunkSize: defaultChunkSize,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Run resolves botID's agent run against agentCfg's model, classifies the
// engine's event stream, and returns a channel of chat-ready text chunks.
// The returned channel is closed once the run (successful, escalated, or
// failed) has delivered its final output. onlyFinal, when true, suppresses
// partial-event chunks and emits only the assembled final text.
func (a *Adaptor) Run(ctx context.Context, botID string, sessionID domain.SessionId, userKey, queryText string, agentCfg domain.AgentConfig, onlyFinal bool) (<-chan string, error) {
	spec, err := a.catalog.Resolve(agentCfg.ModelName)
	if err != nil {
		return nil, err
	}

	estimate, approximate := modelcatalog.CountTokens(spec.Name, queryText)

	if spec.MaxTokens > 0 {
		interval := time.Duration(spec.IntervalSeconds) * time.Second
		used, err := a.store.WindowTokens(ctx, spec.Name, interval)
		if err != nil {
			a.logger.Printf("agentrunner: window lookup failed for %s: %v", spec.Name, err)
		} else if used+estimate > spec.MaxTokens {
			switch spec.Policy {
			case modelcatalog.PolicyReject:
				return nil, fmt.Errorf("%w: model %q over budget (%d+%d>%d)", errs.ErrRateLimited, spec.Name, used, estimate, spec.MaxTokens)
			default:
				limiter := a.limiterFor(spec)
				if err := limiter.WaitN(ctx, estimate); err != nil {
					return nil, fmt.Errorf("%w: %v", errs.ErrRateLimited, err)
				}
			}
		}
	}

	events, err := a.engine.Run(ctx, agentCfg.AppName, sessionID, userKey, queryText, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrAgentRunError, err)
	}

	out := make(chan string, 4)
	go a.consume(ctx, botID, userKey, agentCfg, spec, estimate, approximate, events, out, onlyFinal, time.Now())
	return out, nil
}

func (a *Adaptor) limiterFor(spec modelcatalog.Spec) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[spec.Name]
	if !ok {
		perSecond := rate.Limit(float64(spec.MaxTokens) / float64(spec.IntervalSeconds))
		l = rate.NewLimiter(perSecond, spec.MaxTokens)
		a.limiters[spec.Name] = l
	}
	return l
}

func (a *Adaptor) consume(ctx context.Context, botID, userKey string, agentCfg domain.AgentConfig, spec modelcatalog.Spec, inputTokens int, inputApprox bool, events <-chan agentengine.Event, out chan<- string, onlyFinal bool, startedAt time.Time) {
	defer close(out)

	var final strings.Builder
	var sawFunctionCall bool

	for ev := range events {
		if ev.Err != nil {
			a.logger.Printf("agentrunner: run failed for bot %s: %v", botID, ev.Err)
			a.deliver(ctx, out, agentCfg.FallbackErrorMessage)
			observability.RecordAgentRun(spec.Name, "error", time.Since(startedAt))
			return
		}

		switch ev.Kind {
		case agentengine.EventPartial:
			final.WriteString(ev.Text)
			if !onlyFinal && ev.Text != "" {
				a.deliver(ctx, out, ev.Text)
			}

		case agentengine.EventFunctionCall:
			sawFunctionCall = true
			if !agentCfg.UseFunctionMap {
				continue
			}
			label, ok := agentCfg.UserFunctionDisplayMap[ev.FunctionName]
			if !ok || label == "" {
				label = unmappedFunctionLabel
			} else {
				label = "[" + label + "]"
			}
			if !onlyFinal {
				a.deliver(ctx, out, label)
			}

		case agentengine.EventFunctionResponse:
			// No chat-visible output; the subsequent partial/final events
			// carry the function's result back into the conversation.

		case agentengine.EventEscalation:
			message := ev.EscalationMessage
			if message == "" {
				message = agentCfg.FallbackErrorMessage
			}
			a.deliver(ctx, out, message)
			observability.RecordAgentRun(spec.Name, "escalation", time.Since(startedAt))
			return

		case agentengine.EventFinal:
			text := ev.Text
			if text == "" {
				text = final.String()
			}
			a.finish(ctx, botID, userKey, agentCfg, spec, inputTokens, inputApprox, text, sawFunctionCall, out)
			observability.RecordAgentRun(spec.Name, "final", time.Since(startedAt))
			return
		}
	}
}

func (a *Adaptor) finish(ctx context.Context, botID, userKey string, agentCfg domain.AgentConfig, spec modelcatalog.Spec, inputTokens int, inputApprox bool, text string, sawFunctionCall bool, out chan<- string) {
	cleaned := stripMarkers(text)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return
	}

	for _, chunk := range chunk(cleaned, a.chunkSize) {
		a.deliver(ctx, out, chunk)
	}

	outputTokens, outApprox := modelcatalog.CountTokens(spec.Name, cleaned)
	approximate := inputApprox || outApprox
	_ = sawFunctionCall // function calls do not change usage accounting

	now := time.Now()
	rec := domain.UsageRecord{
		AgentID:      botID,
		AgentName:    agentCfg.AppName,
		ModelName:    spec.Name,
		Year:         now.Year(),
		Month:        int(now.Month()),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Approximate:  approximate,
		RecordedAt:   now,
	}
	if a.usageSink != nil {
		if err := a.usageSink.RecordUsage(ctx, rec); err != nil {
			a.logger.Printf("agentrunner: record usage failed for bot %s: %v", botID, err)
		}
	}
	observability.RecordUsageTokens(spec.Name, inputTokens, outputTokens)

	if spec.MaxTokens > 0 {
		interval := time.Duration(spec.IntervalSeconds) * time.Second
		if err := a.store.RecordHistory(ctx, spec.Name, inputTokens, interval); err != nil {
			a.logger.Printf("agentrunner: record history failed for model %s: %v", spec.Name, err)
		}
	}
}

// deliver sends chunk on out, respecting ctx cancellation so a slow or
// abandoned consumer cannot leak this goroutine.
func (a *Adaptor) deliver(ctx context.Context, out chan<- string, chunk string) {
	select {
	case out <- chunk:
	case <-ctx.Done():
	}
}

func stripMarkers(text string) string {
	for _, marker := range reservedMarkers {
		text = strings.ReplaceAll(text, marker, "")
	}
	return text
}

// chunk splits text into pieces of at most size runes, never splitting a
// multi-byte rune.
func chunk(text string, size int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
