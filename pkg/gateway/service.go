// Package gateway is the request pipeline of the serving core.
//
// A request is validated, admitted against the caller's quota, served from
// the cache where possible, and the remaining items are generated in
// parallel by the fan-out executor. Every generated item passes the quality
// gate; only admitted items are cached. The outcome is recorded in the
// telemetry recorder before the response is returned.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/learnforge/pkg/admission"
	"github.com/Sternrassler/learnforge/pkg/cache"
	"github.com/Sternrassler/learnforge/pkg/fanout"
	"github.com/Sternrassler/learnforge/pkg/provider"
	"github.com/Sternrassler/learnforge/pkg/quality"
	"github.com/Sternrassler/learnforge/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TTLs holds the cache lifetime per operation.
type TTLs struct {
	Breakdown time.Duration `yaml:"breakdown"`
	Explain   time.Duration `yaml:"explain"`
}

// DefaultTTLs returns the default cache lifetimes.
func DefaultTTLs() TTLs {
	return TTLs{
		Breakdown: 24 * time.Hour,
		Explain:   12 * time.Hour,
	}
}

// For returns the TTL of op.
func (t TTLs) For(op Operation) time.Duration {
	switch op {
	case OpBreakdown:
		return t.Breakdown
	case OpExplain:
		return t.Explain
	default:
		return 0
	}
}

// Deps are the collaborators of a Service. Resolver and Logger are
// optional; everything else is required.
type Deps struct {
	Admission *admission.Controller
	Cache     *cache.Manager
	Executor  *fanout.Executor
	Gate      *quality.Gate
	Telemetry *telemetry.Recorder
	Provider  provider.Provider
	Resolver  Resolver
	Logger    zerolog.Logger
	TTLs      TTLs
}

// Service handles requests. It is safe for concurrent use.
type Service struct {
	admission *admission.Controller
	cache     *cache.Manager
	executor  *fanout.Executor
	gate      *quality.Gate
	telemetry *telemetry.Recorder
	provider  provider.Provider
	resolver  Resolver
	ttls      TTLs
	logger    zerolog.Logger
}

// New creates a Service from deps.
func New(deps Deps) (*Service, error) {
	switch {
	case deps.Admission == nil:
		return nil, errors.New("gateway: admission controller is required")
	case deps.Cache == nil:
		return nil, errors.New("gateway: cache manager is required")
	case deps.Executor == nil:
		return nil, errors.New("gateway: executor is required")
	case deps.Gate == nil:
		return nil, errors.New("gateway: quality gate is required")
	case deps.Telemetry == nil:
		return nil, errors.New("gateway: telemetry recorder is required")
	case deps.Provider == nil:
		return nil, errors.New("gateway: provider is required")
	}

	resolver := deps.Resolver
	if resolver == nil {
		resolver, _ = NewStaticResolver(nil)
	}
	ttls := deps.TTLs
	def := DefaultTTLs()
	if ttls.Breakdown <= 0 {
		ttls.Breakdown = def.Breakdown
	}
	if ttls.Explain <= 0 {
		ttls.Explain = def.Explain
	}

	return &Service{
		admission: deps.Admission,
		cache:     deps.Cache,
		executor:  deps.Executor,
		gate:      deps.Gate,
		telemetry: deps.Telemetry,
		provider:  deps.Provider,
		resolver:  resolver,
		ttls:      ttls,
		logger:    deps.Logger,
	}, nil
}

// unit is one cacheable, generatable piece of a request.
type unit struct {
	label     string
	key       cache.Key
	namespace string
	prompt    provider.Prompt
}

// plan validates the payload and splits the request into units.
func (s *Service) plan(req Request) (Payload, []unit, error) {
	p := req.Payload.normalize()
	if err := p.validate(req.Operation); err != nil {
		return p, nil, err
	}

	switch req.Operation {
	case OpBreakdown:
		return p, []unit{{
			label: p.Topic,
			key: cache.Key{
				Operation: string(OpBreakdown),
				Params: map[string]string{
					"topic": p.Topic,
					"level": p.Level,
					"count": strconv.Itoa(p.Count),
				},
			},
			namespace: Namespace(OpBreakdown, p.Topic),
			prompt:    breakdownPrompt(p),
		}}, nil

	case OpExplain:
		ns := Namespace(OpExplain, p.Topic)
		units := make([]unit, len(p.Subtopics))
		for i, sub := range p.Subtopics {
			units[i] = unit{
				label: sub,
				key: cache.Key{
					Operation: string(OpExplain),
					Params: map[string]string{
						"topic":    p.Topic,
						"subtopic": sub,
						"level":    p.Level,
					},
				},
				namespace: ns,
				prompt:    explainPrompt(p, sub),
			}
		}
		return p, units, nil
	}

	// validate rejects every other operation.
	return p, nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
}

// cost is one request plus the estimated tokens of every unit.
func cost(units []unit) admission.Cost {
	c := admission.Cost{Requests: 1}
	for _, u := range units {
		c.Tokens += provider.EstimateTokens(u.prompt)
	}
	return c
}

// Handle serves req. It never returns an error; failures are reported in
// the response status.
func (s *Service) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	requestID := uuid.NewString()

	logger := s.logger.With().
		Str("request_id", requestID).
		Str("operation", string(req.Operation)).
		Str("identity", req.Identity.ID).
		Logger()

	resp := Response{RequestID: requestID}
	ev := telemetry.Event{
		Time:      start,
		RequestID: requestID,
		Operation: string(req.Operation),
		Identity:  req.Identity.ID,
	}

	payload, units, err := s.plan(req)
	if err != nil {
		resp.Status = StatusError
		resp.Err = err
		resp.Error = err.Error()

		ev.Status = string(StatusError)
		ev.ErrorClass = errorClass(err)
		ev.Error = err.Error()
		s.record(ev, start)

		logger.Debug().Err(err).Msg("Rejected invalid request")
		return resp
	}

	decision := s.admission.CheckAndConsume(ctx, req.Identity, cost(units))
	remaining := decision.Remaining
	resp.QuotaRemaining = &remaining
	ev.Tier = decision.Tier

	if decision.TooLarge {
		err := fmt.Errorf("%w: %v", ErrInvalidInput, decision.Err())
		resp.Status = StatusError
		resp.Err = err
		resp.Error = err.Error()

		ev.Status = string(StatusError)
		ev.ErrorClass = errorClass(err)
		ev.Error = err.Error()
		s.record(ev, start)

		logger.Info().
			Str("tier", decision.Tier).
			Str("limit", decision.Reason).
			Msg("Request larger than quota ceiling")
		return resp
	}

	if !decision.Allowed {
		resp.Status = StatusDenied
		resp.RetryAfter = decision.RetryAfter
		resp.RetryAfterSeconds = int(math.Ceil(decision.RetryAfter.Seconds()))
		resp.Err = decision.Err()
		resp.Error = resp.Err.Error()

		ev.Status = string(StatusDenied)
		ev.Denied = true
		s.record(ev, start)

		logger.Info().
			Str("tier", decision.Tier).
			Str("reason", decision.Reason).
			Dur("retry_after", decision.RetryAfter).
			Msg("Request denied")
		return resp
	}

	items := make([]ItemResult, len(units))
	misses := make([]int, 0, len(units))
	for i, u := range units {
		items[i].Label = u.label
		entry, err := s.cache.Get(ctx, u.key)
		if err != nil {
			misses = append(misses, i)
			continue
		}
		items[i].Content = string(entry.Value)
		items[i].Cached = true
	}
	ev.CacheHits = len(units) - len(misses)
	ev.CacheMisses = len(misses)

	if len(misses) > 0 {
		s.generate(ctx, logger, units, misses, s.ttls.For(req.Operation), items, &ev)
	}

	s.assemble(&resp, req.Operation, payload, items)

	ev.Status = string(resp.Status)
	for _, it := range items {
		if it.Failed() {
			ev.ErrorClass = it.ErrorClass
			ev.Error = it.Error
			break
		}
	}
	s.record(ev, start)

	logger.Info().
		Str("tier", decision.Tier).
		Str("status", string(resp.Status)).
		Int("cache_hits", ev.CacheHits).
		Int("cache_misses", ev.CacheMisses).
		Int("provider_calls", ev.ProviderCalls).
		Dur("duration", time.Since(start)).
		Msg("Request complete")

	return resp
}

// generate fans the missed units out to the provider and fills their
// results into items. Accepted content is cached from inside the call, so
// it is stored even when the caller has already given up.
func (s *Service) generate(ctx context.Context, logger zerolog.Logger, units []unit, misses []int, ttl time.Duration, items []ItemResult, ev *telemetry.Event) {
	scores := make([]atomic.Pointer[quality.ValidationResult], len(units))

	work := make([]fanout.Item, len(misses))
	for j, i := range misses {
		work[j] = fanout.Item{ID: strconv.Itoa(i), Payload: units[i].label}
	}

	run := s.executor.Submit(ctx, work, func(callCtx context.Context, item fanout.Item) (string, error) {
		i, err := strconv.Atoi(item.ID)
		if err != nil {
			return "", fmt.Errorf("bad item id %q: %w", item.ID, err)
		}
		u := units[i]

		// Content generated across an Invalidate is stored under the old
		// versions and stays hidden.
		reservation := s.cache.Reserve(callCtx, u.namespace)
		content, err := s.provider.Generate(callCtx, u.prompt)
		if err != nil {
			return "", err
		}

		vr := s.gate.Score(content)
		scores[i].Store(&vr)
		if !s.gate.Admit(vr) {
			logger.Warn().
				Str("item_id", u.label).
				Float64("score", vr.Score).
				Strs("warnings", vr.Warnings).
				Msg("Low-quality content not cached")
			return content, nil
		}

		if err := s.cache.PutReserved(callCtx, u.key, []byte(content), ttl, reservation); err != nil {
			logger.Warn().
				Err(err).
				Str("namespace", u.namespace).
				Msg("Cache write failed")
		}
		return content, nil
	})

	for j, o := range run.Outcomes {
		i := misses[j]
		it := &items[i]
		it.Attempts = o.Attempts
		if o.Attempts > 1 {
			ev.Retries += o.Attempts - 1
		}

		if o.State != fanout.StateSucceeded {
			err := o.Err
			if err == nil {
				err = fanout.ErrTaskTimeout
			}
			it.Error = err.Error()
			it.ErrorClass = errorClass(err)
			continue
		}

		it.Content = o.Value
		if vr := scores[i].Load(); vr != nil {
			it.Score = vr.Score
			it.Warnings = vr.Warnings
			it.LowQuality = !s.gate.Admit(*vr)
		}
	}
	ev.ProviderCalls = run.Attempts()
	ev.Attempts = run.Attempts()
}

// assemble derives status, data and warnings from the item results.
func (s *Service) assemble(resp *Response, op Operation, p Payload, items []ItemResult) {
	failed, cached := 0, 0
	var firstErr string
	for _, it := range items {
		if it.Failed() {
			failed++
			if firstErr == "" {
				firstErr = it.Error
			}
		}
		if it.Cached {
			cached++
		}
		for _, w := range it.Warnings {
			resp.Warnings = append(resp.Warnings, it.Label+": "+w)
		}
	}

	resp.Items = items
	resp.Cached = cached == len(items)

	switch {
	case failed == 0:
		resp.Status = StatusOK
	case failed == len(items):
		resp.Status = StatusError
		resp.Err = fmt.Errorf("%w: %s", ErrGenerationFailed, firstErr)
		resp.Error = resp.Err.Error()
		return
	default:
		resp.Status = StatusPartialFailure
		resp.Error = fmt.Sprintf("%d of %d items failed", failed, len(items))
	}

	switch op {
	case OpBreakdown:
		subs := ParseList(items[0].Content)
		if len(subs) > p.Count {
			subs = subs[:p.Count]
		}
		if len(subs) == 0 {
			resp.Warnings = append(resp.Warnings, items[0].Label+": no subtopics could be parsed")
		}
		resp.Data = BreakdownData{Topic: p.Topic, Subtopics: subs}

	case OpExplain:
		data := ExplainData{Topic: p.Topic, Explanations: make([]Explanation, 0, len(items)-failed)}
		for _, it := range items {
			if !it.Failed() {
				data.Explanations = append(data.Explanations, Explanation{Subtopic: it.Label, Content: it.Content})
			}
		}
		resp.Data = data
	}
}

func (s *Service) record(ev telemetry.Event, start time.Time) {
	ev.Latency = time.Since(start)
	s.telemetry.Record(ev)
}

// Resolve maps a credential to an identity using the configured resolver.
func (s *Service) Resolve(credential, remote string) admission.Identity {
	return s.resolver.Resolve(credential, remote)
}

// Invalidate hides every cached entry of namespace. An error wrapping
// cache.ErrCacheUnavailable means only this replica's local tier was
// invalidated.
func (s *Service) Invalidate(ctx context.Context, namespace string) error {
	if namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidInput)
	}
	return s.cache.Invalidate(ctx, namespace)
}

// InvalidateTopic hides every cached result of op for topic.
func (s *Service) InvalidateTopic(ctx context.Context, op Operation, topic string) (string, error) {
	if op != OpBreakdown && op != OpExplain {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	topic = strings.TrimSpace(topic)
	if err := checkText("topic", topic, maxTopicLength); err != nil {
		return "", err
	}
	ns := Namespace(op, topic)
	return ns, s.cache.Invalidate(ctx, ns)
}

// Stats returns the telemetry snapshot.
func (s *Service) Stats() telemetry.Stats {
	return s.telemetry.Snapshot()
}

// CacheStats returns the cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Admission returns the admission controller.
func (s *Service) Admission() *admission.Controller {
	return s.admission
}
