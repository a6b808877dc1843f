package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/insightdesk/internal/clock"
	"github.com/smallbiznis/insightdesk/internal/config"
	"github.com/smallbiznis/insightdesk/internal/insight/domain"
	"github.com/smallbiznis/insightdesk/internal/insight/events"
	"github.com/smallbiznis/insightdesk/internal/insight/query"
	"github.com/smallbiznis/insightdesk/internal/insight/refresh"
	"github.com/smallbiznis/insightdesk/internal/observability/metrics"
	"github.com/smallbiznis/insightdesk/internal/observability/tracing"
	"github.com/smallbiznis/insightdesk/internal/ratelimit"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	outcomeOK       = "ok"
	outcomeInvalid  = "invalid"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Repo         domain.Repository
	Orchestrator *query.Orchestrator
	Controller   *refresh.Controller
	Publisher    events.Publisher
	Quota        ratelimit.Quota
	Tuning       *config.InsightTuningHolder
	Clock        clock.Clock
	Config       config.Config
	Metrics      *metrics.Metrics `optional:"true"`
}

var _ domain.Service = (*Service)(nil)

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         domain.Repository
	orchestrator *query.Orchestrator
	controller   *refresh.Controller
	publisher    events.Publisher
	quota        ratelimit.Quota
	tuning       *config.InsightTuningHolder
	clock        clock.Clock
	metrics      *metrics.Metrics
	validate     *validator.Validate
	ttl          time.Duration
	timeout      time.Duration
}

func New(p Params) *Service {
	ttl := p.Config.Insight.TTL
	if ttl <= 0 {
		ttl = domain.DefaultTTL
	}
	timeout := p.Config.Insight.StoreTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m := p.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("insight.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		orchestrator: p.Orchestrator,
		controller:   p.Controller,
		publisher:    p.Publisher,
		quota:        p.Quota,
		tuning:       p.Tuning,
		clock:        p.Clock,
		metrics:      m,
		validate:     newValidator(),
		ttl:          ttl,
		timeout:      timeout,
	}
}

func (s *Service) GetStats(ctx context.Context) (view domain.StatsView, err error) {
	ctx, span := tracing.Start(ctx, "insight.GetStats")
	defer func() { tracing.End(span, err) }()

	current := s.controller.Current()
	if current.Snapshot == nil {
		// nothing published yet, so this caller has to wait for the first run
		if err := s.controller.RefreshAndWait(ctx, metrics.RefreshTriggerManual); err != nil {
			return domain.StatsView{}, domain.StoreError("get stats", err)
		}
		current = s.controller.Current()
	}
	if current.Snapshot == nil {
		return domain.StatsView{}, fmt.Errorf("get stats: %w", domain.ErrPartialAggregation)
	}

	view = domain.StatsView{
		Snapshot:   *current.Snapshot,
		Stale:      current.Stale,
		Refreshing: current.Refreshing,
	}
	if current.Stale {
		view.StaleReason = metrics.ClassifyRefreshError(current.LastError)
	}
	return view, nil
}

// RefreshStats schedules a refresh and returns without waiting for it.
func (s *Service) RefreshStats(ctx context.Context) error {
	s.controller.Request(metrics.RefreshTriggerManual)
	return nil
}

func (s *Service) QueryInsights(ctx context.Context, spec domain.FilterSpec) (page domain.ResultPage, err error) {
	ctx, span := tracing.Start(ctx, "insight.QueryInsights",
		attribute.String("sort_by", spec.SortBy),
		attribute.Int("page", spec.Page),
		attribute.Int("page_size", spec.PageSize),
	)
	start := time.Now()
	defer func() {
		s.metrics.RecordQuery(ctx, outcome(err), time.Since(start))
		tracing.End(span, err)
	}()

	now := s.clock.Now()
	tuning := s.tuning.Get()
	q, err := domain.Translate(spec, now, domain.Limits{
		PageSizeHardCap:   tuning.PageSizeHardCap,
		MaxOffset:         tuning.MaxOffset,
		RiskSynonymSearch: tuning.RiskSynonymSearch,
	})
	if err != nil {
		return domain.ResultPage{}, err
	}

	generation := s.controller.Generation()
	refreshing := s.controller.State() == refresh.StateRefreshing

	err = s.retryRead(ctx, func(ctx context.Context) error {
		var err error
		page, err = s.orchestrator.Page(ctx, q, now)
		return err
	})
	if err != nil {
		return domain.ResultPage{}, err
	}

	page.Generation = generation
	page.Refreshing = refreshing
	return page, nil
}

// GetDetail returns one decorated record and counts the view. A failed
// view count never fails the read.
func (s *Service) GetDetail(ctx context.Context, rawID string) (resp *domain.InsightResponse, err error) {
	ctx, span := tracing.Start(ctx, "insight.GetDetail")
	defer func() { tracing.End(span, err) }()

	id, err := domain.ParseID(rawID)
	if err != nil {
		return nil, err
	}

	var item *domain.Insight
	err = s.retryRead(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		var err error
		item, err = s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return domain.StoreError("find insight", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}

	if s.countView(ctx, id) {
		item.AccessCount++
	}

	now := s.clock.Now()
	decorated := s.orchestrator.Decorate(ctx, []domain.Insight{*item}, now)
	return &decorated[0], nil
}

func (s *Service) countView(ctx context.Context, id snowflake.ID) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.repo.IncrementAccessCount(ctx, s.db, id)
	if err != nil {
		s.log.Warn("failed to count insight view", zap.String("insight_id", id.String()), zap.Error(err))
		return false
	}
	return ok
}

func (s *Service) CreateInsight(ctx context.Context, req domain.CreateRequest) (resp *domain.CreateResponse, err error) {
	ctx, span := tracing.Start(ctx, "insight.CreateInsight")
	defer func() {
		s.metrics.RecordMutation(ctx, "create", outcome(err))
		tracing.End(span, err)
	}()

	req.UserID = strings.TrimSpace(req.UserID)
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}

	status := domain.ProcessingCompleted
	if raw := strings.TrimSpace(req.ProcessingStatus); raw != "" {
		parsed, ok := domain.ParseProcessingStatus(raw)
		if !ok {
			return nil, domain.NewFilterError("processing_status", "unknown processing status")
		}
		status = parsed
	}

	analysis, err := encodeAnalysis(req.Analysis)
	if err != nil {
		return nil, err
	}

	service := domain.NormalizeServiceName(req.Service)
	rateLimited, consumed := s.consumeQuota(ctx, req.UserID, service)

	now := s.clock.Now()
	item := &domain.Insight{
		ID:               s.genID.Generate(),
		UserID:           req.UserID,
		Service:          service,
		Confidence:       req.Confidence,
		RiskLevel:        domain.RiskFromAnalysis(req.Analysis),
		Summary:          req.Summary,
		Analysis:         analysis,
		ProcessingStatus: status,
		GeneratedAt:      now,
		ExpiresAt:        now.Add(s.ttl),
		GenerationTimeMs: req.GenerationTimeMs,
		PromptTokens:     req.PromptTokens,
		CompletionTokens: req.CompletionTokens,
		TotalTokens:      req.TotalTokens,
		RateLimited:      rateLimited,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Insert(writeCtx, s.db, item); err != nil {
		if consumed {
			s.releaseQuota(ctx, req.UserID)
		}
		return nil, domain.StoreError("insert insight", err)
	}

	s.afterWrite(ctx, domain.ChangeCreated, item.ID.String())
	return &domain.CreateResponse{
		ID:          item.ID.String(),
		RateLimited: rateLimited,
		ExpiresAt:   item.ExpiresAt,
	}, nil
}

// consumeQuota reports whether the user was over quota and whether a unit
// was taken. An unreachable quota store admits the request.
func (s *Service) consumeQuota(ctx context.Context, userID string, service domain.ServiceName) (rateLimited, consumed bool) {
	if s.quota == nil {
		return false, false
	}
	usage, allowed, err := s.quota.Consume(ctx, userID)
	if err != nil {
		s.log.Warn("quota check failed, admitting insight", zap.Error(err))
		return false, false
	}
	s.metrics.RecordQuota(ctx, string(service), allowed)
	if !allowed {
		s.log.Info("daily insight quota exceeded",
			zap.Int64("current", usage.Current),
			zap.Int64("max", usage.Max),
		)
	}
	return !allowed, allowed
}

func (s *Service) releaseQuota(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if _, err := s.quota.Release(ctx, userID); err != nil {
		s.log.Warn("failed to release quota after insert failure", zap.Error(err))
	}
}

func (s *Service) DeleteInsight(ctx context.Context, rawID string) (err error) {
	ctx, span := tracing.Start(ctx, "insight.DeleteInsight")
	defer func() {
		s.metrics.RecordMutation(ctx, "delete", outcome(err))
		tracing.End(span, err)
	}()

	id, err := domain.ParseID(rawID)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	deleted, err := s.repo.DeleteByID(writeCtx, s.db, id)
	if err != nil {
		return domain.StoreError("delete insight", err)
	}
	if !deleted {
		return domain.ErrNotFound
	}

	s.afterWrite(ctx, domain.ChangeDeleted, id.String())
	return nil
}

// RegenerateInsight restarts the record's lifetime under the same id.
func (s *Service) RegenerateInsight(ctx context.Context, req domain.RegenerateRequest) (resp *domain.InsightResponse, err error) {
	ctx, span := tracing.Start(ctx, "insight.RegenerateInsight")
	defer func() {
		s.metrics.RecordMutation(ctx, "regenerate", outcome(err))
		tracing.End(span, err)
	}()

	id, err := domain.ParseID(req.ID)
	if err != nil {
		return nil, err
	}
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	expires := now.Add(s.ttl)
	completed := domain.ProcessingCompleted
	patch := domain.Patch{
		GeneratedAt:      &now,
		ExpiresAt:        &expires,
		ProcessingStatus: &completed,
		Confidence:       req.Confidence,
		Summary:          req.Summary,
		GenerationTimeMs: req.GenerationTimeMs,
		UpdatedAt:        now,
	}
	if req.Analysis != nil {
		analysis, err := encodeAnalysis(req.Analysis)
		if err != nil {
			return nil, err
		}
		risk := domain.RiskFromAnalysis(req.Analysis)
		patch.Analysis = analysis
		patch.RiskLevel = &risk
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	updated, err := s.repo.UpdateByID(writeCtx, s.db, id, patch)
	if err != nil {
		return nil, domain.StoreError("regenerate insight", err)
	}
	if !updated {
		return nil, domain.ErrNotFound
	}
	s.afterWrite(ctx, domain.ChangeRegenerated, id.String())

	var item *domain.Insight
	err = s.retryRead(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		var err error
		item, err = s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return domain.StoreError("reload insight", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}

	decorated := s.orchestrator.Decorate(ctx, []domain.Insight{*item}, now)
	return &decorated[0], nil
}

// PurgeExpired hard-deletes up to limit records that expired before the
// cutoff.
func (s *Service) PurgeExpired(ctx context.Context, before time.Time, limit int) (n int, err error) {
	ctx, span := tracing.Start(ctx, "insight.PurgeExpired", attribute.Int("limit", limit))
	defer func() { tracing.End(span, err) }()

	ids, err := s.repo.ListExpired(ctx, s.db, before, limit)
	if err != nil {
		return 0, domain.StoreError("list expired", err)
	}

	for _, id := range ids {
		deleted, err := s.repo.DeleteByID(ctx, s.db, id)
		if err != nil {
			if n > 0 {
				s.afterWrite(ctx, domain.ChangePurged, "")
			}
			return n, domain.StoreError("purge insight", err)
		}
		if deleted {
			n++
		}
	}
	if n > 0 {
		s.afterWrite(ctx, domain.ChangePurged, "")
	}
	return n, nil
}

func (s *Service) afterWrite(ctx context.Context, kind domain.ChangeKind, insightID string) {
	s.controller.Request(metrics.RefreshTriggerMutation)
	if s.publisher == nil {
		return
	}
	event := events.NewEvent(kind, insightID, "", s.clock.Now())
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("failed to publish change event",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

// retryRead runs fn and retries it once when it fails with a transient
// store error.
func (s *Service) retryRead(ctx context.Context, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		if err != nil && !domain.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(2))
	return err
}

func (s *Service) validatePayload(payload any) error {
	err := s.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return domain.NewFilterError(verrs[0].Field(), "failed "+verrs[0].Tag())
	}
	return domain.NewFilterError("payload", "invalid")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

func encodeAnalysis(analysis map[string]any) (datatypes.JSON, error) {
	if analysis == nil {
		return nil, nil
	}
	raw, err := json.Marshal(analysis)
	if err != nil {
		return nil, domain.NewFilterError("analysis", "not serializable")
	}
	return datatypes.JSON(raw), nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, domain.ErrInvalidFilter):
		return outcomeInvalid
	case errors.Is(err, domain.ErrNotFound):
		return outcomeNotFound
	default:
		return outcomeError
	}
}
