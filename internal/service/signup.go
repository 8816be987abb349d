package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/hearthline/waitlist/internal/abuse"
	"github.com/hearthline/waitlist/internal/crm"
	"github.com/hearthline/waitlist/internal/dispatch"
	"github.com/hearthline/waitlist/internal/mailer"
	"github.com/hearthline/waitlist/internal/metrics"
	"github.com/hearthline/waitlist/internal/model"
	"github.com/hearthline/waitlist/internal/ratelimit"
	"github.com/hearthline/waitlist/internal/validation"
	"github.com/hearthline/waitlist/internal/verification"
	"github.com/hearthline/waitlist/internal/webhook"
)

// QueuedID is reported when the automation webhook did not take the lead
// synchronously.
const QueuedID = "queued"

// Field limits.
const (
	maxNameLength     = 120
	maxPhoneLength    = 32
	maxUTMLength      = 200
	maxReferrerLength = 2048
	maxHeatingCost    = 100000
)

// SubscriberStore persists subscribers.
type SubscriberStore interface {
	UpsertSubscriber(ctx context.Context, sub *model.Subscriber) (bool, error)
}

// EventPublisher sends lead events to the automation webhook.
type EventPublisher interface {
	Publish(ctx context.Context, event model.WebhookEvent) (webhook.Outcome, error)
}

// Limiter is the admission check for the tightened suspicious policy.
type Limiter interface {
	Allow(ctx context.Context, identifier, endpoint string) (ratelimit.Decision, error)
}

// Dispatcher runs fire-and-forget collaborator calls.
type Dispatcher interface {
	Go(name string, timeout time.Duration, task dispatch.Task) error
}

// SignupRequest is the decoded signup body.
type SignupRequest struct {
	Email              string   `json:"email"`
	Name               string   `json:"name"`
	Phone              string   `json:"phone,omitempty"`
	PostalCode         string   `json:"postal_code,omitempty"`
	PropertyType       string   `json:"property_type,omitempty"`
	MonthlyHeatingCost *float64 `json:"monthly_heating_cost,omitempty"`
	Consent            bool     `json:"consent"`
	UTMSource          string   `json:"utm_source,omitempty"`
	UTMMedium          string   `json:"utm_medium,omitempty"`
	UTMCampaign        string   `json:"utm_campaign,omitempty"`
	UTMTerm            string   `json:"utm_term,omitempty"`
	UTMContent         string   `json:"utm_content,omitempty"`
	Honeypot           string   `json:"honeypot,omitempty"`
	FormStartedAt      int64    `json:"form_started_at,omitempty"` // client unix ms
	Referrer           string   `json:"referrer,omitempty"`
}

// RequestMeta is what the transport knows about the caller.
type RequestMeta struct {
	ClientIP   string
	UserAgent  string
	RequestID  string
	ReceivedAt time.Time
}

// SignupResult describes an accepted signup.
type SignupResult struct {
	// ID is the subscriber id, or QueuedID when the webhook did not confirm.
	ID         string
	Subscriber *model.Subscriber
	Assessment abuse.Assessment
	Delivery   webhook.Outcome
	Persisted  bool
}

// SignupConfig holds the static settings of the signup pipeline.
type SignupConfig struct {
	BaseURL         string
	VerificationTTL time.Duration
	OutboundTimeout time.Duration
}

// SignupService runs the validation and abuse pipeline and forwards
// accepted leads to the collaborators.
type SignupService struct {
	validator  *validation.Validator
	assessor   *abuse.Assessor
	limiter    Limiter
	store      SubscriberStore
	publisher  EventPublisher
	crm        crm.Client
	mailer     mailer.Sender
	dispatcher Dispatcher
	cfg        SignupConfig
	logger     *slog.Logger
	metrics    metrics.Recorder
	now        func() time.Time
}

// SignupDeps bundles the collaborators of a SignupService.
type SignupDeps struct {
	Validator  *validation.Validator
	Assessor   *abuse.Assessor
	Limiter    Limiter
	Store      SubscriberStore
	Publisher  EventPublisher
	CRM        crm.Client
	Mailer     mailer.Sender
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Metrics    metrics.Recorder
}

// NewSignupService creates a SignupService.
func NewSignupService(deps SignupDeps, cfg SignupConfig) *SignupService {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.CRM == nil {
		deps.CRM = crm.Noop{}
	}
	if deps.Mailer == nil {
		deps.Mailer = mailer.Noop{}
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = verification.DefaultTTL
	}
	if cfg.OutboundTimeout <= 0 {
		cfg.OutboundTimeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &SignupService{
		validator:  deps.Validator,
		assessor:   deps.Assessor,
		limiter:    deps.Limiter,
		store:      deps.Store,
		publisher:  deps.Publisher,
		crm:        deps.CRM,
		mailer:     deps.Mailer,
		dispatcher: deps.Dispatcher,
		cfg:        cfg,
		logger:     deps.Logger.With("component", "signup"),
		metrics:    deps.Metrics,
		now:        time.Now,
	}
}

// Signup processes one signup. Errors are *ValidationError,
// *AbuseRejection or *RateLimitExceeded; collaborator failures never
// surface here.
func (s *SignupService) Signup(ctx context.Context, req SignupRequest, meta RequestMeta) (*SignupResult, error) {
	if meta.ReceivedAt.IsZero() {
		meta.ReceivedAt = s.now()
	}

	propertyType, err := checkShape(&req)
	if err != nil {
		s.metrics.IncSignup(metrics.SignupInvalid)
		return nil, err
	}

	valid, err := s.validator.Validate(validation.Input{Email: req.Email, PostalCode: req.PostalCode})
	if err != nil {
		s.metrics.IncSignup(metrics.SignupInvalid)
		return nil, &ValidationError{Code: validation.Code(err), Err: err}
	}

	in := abuse.Input{
		LocalPart:  valid.LocalPart,
		Honeypot:   req.Honeypot,
		UserAgent:  meta.UserAgent,
		ReceivedAt: meta.ReceivedAt,
	}
	if req.FormStartedAt > 0 {
		in.FormStartedAt = time.UnixMilli(req.FormStartedAt)
	}
	assessment := s.assessor.Assess(in)
	for _, reason := range assessment.Reasons {
		s.metrics.IncAbuseReason(reason)
	}

	if assessment.HardReject {
		s.metrics.IncSignup(metrics.SignupHoneypot)
		s.logger.Warn("signup dropped by bot check",
			"request_id", meta.RequestID,
			"reasons", assessment.Reasons,
			"email_domain", valid.Domain,
		)
		return nil, &AbuseRejection{Reasons: assessment.Reasons, DecoyID: ulid.Make().String()}
	}

	if assessment.Level == abuse.LevelHigh {
		if err := s.admitSuspicious(ctx, meta); err != nil {
			return nil, err
		}
	}

	sub, token, err := s.buildSubscriber(req, valid, propertyType, assessment, meta.ReceivedAt)
	if err != nil {
		// Token generation failing means the system RNG is broken.
		return nil, fmt.Errorf("build subscriber: %w", err)
	}

	result := &SignupResult{Subscriber: sub, Assessment: assessment}

	inserted, persistErr := s.persist(ctx, sub)
	result.Persisted = persistErr == nil

	result.Delivery = s.publishCreated(ctx, sub, meta)
	if result.Delivery == webhook.OutcomeDelivered {
		result.ID = sub.ID
		s.metrics.IncSignup(metrics.SignupAccepted)
	} else {
		result.ID = QueuedID
		s.metrics.IncSignup(metrics.SignupQueued)
	}

	s.syncCRM(sub)
	if result.Persisted && sub.Status == model.StatusPending {
		s.sendVerification(sub, token.Raw)
	}

	s.logger.Info("signup accepted",
		"request_id", meta.RequestID,
		"subscriber_id", sub.ID,
		"new", inserted,
		"email_domain", valid.Domain,
		"risk_score", assessment.Score,
		"risk_level", assessment.Level,
		"delivery", result.Delivery,
		"persisted", result.Persisted,
	)

	return result, nil
}

// checkShape validates the fields the validator does not cover and
// normalizes free text in place.
func checkShape(req *SignupRequest) (model.PropertyType, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)

	if utf8.RuneCountInString(req.Name) > maxNameLength {
		return "", invalidRequest("name must be at most %d characters", maxNameLength)
	}
	if len(req.Phone) > maxPhoneLength {
		return "", invalidRequest("phone must be at most %d characters", maxPhoneLength)
	}

	pt := model.PropertyType(strings.ToLower(strings.TrimSpace(req.PropertyType)))
	if pt == "" {
		pt = model.PropertyHome
	}
	if !model.IsValidPropertyType(pt) {
		return "", invalidRequest("property_type must be home or business")
	}

	if c := req.MonthlyHeatingCost; c != nil && (math.IsNaN(*c) || *c < 0 || *c > maxHeatingCost) {
		return "", invalidRequest("monthly_heating_cost must be between 0 and %d", maxHeatingCost)
	}

	for _, v := range []string{req.UTMSource, req.UTMMedium, req.UTMCampaign, req.UTMTerm, req.UTMContent} {
		if len(v) > maxUTMLength {
			return "", invalidRequest("utm fields must be at most %d characters", maxUTMLength)
		}
	}
	if len(req.Referrer) > maxReferrerLength {
		return "", invalidRequest("referrer is too long")
	}

	return pt, nil
}

func (s *SignupService) admitSuspicious(ctx context.Context, meta RequestMeta) error {
	if s.limiter == nil {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, meta.ClientIP, ratelimit.EndpointSignupSuspicious)
	s.metrics.IncRateLimit(ratelimit.EndpointSignupSuspicious, decision.Allowed)
	if err != nil {
		s.metrics.IncRateLimitStoreError(ratelimit.EndpointSignupSuspicious)
		s.logger.Warn("suspicious signup limiter unavailable, allowing",
			"request_id", meta.RequestID,
			"error", err,
		)
	}
	if decision.Allowed {
		s.metrics.IncSignup(metrics.SignupSuspicious)
		return nil
	}
	s.metrics.IncSignup(metrics.SignupThrottled)
	return &RateLimitExceeded{Endpoint: ratelimit.EndpointSignupSuspicious, RetryAfter: decision.RetryAfter}
}

func (s *SignupService) buildSubscriber(
	req SignupRequest,
	valid validation.Result,
	pt model.PropertyType,
	assessment abuse.Assessment,
	now time.Time,
) (*model.Subscriber, *verification.Token, error) {
	token, err := verification.NewToken(now, s.cfg.VerificationTTL)
	if err != nil {
		return nil, nil, err
	}

	flags := append([]string{}, assessment.Reasons...)

	return &model.Subscriber{
		ID:                 ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Email:              valid.Email,
		Name:               req.Name,
		Phone:              req.Phone,
		PostalCode:         valid.PostalCode,
		PropertyType:       pt,
		MonthlyHeatingCost: req.MonthlyHeatingCost,
		Consent:            req.Consent,
		Attribution: model.Attribution{
			Source:   strings.TrimSpace(req.UTMSource),
			Medium:   strings.TrimSpace(req.UTMMedium),
			Campaign: strings.TrimSpace(req.UTMCampaign),
			Term:     strings.TrimSpace(req.UTMTerm),
			Content:  strings.TrimSpace(req.UTMContent),
		},
		Referrer:       strings.TrimSpace(req.Referrer),
		RiskScore:      assessment.Score,
		RiskFlags:      flags,
		Status:         model.StatusPending,
		TokenHash:      token.Hash,
		TokenExpiresAt: token.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, token, nil
}

func (s *SignupService) persist(ctx context.Context, sub *model.Subscriber) (bool, error) {
	if s.store == nil {
		return false, &ConfigurationMissing{Setting: "DATABASE_URL"}
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OutboundTimeout)
	defer cancel()

	inserted, err := s.store.UpsertSubscriber(ctx, sub)
	if err != nil {
		s.metrics.IncUpstreamFailure("database")
		s.logger.Error("failed to persist subscriber",
			"subscriber_id", sub.ID,
			"error", &UpstreamUnavailable{Collaborator: "database", Err: err},
		)
		return false, err
	}
	return inserted, nil
}

func (s *SignupService) publishCreated(ctx context.Context, sub *model.Subscriber, meta RequestMeta) webhook.Outcome {
	if s.publisher == nil {
		return webhook.OutcomeSkipped
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OutboundTimeout)
	defer cancel()

	event := model.NewLeadEvent(ulid.Make().String(), model.EventLeadCreated, sub, meta.ReceivedAt)
	outcome, err := s.publisher.Publish(ctx, event)
	switch {
	case err == nil:
	case errors.Is(err, webhook.ErrNotConfigured):
		s.logger.Warn("lead not forwarded",
			"subscriber_id", sub.ID,
			"error", &ConfigurationMissing{Setting: "AUTOMATION_WEBHOOK_URL"},
		)
	default:
		s.metrics.IncUpstreamFailure("webhook")
		s.logger.Warn("automation webhook unavailable",
			"subscriber_id", sub.ID,
			"outcome", outcome,
			"error", &UpstreamUnavailable{Collaborator: "webhook", Err: err},
		)
	}
	return outcome
}

func (s *SignupService) syncCRM(sub *model.Subscriber) {
	if s.dispatcher == nil {
		return
	}
	snapshot := *sub
	_ = s.dispatcher.Go("crm", s.cfg.OutboundTimeout, func(ctx context.Context) error {
		return s.crm.UpsertLead(ctx, &snapshot)
	})
}

func (s *SignupService) sendVerification(sub *model.Subscriber, rawToken string) {
	if s.dispatcher == nil {
		return
	}
	snapshot := *sub
	link := s.VerifyURL(rawToken)
	_ = s.dispatcher.Go("email", s.cfg.OutboundTimeout, func(ctx context.Context) error {
		return s.mailer.SendVerification(ctx, &snapshot, link)
	})
}

// VerifyURL builds the link mailed to the subscriber.
func (s *SignupService) VerifyURL(rawToken string) string {
	return s.cfg.BaseURL + "/api/verify?token=" + url.QueryEscape(rawToken)
}
