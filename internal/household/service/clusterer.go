package service

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hearth/internal/audit"
	identity "hearth/internal/identity/models"
	identitystore "hearth/internal/identity/store"
	"hearth/internal/household/models"
	"hearth/internal/household/store"
	"hearth/internal/platform/config"
	"hearth/internal/platform/metrics"
	"hearth/internal/transaction"
	id "hearth/pkg/domain"
	dErrors "hearth/pkg/domain-errors"
	"hearth/pkg/requestcontext"
)

// Locker is the distributed run lock. Satisfied by the redis platform client;
// nil means single-instance deployment and the in-process mutex suffices.
type Locker interface {
	AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

// AuditPublisher lets the clusterer emit audit events without binding to a sink.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Clusterer rebuilds household groupings for an institution from scratch on
// every run. Generated households are wiped and recomputed; manually curated
// households and their memberships survive.
type Clusterer struct {
	people     identitystore.PersonStore
	households store.Store
	txns       transaction.Store
	locker     Locker
	guard      *Guard
	logger     *slog.Logger
	metrics    *metrics.Metrics
	audit      AuditPublisher
	tracer     trace.Tracer

	// running serializes runs within this process even when no distributed
	// locker is configured.
	running sync.Mutex
}

type Option func(c *Clusterer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Clusterer) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Clusterer) { c.metrics = m }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(c *Clusterer) { c.audit = publisher }
}

func WithLocker(locker Locker) Option {
	return func(c *Clusterer) { c.locker = locker }
}

// WithGuard shares a rebuild guard with other household writers, so the wipe
// waits for in-flight membership writes and fences new ones until the rebuild
// finishes.
func WithGuard(guard *Guard) Option {
	return func(c *Clusterer) { c.guard = guard }
}

func NewClusterer(people identitystore.PersonStore, households store.Store, txns transaction.Store, opts ...Option) *Clusterer {
	c := &Clusterer{
		people:     people,
		households: households,
		txns:       txns,
		logger:     slog.Default(),
		tracer:     otel.Tracer("hearth/household"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.guard == nil {
		c.guard = NewGuard()
	}
	return c
}

// RunResult summarizes a clustering run.
type RunResult struct {
	HouseholdsWiped   int `json:"households_wiped"`
	HouseholdsCreated int `json:"households_created"`
	PeopleGrouped     int `json:"people_grouped"`
	ByPhone           int `json:"by_phone"`
	ByEmail           int `json:"by_email"`
}

// Run executes a full clustering pass for one institution: wipe generated
// households, then group unhoused people by shared phone, then by shared
// email. At most one run may execute at a time; a second caller gets a
// conflict rather than a queued run.
func (c *Clusterer) Run(ctx context.Context, institutionID id.InstitutionID) (*RunResult, error) {
	if institutionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "institution id is required")
	}

	if !c.running.TryLock() {
		return nil, dErrors.New(dErrors.CodeConflict, "householding run already in progress")
	}
	defer c.running.Unlock()

	if c.locker != nil {
		lockName := "hearth:householding:" + institutionID.String()
		token := uuid.NewString()
		ok, err := c.locker.AcquireLock(ctx, lockName, token, config.HouseholdingLockTTL)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "acquire householding lock")
		}
		if !ok {
			return nil, dErrors.New(dErrors.CodeConflict, "householding run already in progress")
		}
		defer func() {
			if err := c.locker.ReleaseLock(ctx, lockName, token); err != nil {
				c.logger.WarnContext(ctx, "release householding lock failed", "error", err.Error())
			}
		}()
	}

	ctx, span := c.tracer.Start(ctx, "household.run",
		trace.WithAttributes(attribute.String("institution_id", institutionID.String())))
	defer span.End()

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.HouseholdingRunDur.Observe(time.Since(start).Seconds())
		}
	}()

	var result *RunResult
	err := c.guard.Exclusive(func() error {
		var rerr error
		result, rerr = c.rebuild(ctx, institutionID)
		return rerr
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	c.logger.InfoContext(ctx, "householding run complete",
		"institution_id", institutionID.String(),
		"wiped", result.HouseholdsWiped,
		"created", result.HouseholdsCreated,
		"grouped", result.PeopleGrouped,
	)
	c.emit(ctx, audit.Event{
		Action: string(audit.EventHouseholdsRebuilt),
		Detail: map[string]string{
			"institution_id":     institutionID.String(),
			"households_wiped":   strconv.Itoa(result.HouseholdsWiped),
			"households_created": strconv.Itoa(result.HouseholdsCreated),
			"people_grouped":     strconv.Itoa(result.PeopleGrouped),
		},
	})
	return result, nil
}

func (c *Clusterer) rebuild(ctx context.Context, institutionID id.InstitutionID) (*RunResult, error) {
	wiped, err := c.households.DeleteGenerated(ctx, institutionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "wipe generated households")
	}
	if len(wiped) > 0 {
		if err := c.txns.DetachHouseholds(ctx, wiped); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "detach transactions from wiped households")
		}
	}

	// Manual memberships survive the wipe; those people are off-limits for
	// regrouping.
	housed, err := c.households.HousedPersonIDs(ctx, institutionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list housed people")
	}

	result := &RunResult{HouseholdsWiped: len(wiped)}

	byPhone, err := c.people.ListWithPhone(ctx, institutionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list people with phone")
	}
	result.ByPhone = c.pass(ctx, institutionID, byPhone, models.ByPhone, housed, result)

	byEmail, err := c.people.ListWithEmail(ctx, institutionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list people with email")
	}
	result.ByEmail = c.pass(ctx, institutionID, byEmail, models.ByEmail, housed, result)

	return result, nil
}

// pass groups the given people by their shared identifier and creates one
// household per group of two or more. A failed group is logged and skipped so
// one bad group never aborts the whole run. Returns the number of households
// created in this pass.
func (c *Clusterer) pass(ctx context.Context, institutionID id.InstitutionID, people []*identity.Person, via models.GroupedBy, housed map[id.PersonID]bool, result *RunResult) int {
	groups := make(map[string][]*identity.Person)
	for _, p := range people {
		if housed[p.ID] {
			continue
		}
		key := groupKey(p, via)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], p)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	created := 0
	for _, key := range keys {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		if err := c.createGroup(ctx, institutionID, members, via); err != nil {
			c.logger.ErrorContext(ctx, "household group creation failed",
				"grouped_by", string(via), "size", len(members), "error", err.Error())
			continue
		}
		created++
		result.HouseholdsCreated++
		result.PeopleGrouped += len(members)
		for _, m := range members {
			housed[m.ID] = true
		}
		if c.metrics != nil {
			c.metrics.HouseholdsCreated.Inc()
			c.metrics.PeopleGrouped.Add(float64(len(members)))
		}
	}
	return created
}

func (c *Clusterer) createGroup(ctx context.Context, institutionID id.InstitutionID, members []*identity.Person, via models.GroupedBy) error {
	// Earliest-created member heads the household and names it.
	sort.Slice(members, func(i, j int) bool {
		if members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].ID.String() < members[j].ID.String()
		}
		return members[i].CreatedAt.Before(members[j].CreatedAt)
	})
	head := members[0]

	now := requestcontext.Now(ctx)
	score, reason := models.ScoreGroup(members, via)
	household, err := models.NewHousehold(institutionID, head, via, score, reason, now)
	if err != nil {
		return err
	}
	if err := c.households.CreateHousehold(ctx, household); err != nil {
		return err
	}

	personIDs := make([]id.PersonID, 0, len(members))
	for i, p := range members {
		role := models.RoleUnknown
		if i == 0 {
			role = models.RoleHead
		}
		member := &models.Member{
			ID:          id.NewMembershipID(),
			HouseholdID: household.ID,
			PersonID:    p.ID,
			Role:        role,
			GroupedBy:   via,
			CreatedAt:   now,
		}
		if err := c.households.AddMember(ctx, member); err != nil {
			c.discardPartialGroup(ctx, household.ID)
			return err
		}
		personIDs = append(personIDs, p.ID)
	}

	if err := c.txns.AttachHousehold(ctx, personIDs, household.ID); err != nil {
		c.discardPartialGroup(ctx, household.ID)
		return err
	}
	return nil
}

// discardPartialGroup removes a household left behind by a failed group
// creation. A household below two members must never survive the run.
func (c *Clusterer) discardPartialGroup(ctx context.Context, householdID id.HouseholdID) {
	if err := c.households.DeleteHousehold(ctx, householdID); err != nil {
		c.logger.ErrorContext(ctx, "partial household cleanup failed",
			"household_id", householdID.String(), "error", err.Error())
	}
}

func (c *Clusterer) emit(ctx context.Context, event audit.Event) {
	if c.audit == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	event.Actor = requestcontext.Actor(ctx)
	if err := c.audit.Emit(ctx, event); err != nil {
		c.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err.Error())
	}
}

func groupKey(p *identity.Person, via models.GroupedBy) string {
	switch via {
	case models.ByPhone:
		return p.NormalizedPhone
	case models.ByEmail:
		return p.NormalizedEmail
	default:
		return ""
	}
}
