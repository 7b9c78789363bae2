// Package match implements the tiered person-resolution rules.
//
// Matching always requires at least one strong identifier (email, phone, or
// dob) combined with both name components for HIGH confidence. Email or
// phone alone is downgraded to AMBIGUOUS, never auto-applied: shared family
// inboxes and phones are common and must not silently merge unrelated
// individuals. Name-only matching is forbidden outright.
package match

import (
	"context"
	"strings"
	"time"

	"hearth/internal/identity/models"
	"hearth/internal/identity/normalize"
	id "hearth/pkg/domain"
)

// Confidence classifies a resolution outcome.
type Confidence string

const (
	// High confidence matches are applied automatically.
	High Confidence = "high"
	// Ambiguous matches always route to operator review; they never
	// auto-create and never auto-attach.
	Ambiguous Confidence = "ambiguous"
	// None means no tier produced a match; callers create a new person.
	None Confidence = "none"
)

// Match methods reported in results and explanations.
const (
	MethodEmailName         = "email_name"
	MethodPhoneName         = "phone_name"
	MethodNameDOB           = "name_dob"
	MethodMultipleHigh      = "multiple_high_matches"
	MethodMediumOnlyPrefix  = "medium_only: "
	MethodNewPersonCreated  = "new_person_created"
	MethodOperatorConfirmed = "operator_confirmed"
	MethodOperatorMerged    = "operator_merged"
)

// Candidate is the incoming identity tuple to resolve.
type Candidate struct {
	InstitutionID id.InstitutionID
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	DateOfBirth   *time.Time
}

// Result is a classified match outcome.
type Result struct {
	PersonID     *id.PersonID
	Confidence   Confidence
	Method       string
	CandidateIDs []id.PersonID
}

// Store is the read-only slice of the person store the engine needs.
type Store interface {
	FindByEmail(ctx context.Context, institutionID id.InstitutionID, normalizedEmail string) ([]*models.Person, error)
	FindByPhone(ctx context.Context, institutionID id.InstitutionID, normalizedPhone string) ([]*models.Person, error)
	FindByNameAndDOB(ctx context.Context, institutionID id.InstitutionID, firstName, lastName string, dob time.Time) ([]*models.Person, error)
}

// Engine resolves candidate tuples against the person store. It is a pure
// decision function: no side effects on any store.
type Engine struct {
	people Store
}

func New(people Store) *Engine {
	return &Engine{people: people}
}

// Resolve classifies the candidate against existing people.
//
// Tiers are evaluated in order; a lower tier is reached only if every rule in
// the tier above produced zero hits. Within a tier all sub-rule hits are
// pooled and deduplicated by person id before classification.
func (e *Engine) Resolve(ctx context.Context, cand Candidate) (Result, error) {
	email := normalize.Email(cand.Email)
	phone := normalize.Phone(cand.Phone)

	high, err := e.highTier(ctx, cand, email, phone)
	if err != nil {
		return Result{}, err
	}
	if len(high.ids) == 1 {
		personID := high.ids[0]
		return Result{
			PersonID:     &personID,
			Confidence:   High,
			Method:       high.firstMethod,
			CandidateIDs: high.ids,
		}, nil
	}
	if len(high.ids) > 1 {
		// Multiple distinct people each match a full-strength rule. Do not
		// fall through to lower tiers; this needs a human.
		return Result{
			Confidence:   Ambiguous,
			Method:       MethodMultipleHigh,
			CandidateIDs: high.ids,
		}, nil
	}

	medium, err := e.mediumTier(ctx, cand, email, phone)
	if err != nil {
		return Result{}, err
	}
	if len(medium.ids) > 0 {
		return Result{
			Confidence:   Ambiguous,
			Method:       MethodMediumOnlyPrefix + strings.Join(medium.methods, ","),
			CandidateIDs: medium.ids,
		}, nil
	}

	return Result{Confidence: None}, nil
}

// pool accumulates unique person ids across sub-rules, remembering the first
// method that produced any hit.
type pool struct {
	ids         []id.PersonID
	seen        map[id.PersonID]bool
	methods     []string
	firstMethod string
}

func newPool() *pool {
	return &pool{seen: make(map[id.PersonID]bool)}
}

func (p *pool) add(method string, people []*models.Person) {
	if len(people) == 0 {
		return
	}
	if p.firstMethod == "" {
		p.firstMethod = method
	}
	p.methods = append(p.methods, method)
	for _, person := range people {
		if !p.seen[person.ID] {
			p.seen[person.ID] = true
			p.ids = append(p.ids, person.ID)
		}
	}
}

func (e *Engine) highTier(ctx context.Context, cand Candidate, email, phone string) (*pool, error) {
	p := newPool()

	if email != "" {
		people, err := e.people.FindByEmail(ctx, cand.InstitutionID, email)
		if err != nil {
			return nil, err
		}
		p.add(MethodEmailName, filterByName(people, cand))
	}

	if phone != "" {
		people, err := e.people.FindByPhone(ctx, cand.InstitutionID, phone)
		if err != nil {
			return nil, err
		}
		p.add(MethodPhoneName, filterByName(people, cand))
	}

	if cand.DateOfBirth != nil {
		people, err := e.people.FindByNameAndDOB(ctx, cand.InstitutionID, cand.FirstName, cand.LastName, *cand.DateOfBirth)
		if err != nil {
			return nil, err
		}
		p.add(MethodNameDOB, people)
	}

	return p, nil
}

func (e *Engine) mediumTier(ctx context.Context, cand Candidate, email, phone string) (*pool, error) {
	p := newPool()

	if email != "" {
		people, err := e.people.FindByEmail(ctx, cand.InstitutionID, email)
		if err != nil {
			return nil, err
		}
		p.add("email", people)
	}

	if phone != "" {
		people, err := e.people.FindByPhone(ctx, cand.InstitutionID, phone)
		if err != nil {
			return nil, err
		}
		p.add("phone", people)
	}

	return p, nil
}

// filterByName keeps people whose both name components match the candidate
// exactly, case-insensitively.
func filterByName(people []*models.Person, cand Candidate) []*models.Person {
	first := normalize.Name(cand.FirstName)
	last := normalize.Name(cand.LastName)
	var out []*models.Person
	for _, p := range people {
		if normalize.Name(p.FirstName) == first && normalize.Name(p.LastName) == last {
			out = append(out, p)
		}
	}
	return out
}
