package wizard

import (
	"errors"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/config"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/script"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/validate"
)

// ErrNotAdvanceable is returned by a collector commit whose draft does not
// satisfy the step's rule. The wizard turns it into a no-op.
var ErrNotAdvanceable = errors.New("draft does not satisfy the step rule")

// AffordanceKind names the input rendered for a step.
type AffordanceKind string

const (
	// AffordanceNone is shown while input is not ready.
	AffordanceNone AffordanceKind = "none"
	// AffordanceChoice is a set of buttons (goal).
	AffordanceChoice AffordanceKind = "choice"
	// AffordanceBranch is confirm/deny with an override field.
	AffordanceBranch AffordanceKind = "branch"
	// AffordanceSelect is a select with "Other" companion text.
	AffordanceSelect AffordanceKind = "select"
	// AffordanceHours is an open/close time picker.
	AffordanceHours AffordanceKind = "hours"
	// AffordanceDocument is a file picker with skip.
	AffordanceDocument AffordanceKind = "document"
	// AffordanceReview is a platform select plus link, with skip.
	AffordanceReview AffordanceKind = "review"
)

// Affordance describes the active input and its draft.
type Affordance struct {
	Kind AffordanceKind `json:"kind"`
	Step session.Step   `json:"step"`

	Options  []string `json:"options,omitempty"`
	Selected string   `json:"selected,omitempty"`
	Other    string   `json:"other,omitempty"`

	Phase          session.BranchMode `json:"phase,omitempty"`
	Existing       string             `json:"existing,omitempty"`
	CanUseExisting bool               `json:"can_use_existing,omitempty"`
	Prompt         string             `json:"prompt,omitempty"`
	Text           string             `json:"text,omitempty"`

	OpenTime  string `json:"open_time,omitempty"`
	CloseTime string `json:"close_time,omitempty"`

	DocumentName string `json:"document_name,omitempty"`
	ReviewLink   string `json:"review_link,omitempty"`

	Advanceable bool `json:"advanceable"`
	Skippable   bool `json:"skippable"`
}

// drafts are the local, unconfirmed values of each collector.
type drafts struct {
	goal       string
	industry   session.Choice
	openTime   string
	closeTime  string
	document   *session.Document
	review     session.Choice
	reviewLink string
}

// collector is the per-step input contract: render, validate, commit.
type collector interface {
	affordance(st *session.State, d *drafts) Affordance
	advanceable(st *session.State, d *drafts) bool
	// commit writes into st and returns the echo and exit path.
	commit(st *session.State, d *drafts) (string, script.Path, error)
}

func newCollectors(cfg *config.OnboardingConfig) map[session.Step]collector {
	return map[session.Step]collector{
		session.StepGoal: &goalCollector{options: cfg.GoalOptions},
		session.StepBusinessName: &branchCollector{
			step:     session.StepBusinessName,
			existing: func(st *session.State) string { return st.Prefill.BusinessName },
			branch:   func(st *session.State) *session.Branch { return &st.BusinessName },
			valid:    validate.NonEmpty,
		},
		session.StepIndustry: &selectCollector{options: cfg.IndustryOptions},
		session.StepPhone: &branchCollector{
			step:     session.StepPhone,
			existing: func(st *session.State) string { return st.Prefill.ServicePhone },
			branch:   func(st *session.State) *session.Branch { return &st.Phone },
			valid:    func(v string) bool { return validate.Phone(v, cfg.MinPhoneDigits) },
		},
		session.StepHours:      &hoursCollector{enforceOrder: cfg.EnforceHoursOrder},
		session.StepDocument:   &documentCollector{maxBytes: cfg.MaxDocumentBytes},
		session.StepReviewLink: &reviewCollector{options: cfg.ReviewPlatformOptions},
	}
}

// =============================================================================
// GOAL
// =============================================================================

type goalCollector struct {
	options []string
}

func (c *goalCollector) affordance(st *session.State, d *drafts) Affordance {
	return Affordance{
		Kind:        AffordanceChoice,
		Options:     c.options,
		Selected:    d.goal,
		Advanceable: c.advanceable(st, d),
	}
}

func (c *goalCollector) advanceable(_ *session.State, d *drafts) bool {
	return validate.OneOf(d.goal, c.options)
}

func (c *goalCollector) commit(st *session.State, d *drafts) (string, script.Path, error) {
	if !c.advanceable(st, d) {
		return "", "", ErrNotAdvanceable
	}
	st.Goal = d.goal
	return d.goal, script.PathCommit, nil
}

// =============================================================================
// BRANCH (business name, phone)
// =============================================================================

type branchCollector struct {
	step     session.Step
	existing func(*session.State) string
	branch   func(*session.State) *session.Branch
	valid    func(string) bool
}

func (c *branchCollector) affordance(st *session.State, d *drafts) Affordance {
	b := c.branch(st)
	existing := c.existing(st)
	return Affordance{
		Kind:           AffordanceBranch,
		Phase:          b.Mode(),
		Existing:       existing,
		CanUseExisting: b.Mode() == session.BranchUnset && validate.NonEmpty(existing),
		Prompt:         script.OverridePrompt(c.step),
		Text:           b.Draft(),
		Advanceable:    c.advanceable(st, d),
	}
}

// advanceable covers Phase B only; Phase A leaves through useExisting.
func (c *branchCollector) advanceable(st *session.State, _ *drafts) bool {
	b := c.branch(st)
	return b.Mode() == session.BranchOverride && c.valid(b.Draft())
}

func (c *branchCollector) commit(st *session.State, d *drafts) (string, script.Path, error) {
	if !c.advanceable(st, d) {
		return "", "", ErrNotAdvanceable
	}
	return c.branch(st).Resolve(c.existing(st)), script.PathOverride, nil
}

func (c *branchCollector) useExisting(st *session.State) (string, script.Path, error) {
	existing := c.existing(st)
	if !validate.NonEmpty(existing) {
		return "", "", ErrNotAdvanceable
	}
	if err := c.branch(st).UseExisting(); err != nil {
		return "", "", err
	}
	return script.EchoUseExisting(c.step, existing), script.PathUseExisting, nil
}

// =============================================================================
// INDUSTRY
// =============================================================================

type selectCollector struct {
	options []string
}

func (c *selectCollector) affordance(st *session.State, d *drafts) Affordance {
	return Affordance{
		Kind:        AffordanceSelect,
		Options:     c.options,
		Selected:    d.industry.Option,
		Other:       d.industry.Other,
		Advanceable: c.advanceable(st, d),
	}
}

func (c *selectCollector) advanceable(_ *session.State, d *drafts) bool {
	return validate.Choice(d.industry.Option, d.industry.Other, c.options)
}

func (c *selectCollector) commit(st *session.State, d *drafts) (string, script.Path, error) {
	if !c.advanceable(st, d) {
		return "", "", ErrNotAdvanceable
	}
	st.Industry = d.industry
	return st.Industry.Resolve(), script.PathCommit, nil
}

// =============================================================================
// HOURS
// =============================================================================

type hoursCollector struct {
	enforceOrder bool
}

func (c *hoursCollector) affordance(st *session.State, d *drafts) Affordance {
	return Affordance{
		Kind:        AffordanceHours,
		OpenTime:    d.openTime,
		CloseTime:   d.closeTime,
		Advanceable: c.advanceable(st, d),
	}
}

func (c *hoursCollector) advanceable(_ *session.State, d *drafts) bool {
	if !validate.TimeOfDay(d.openTime) || !validate.TimeOfDay(d.closeTime) {
		return false
	}
	return !c.enforceOrder || validate.HoursOrdered(d.openTime, d.closeTime)
}

func (c *hoursCollector) commit(st *session.State, d *drafts) (string, script.Path, error) {
	if !c.advanceable(st, d) {
		return "", "", ErrNotAdvanceable
	}
	st.OpenTime, st.CloseTime = d.openTime, d.closeTime
	return script.EchoHours(d.openTime, d.closeTime), script.PathCommit, nil
}

// =============================================================================
// DOCUMENT
// =============================================================================

type documentCollector struct {
	maxBytes int
}

func (c *documentCollector) affordance(st *session.State, d *drafts) Affordance {
	a := Affordance{
		Kind:        AffordanceDocument,
		Advanceable: c.advanceable(st, d),
		Skippable:   true,
	}
	if d.document != nil {
		a.DocumentName = d.document.Name
	}
	return a
}

func (c *documentCollector) advanceable(_ *session.State, d *drafts) bool {
	return d.document != nil &&
		validate.NonEmpty(d.document.Name) &&
		len(d.document.Data) > 0 &&
		len(d.document.Data) <= c.maxBytes
}

func (c *documentCollector) commit(st *session.State, d *drafts) (string, script.Path, error) {
	if !c.advanceable(st, d) {
		return "", "", ErrNotAdvanceable
	}
	st.Document = d.document
	return script.EchoDocument(d.document.Name), script.PathCommit, nil
}

// =============================================================================
// REVIEW LINK
// =============================================================================

type reviewCollector struct {
	options []string
}

func (c *reviewCollector) affordance(st *session.State, d *drafts) Affordance {
	return Affordance{
		Kind:        AffordanceReview,
		Options:     c.options,
		Selected:    d.review.Option,
		Other:       d.review.Other,
		ReviewLink:  d.reviewLink,
		Advanceable: c.advanceable(st, d),
		Skippable:   true,
	}
}

func (c *reviewCollector) advanceable(_ *session.State, d *drafts) bool {
	return validate.Choice(d.review.Option, d.review.Other, c.options) && validate.ReviewLink(d.reviewLink)
}

func (c *reviewCollector) commit(st *session.State, d *drafts) (string, script.Path, error) {
	if !c.advanceable(st, d) {
		return "", "", ErrNotAdvanceable
	}
	link := d.reviewLink
	st.ReviewPlatform = d.review
	st.ReviewLink = &link
	return script.EchoReview(st.ReviewPlatform.Resolve(), link), script.PathCommit, nil
}
