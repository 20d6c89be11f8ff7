package session

import (
	"errors"
	"strings"
)

// BranchMode is the discriminant of a Branch.
type BranchMode string

const (
	// BranchUnset means no choice has been made yet (Phase A).
	BranchUnset BranchMode = "unset"
	// BranchUseExisting keeps the prefilled value.
	BranchUseExisting BranchMode = "use_existing"
	// BranchOverride replaces the prefilled value with a draft (Phase B).
	BranchOverride BranchMode = "override"
)

// ErrBranchLocked is returned when a transition out of a chosen branch is attempted.
var ErrBranchLocked = errors.New("branch choice is locked")

// Branch is the confirm-or-override choice for a prefilled field.
//
// Allowed transitions: Unset -> UseExisting, Unset -> Override,
// Override -> Override (draft edits). Everything else is rejected.
type Branch struct {
	mode  BranchMode
	draft string
}

// Mode returns the current discriminant.
func (b Branch) Mode() BranchMode {
	if b.mode == "" {
		return BranchUnset
	}
	return b.mode
}

// Draft returns the override draft. Empty unless Mode is BranchOverride.
func (b Branch) Draft() string { return b.draft }

// UseExisting selects the prefilled value.
func (b *Branch) UseExisting() error {
	if b.Mode() != BranchUnset {
		return ErrBranchLocked
	}
	b.mode = BranchUseExisting
	return nil
}

// Override enters Phase B. Choosing override again keeps the current draft.
func (b *Branch) Override() error {
	switch b.Mode() {
	case BranchUnset:
		b.mode = BranchOverride
		return nil
	case BranchOverride:
		return nil
	default:
		return ErrBranchLocked
	}
}

// Edit replaces the override draft.
func (b *Branch) Edit(draft string) error {
	if b.Mode() != BranchOverride {
		return ErrBranchLocked
	}
	b.draft = draft
	return nil
}

// Resolve returns the effective value given the prefilled one.
func (b Branch) Resolve(existing string) string {
	if b.Mode() == BranchOverride {
		return strings.TrimSpace(b.draft)
	}
	return existing
}

// Choice is an enumerated selection with companion text for "Other".
type Choice struct {
	Option string `json:"option"`
	Other  string `json:"other,omitempty"`
}

// IsOther reports whether the Other option is selected.
func (c Choice) IsOther() bool { return c.Option == OtherOption }

// Resolve returns the companion text for Other, the option otherwise.
func (c Choice) Resolve() string {
	if c.IsOther() {
		return strings.TrimSpace(c.Other)
	}
	return c.Option
}

// OtherOption is the enumerated value that needs companion text.
const OtherOption = "Other"
