package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/validate"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/wizard"
)

// SkipCommand skips the current step where allowed.
const SkipCommand = "/skip"

var (
	// ErrNotReady is returned while the agent is still typing.
	ErrNotReady = errors.New("the assistant is still typing")
	// ErrUnrecognized is returned for lines that map to no action.
	ErrUnrecognized = errors.New("input not understood")
)

// ReadFileFunc loads a document from a path typed by the user.
type ReadFileFunc func(path string) ([]byte, error)

// ParseInput turns one typed line into the actions for the active affordance.
//
//	choice    "2" or the option text
//	branch    "y" keeps the existing value, "n" asks for a new one, any
//	          other text is the new value
//	select    "3" or "6 Bakery" for Other
//	hours     "09:00-17:30", empty keeps the shown hours
//	document  a file path, or /skip
//	review    "1 https://..." or "5 Trustpilot https://...", or /skip
func ParseInput(a wizard.Affordance, line string, readFile ReadFileFunc) ([]wizard.Action, error) {
	line = strings.TrimSpace(line)
	if a.Kind == wizard.AffordanceNone {
		return nil, ErrNotReady
	}
	if strings.EqualFold(line, SkipCommand) {
		if !a.Skippable {
			return nil, fmt.Errorf("%w: this step cannot be skipped", ErrUnrecognized)
		}
		return []wizard.Action{{Kind: wizard.ActionSkip}}, nil
	}

	switch a.Kind {
	case wizard.AffordanceChoice:
		opt, rest, err := pickOption(a.Options, line)
		if err != nil {
			return nil, err
		}
		if rest != "" {
			return nil, fmt.Errorf("%w: pick one option", ErrUnrecognized)
		}
		return []wizard.Action{{Kind: wizard.ActionSelectOption, Value: opt}}, nil

	case wizard.AffordanceBranch:
		return branchActions(a, line)

	case wizard.AffordanceSelect:
		opt, rest, err := pickOption(a.Options, line)
		if err != nil {
			return nil, err
		}
		acts := []wizard.Action{{Kind: wizard.ActionUpdateDraft, Field: wizard.FieldOption, Value: opt}}
		if opt == validate.OtherOption {
			if rest == "" {
				return nil, fmt.Errorf("%w: describe it after the number", ErrUnrecognized)
			}
			acts = append(acts, wizard.Action{Kind: wizard.ActionUpdateDraft, Field: wizard.FieldOther, Value: rest})
		}
		return append(acts, wizard.Action{Kind: wizard.ActionConfirm}), nil

	case wizard.AffordanceHours:
		var acts []wizard.Action
		if line != "" {
			opens, closes, ok := strings.Cut(line, "-")
			if !ok {
				return nil, fmt.Errorf("%w: use HH:MM-HH:MM", ErrUnrecognized)
			}
			acts = append(acts,
				wizard.Action{Kind: wizard.ActionUpdateDraft, Field: wizard.FieldOpenTime, Value: strings.TrimSpace(opens)},
				wizard.Action{Kind: wizard.ActionUpdateDraft, Field: wizard.FieldCloseTime, Value: strings.TrimSpace(closes)},
			)
		}
		return append(acts, wizard.Action{Kind: wizard.ActionConfirm}), nil

	case wizard.AffordanceDocument:
		if line == "" {
			return nil, fmt.Errorf("%w: type a file path or %s", ErrUnrecognized, SkipCommand)
		}
		data, err := readFile(line)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", line, err)
		}
		return []wizard.Action{
			{Kind: wizard.ActionAttachDocument, DocumentName: filepath.Base(line), DocumentData: data},
			{Kind: wizard.ActionConfirm},
		}, nil

	case wizard.AffordanceReview:
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: type the platform number and the link", ErrUnrecognized)
		}
		opt, _, err := pickOption(a.Options, fields[0])
		if err != nil {
			return nil, err
		}
		acts := []wizard.Action{{Kind: wizard.ActionUpdateDraft, Field: wizard.FieldOption, Value: opt}}
		if opt == validate.OtherOption {
			other := strings.Join(fields[1:len(fields)-1], " ")
			if other == "" {
				return nil, fmt.Errorf("%w: name the platform before the link", ErrUnrecognized)
			}
			acts = append(acts, wizard.Action{Kind: wizard.ActionUpdateDraft, Field: wizard.FieldOther, Value: other})
		}
		return append(acts,
			wizard.Action{Kind: wizard.ActionUpdateDraft, Field: wizard.FieldReviewLink, Value: fields[len(fields)-1]},
			wizard.Action{Kind: wizard.ActionConfirm},
		), nil
	}
	return nil, fmt.Errorf("%w: unknown affordance %q", ErrUnrecognized, a.Kind)
}

func branchActions(a wizard.Affordance, line string) ([]wizard.Action, error) {
	answer := strings.ToLower(line)
	if a.Phase == session.BranchUnset {
		switch answer {
		case "", "y", "yes":
			if !a.CanUseExisting {
				return nil, fmt.Errorf("%w: there is nothing on file, type the value", ErrUnrecognized)
			}
			return []wizard.Action{{Kind: wizard.ActionUseExisting}}, nil
		case "n", "no":
			return []wizard.Action{{Kind: wizard.ActionOverride}}, nil
		}
		return []wizard.Action{
			{Kind: wizard.ActionOverride},
			{Kind: wizard.ActionUpdateDraft, Field: wizard.FieldOverride, Value: line},
			{Kind: wizard.ActionConfirm},
		}, nil
	}
	if line == "" {
		return nil, fmt.Errorf("%w: type the new value", ErrUnrecognized)
	}
	return []wizard.Action{
		{Kind: wizard.ActionUpdateDraft, Field: wizard.FieldOverride, Value: line},
		{Kind: wizard.ActionConfirm},
	}, nil
}

// pickOption resolves a 1-based index or a case-insensitive option name.
// rest is whatever followed the index.
func pickOption(options []string, line string) (option, rest string, err error) {
	if line == "" {
		return "", "", fmt.Errorf("%w: pick an option", ErrUnrecognized)
	}
	head, tail, _ := strings.Cut(line, " ")
	if n, convErr := strconv.Atoi(head); convErr == nil {
		if n < 1 || n > len(options) {
			return "", "", fmt.Errorf("%w: choose 1-%d", ErrUnrecognized, len(options))
		}
		return options[n-1], strings.TrimSpace(tail), nil
	}
	for _, o := range options {
		if strings.EqualFold(o, line) {
			return o, "", nil
		}
	}
	return "", "", fmt.Errorf("%w: %q is not an option", ErrUnrecognized, line)
}
