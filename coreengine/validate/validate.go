// Package validate holds the pure predicates that decide whether a collected
// onboarding value is acceptable. None of them log or return errors; a false
// result simply keeps the advance affordance disabled.
package validate

import (
	"net/url"
	"strings"
	"time"
	"unicode"
)

// OtherOption is the enumerated choice that requires companion free text.
const OtherOption = "Other"

// TimeLayout is the wall-clock format used for opening hours.
const TimeLayout = "15:04"

// NonEmpty reports whether v has content after trimming whitespace.
func NonEmpty(v string) bool {
	return strings.TrimSpace(v) != ""
}

// OneOf reports whether v is exactly one of options.
func OneOf(v string, options []string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// Choice validates an enumerated selection with an "Other" escape hatch.
// The rule is a conjunction: a listed option, and when that option is
// OtherOption, non-empty companion text.
func Choice(option, other string, options []string) bool {
	if !OneOf(option, options) {
		return false
	}
	if option == OtherOption {
		return NonEmpty(other)
	}
	return true
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		if r <= unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Phone reports whether v carries at least minDigits raw digits.
func Phone(v string, minDigits int) bool {
	return len(DigitsOnly(v)) >= minDigits
}

// TimeOfDay reports whether v parses as HH:MM.
func TimeOfDay(v string) bool {
	_, err := time.Parse(TimeLayout, v)
	return err == nil
}

// HoursOrdered reports whether openAt is strictly before closeAt.
// Both values must be valid HH:MM strings.
func HoursOrdered(openAt, closeAt string) bool {
	o, err := time.Parse(TimeLayout, openAt)
	if err != nil {
		return false
	}
	c, err := time.Parse(TimeLayout, closeAt)
	if err != nil {
		return false
	}
	return o.Before(c)
}

// ReviewLink reports whether v is an absolute http(s) URL with a host.
func ReviewLink(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	u, err := url.ParseRequestURI(v)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
