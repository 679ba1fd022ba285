package domain

import (
	"fmt"
	"strings"
	"time"
)

// BlockEntry is a single blocked domain pattern. A pattern covers the
// domain itself and every subdomain of it; there is no wildcard syntax.
//
// Notes:
// - Pattern is lowercase ASCII without a trailing dot (normalization handled by the parser).
// - Source identifies where the entry came from (file path or object URL).
// - AddedAt records when the entry was ingested.
type BlockEntry struct {
	Pattern string    // e.g. "example.com"
	Source  string    // list identifier
	AddedAt time.Time // ingestion timestamp
}

// NewBlockEntry constructs a BlockEntry and validates its fields.
func NewBlockEntry(pattern, source string, addedAt time.Time) (BlockEntry, error) {
	e := BlockEntry{
		Pattern: strings.TrimSpace(pattern),
		Source:  strings.TrimSpace(source),
		AddedAt: addedAt,
	}
	if err := e.Validate(); err != nil {
		return BlockEntry{}, err
	}
	return e, nil
}

// Validate checks the BlockEntry invariants.
func (e BlockEntry) Validate() error {
	if e.Pattern == "" {
		return fmt.Errorf("entry pattern must not be empty")
	}
	if strings.HasPrefix(e.Pattern, "#") {
		return fmt.Errorf("entry pattern must not start with a comment marker: %q", e.Pattern)
	}
	if e.Pattern != strings.ToLower(e.Pattern) {
		return fmt.Errorf("entry pattern must be lowercase: %q", e.Pattern)
	}
	if strings.ContainsAny(e.Pattern, " \t\r\n") {
		return fmt.Errorf("entry pattern must not contain whitespace: %q", e.Pattern)
	}
	for _, label := range strings.Split(e.Pattern, ".") {
		if label == "" {
			return fmt.Errorf("entry pattern has an empty label: %q", e.Pattern)
		}
	}
	if e.Source == "" {
		return fmt.Errorf("entry source must not be empty")
	}
	if e.AddedAt.IsZero() {
		return fmt.Errorf("entry addedAt must be set")
	}
	return nil
}
