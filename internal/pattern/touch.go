package pattern

import (
	"fmt"
	"sort"
	"strings"
)

// Touch is a fixed topical tag describing what an issue or pattern concerns.
// The vocabulary is closed; anything outside it is rejected at the boundary.
type Touch string

const (
	TouchDatabase  Touch = "database"
	TouchAuth      Touch = "auth"
	TouchAuthz     Touch = "authz"
	TouchNetwork   Touch = "network"
	TouchCaching   Touch = "caching"
	TouchUserInput Touch = "user_input"
	TouchLogging   Touch = "logging"
	TouchSchema    Touch = "schema"
	TouchAPI       Touch = "api"
	TouchConfig    Touch = "config"
)

// ValidTouches contains the full fixed touch vocabulary.
var ValidTouches = map[Touch]bool{
	TouchDatabase:  true,
	TouchAuth:      true,
	TouchAuthz:     true,
	TouchNetwork:   true,
	TouchCaching:   true,
	TouchUserInput: true,
	TouchLogging:   true,
	TouchSchema:    true,
	TouchAPI:       true,
	TouchConfig:    true,
}

// IsValid returns true if the touch is part of the fixed vocabulary.
func (t Touch) IsValid() bool {
	return ValidTouches[t]
}

// TouchSet is a deduplicated, sorted set of touches. The sorted form keeps
// JSON serialization deterministic across writes.
type TouchSet []Touch

// NewTouchSet builds a TouchSet from raw strings, normalizing case and
// rejecting anything outside the fixed vocabulary.
func NewTouchSet(raw []string) (TouchSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	seen := make(map[Touch]bool, len(raw))
	out := make(TouchSet, 0, len(raw))
	for _, r := range raw {
		t := Touch(strings.ToLower(strings.TrimSpace(r)))
		if t == "" {
			continue
		}
		if !t.IsValid() {
			return nil, fmt.Errorf("unknown touch %q", r)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Contains reports whether the set includes t.
func (s TouchSet) Contains(t Touch) bool {
	for _, x := range s {
		if x == t {
			return true
		}
	}
	return false
}

// Overlaps reports whether the two sets share at least one touch.
func (s TouchSet) Overlaps(other TouchSet) bool {
	for _, t := range s {
		if other.Contains(t) {
			return true
		}
	}
	return false
}

// Missing returns the touches in s absent from other, in sorted order.
func (s TouchSet) Missing(other TouchSet) TouchSet {
	var out TouchSet
	for _, t := range s {
		if !other.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

// Strings converts the set to a plain string slice.
func (s TouchSet) Strings() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = string(t)
	}
	return out
}

// TagSet is a deduplicated, sorted set of open-vocabulary tags (technologies,
// task types). Tags are normalized to lowercase.
type TagSet []string

const maxTagLen = 64

// NewTagSet builds a TagSet from raw strings. Empty entries are dropped;
// oversized entries are rejected.
func NewTagSet(raw []string) (TagSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(raw))
	out := make(TagSet, 0, len(raw))
	for _, r := range raw {
		tag := strings.ToLower(strings.TrimSpace(r))
		if tag == "" {
			continue
		}
		if len(tag) > maxTagLen {
			return nil, fmt.Errorf("tag %q exceeds %d characters", r, maxTagLen)
		}
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	sort.Strings(out)
	return out, nil
}

// Contains reports whether the set includes tag (case-insensitive).
func (s TagSet) Contains(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, x := range s {
		if x == tag {
			return true
		}
	}
	return false
}

// Overlaps reports whether the two sets share at least one tag.
func (s TagSet) Overlaps(other TagSet) bool {
	for _, t := range s {
		if other.Contains(t) {
			return true
		}
	}
	return false
}

// Missing returns the tags in s absent from other, in sorted order.
func (s TagSet) Missing(other TagSet) TagSet {
	var out TagSet
	for _, t := range s {
		if !other.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}
