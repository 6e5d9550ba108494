// Package match implements the pairing core: the compatibility matcher, the
// waiting queue with its best-candidate search, the room lifecycle with its
// two-party decision state machine, and the signaling relay between the two
// occupants of a room.
package match

import (
	"sort"
	"strings"

	"github.com/nikhil-thb/hushh-online/internal/session"
)

// Compatible reports whether two profiles may be paired based on gender and
// dating preference. Each side's preference is checked independently against
// the other party; a bisexual preference on either side accepts any gender.
func Compatible(a, b session.Profile) bool {
	aGender := strings.ToLower(a.Gender)
	aPref := strings.ToLower(a.DatingPreference)
	bGender := strings.ToLower(b.Gender)
	bPref := strings.ToLower(b.DatingPreference)

	if aPref == "bisexual" || bPref == "bisexual" {
		return true
	}

	// Straight: male wants female, female wants male.
	if aPref == "straight" {
		if aGender == "male" && bGender != "female" {
			return false
		}
		if aGender == "female" && bGender != "male" {
			return false
		}
	}
	if bPref == "straight" {
		if bGender == "male" && aGender != "female" {
			return false
		}
		if bGender == "female" && aGender != "male" {
			return false
		}
	}

	// Gay: both parties male.
	if aPref == "gay" && (aGender != "male" || bGender != "male") {
		return false
	}
	if bPref == "gay" && (bGender != "male" || aGender != "male") {
		return false
	}

	// Lesbian: both parties female.
	if aPref == "lesbian" && (aGender != "female" || bGender != "female") {
		return false
	}
	if bPref == "lesbian" && (bGender != "female" || aGender != "female") {
		return false
	}

	return true
}

// LocallyCompatible reports whether a candidate satisfies the initiator's
// date scope. A "local" initiator only accepts candidates who are themselves
// local and in the identical region; a "global" initiator accepts anyone.
func LocallyCompatible(initiator, candidate session.Profile) bool {
	if initiator.Scope() != session.ScopeLocal {
		return true
	}
	return candidate.Scope() == session.ScopeLocal && candidate.Region == initiator.Region
}

// Score returns the Jaccard similarity of the two interest sets, in [0, 1].
// It returns 0 when either set is empty.
func Score(a, b session.Profile) float64 {
	if len(a.Interests) == 0 || len(b.Interests) == 0 {
		return 0
	}

	set := make(map[string]bool, len(a.Interests))
	for _, tag := range a.Interests {
		set[tag] = true
	}

	union := len(set)
	intersection := 0
	seen := make(map[string]bool, len(b.Interests))
	for _, tag := range b.Interests {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		if set[tag] {
			intersection++
		} else {
			union++
		}
	}

	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// SharedInterests returns the sorted intersection of the two interest sets.
func SharedInterests(a, b session.Profile) []string {
	set := make(map[string]bool, len(a.Interests))
	for _, tag := range a.Interests {
		set[tag] = true
	}

	shared := make([]string, 0)
	seen := make(map[string]bool, len(b.Interests))
	for _, tag := range b.Interests {
		if set[tag] && !seen[tag] {
			seen[tag] = true
			shared = append(shared, tag)
		}
	}
	sort.Strings(shared)
	return shared
}
