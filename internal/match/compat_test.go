package match

import (
	"math"
	"reflect"
	"testing"

	"github.com/nikhil-thb/hushh-online/internal/session"
)

func profile(gender, pref string, interests ...string) session.Profile {
	return session.Profile{
		Name:             "test",
		Age:              25,
		Gender:           gender,
		DatingPreference: pref,
		Interests:        interests,
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		name string
		a    session.Profile
		b    session.Profile
		want bool
	}{
		{"straight male and straight female", profile("male", "straight"), profile("female", "straight"), true},
		{"straight male and straight male", profile("male", "straight"), profile("male", "straight"), false},
		{"straight female and straight female", profile("female", "straight"), profile("female", "straight"), false},
		{"bisexual accepts any gender", profile("male", "bisexual"), profile("male", "straight"), true},
		{"bisexual on either side", profile("female", "straight"), profile("female", "bisexual"), true},
		{"gay male and gay male", profile("male", "gay"), profile("male", "gay"), true},
		{"gay male and female", profile("male", "gay"), profile("female", "straight"), false},
		{"lesbian female and lesbian female", profile("female", "lesbian"), profile("female", "lesbian"), true},
		{"lesbian female and male", profile("female", "lesbian"), profile("male", "straight"), false},
		{"gay and lesbian never pair", profile("male", "gay"), profile("female", "lesbian"), false},
		{"case insensitive", profile("Male", "Straight"), profile("FEMALE", "STRAIGHT"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compatible(tt.a, tt.b); got != tt.want {
				t.Errorf("Compatible(%s/%s, %s/%s) = %v, want %v",
					tt.a.Gender, tt.a.DatingPreference, tt.b.Gender, tt.b.DatingPreference, got, tt.want)
			}
			// The relation is symmetric.
			if got := Compatible(tt.b, tt.a); got != tt.want {
				t.Errorf("Compatible is not symmetric for %s", tt.name)
			}
		})
	}
}

func TestLocallyCompatible(t *testing.T) {
	local := func(region string) session.Profile {
		p := profile("male", "bisexual")
		p.DateScope = session.ScopeLocal
		p.Region = region
		return p
	}
	global := profile("male", "bisexual")

	if !LocallyCompatible(global, local("jp")) {
		t.Error("global initiator should accept a local candidate")
	}
	if !LocallyCompatible(global, global) {
		t.Error("global initiator should accept a global candidate")
	}
	if !LocallyCompatible(local("jp"), local("jp")) {
		t.Error("local initiator should accept a local candidate in the same region")
	}
	if LocallyCompatible(local("jp"), local("de")) {
		t.Error("local initiator should reject a local candidate in another region")
	}
	if LocallyCompatible(local("jp"), global) {
		t.Error("local initiator should reject a global candidate")
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		a    []string
		b    []string
		want float64
	}{
		{"identical sets", []string{"music", "hiking"}, []string{"music", "hiking"}, 1.0},
		{"no overlap", []string{"music"}, []string{"hiking"}, 0},
		{"partial overlap", []string{"music", "hiking", "food"}, []string{"music", "travel"}, 0.25},
		{"empty a", nil, []string{"music"}, 0},
		{"empty b", []string{"music"}, nil, 0},
		{"duplicate tags counted once", []string{"music", "music"}, []string{"music"}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(profile("male", "bisexual", tt.a...), profile("female", "bisexual", tt.b...))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestScoreSymmetric(t *testing.T) {
	a := profile("male", "bisexual", "music", "hiking", "food")
	b := profile("female", "bisexual", "music", "travel")
	if Score(a, b) != Score(b, a) {
		t.Errorf("Score is not symmetric: %v vs %v", Score(a, b), Score(b, a))
	}
}

func TestSharedInterests(t *testing.T) {
	a := profile("male", "bisexual", "travel", "music", "hiking")
	b := profile("female", "bisexual", "music", "food", "travel")

	got := SharedInterests(a, b)
	want := []string{"music", "travel"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SharedInterests = %v, want %v", got, want)
	}

	if got := SharedInterests(a, profile("female", "bisexual")); len(got) != 0 {
		t.Errorf("expected empty intersection, got %v", got)
	}
}
