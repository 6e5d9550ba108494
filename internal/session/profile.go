package session

import "fmt"

// Date scope values chosen by the user in their profile.
const (
	ScopeLocal  = "local"
	ScopeGlobal = "global"
)

// Profile is the matching profile presented by the client at connect time.
// Field names follow the JSON produced by the web client.
type Profile struct {
	Name             string   `json:"name"`
	Age              int      `json:"age"`
	Gender           string   `json:"gender"`
	DatingPreference string   `json:"datingPreference"`
	Interests        []string `json:"interests"`
	Region           string   `json:"region"`
	DateScope        string   `json:"dateScope"`
	PhotoVerified    bool     `json:"photo_verified"`
	PhotoURL         string   `json:"photoURL"`
}

// Validate checks that the fields required for matching are present. A
// profile failing validation terminates the connection attempt.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("session: profile missing name")
	}
	if p.Age <= 0 {
		return fmt.Errorf("session: profile missing age")
	}
	if p.Gender == "" {
		return fmt.Errorf("session: profile missing gender")
	}
	if len(p.Interests) == 0 {
		return fmt.Errorf("session: profile missing interests")
	}
	return nil
}

// Scope returns the profile's date scope, defaulting to global when unset.
func (p *Profile) Scope() string {
	if p.DateScope == ScopeLocal {
		return ScopeLocal
	}
	return ScopeGlobal
}
