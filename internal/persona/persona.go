// Package persona models authored personas and the library that stores them.
package persona

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CommunicationStyle is the persona's conversational register.
type CommunicationStyle string

const (
	CommunicationBalanced   CommunicationStyle = "balanced"
	CommunicationFormal     CommunicationStyle = "formal"
	CommunicationCasual     CommunicationStyle = "casual"
	CommunicationDirect     CommunicationStyle = "direct"
	CommunicationEmpathetic CommunicationStyle = "empathetic"
	CommunicationHumorous   CommunicationStyle = "humorous"
)

// CommunicationStyles lists every accepted style, default first.
var CommunicationStyles = []CommunicationStyle{
	CommunicationBalanced,
	CommunicationFormal,
	CommunicationCasual,
	CommunicationDirect,
	CommunicationEmpathetic,
	CommunicationHumorous,
}

// Valid reports whether s is one of CommunicationStyles.
func (s CommunicationStyle) Valid() bool {
	for _, v := range CommunicationStyles {
		if s == v {
			return true
		}
	}
	return false
}

// SourceType classifies a data source tag.
type SourceType string

const (
	SourceSocial       SourceType = "social"
	SourceProfessional SourceType = "professional"
	SourceBehavioral   SourceType = "behavioral"
	SourceCustom       SourceType = "custom"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceSocial, SourceProfessional, SourceBehavioral, SourceCustom:
		return true
	}
	return false
}

// Validation errors.
var (
	ErrNameRequired         = errors.New("persona name is required")
	ErrInvalidCommunication = errors.New("unknown communication style")
	ErrInvalidSource        = errors.New("invalid data source")
)

// Traits are the structured personality attributes of a persona.
type Traits struct {
	Personality   []string           `json:"personality"`
	Interests     []string           `json:"interests"`
	Communication CommunicationStyle `json:"communication"`
	Values        []string           `json:"values"`
	Behaviors     []string           `json:"behaviors"`
	Strengths     []string           `json:"strengths"`
	Weaknesses    []string           `json:"weaknesses"`
}

// DataSource is a typed reference to material the persona was derived from.
type DataSource struct {
	ID          string     `json:"id,omitempty"`
	Type        SourceType `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	URL         string     `json:"url,omitempty"`
	File        string     `json:"file,omitempty"`
}

// Persona is an authored profile of a simulated individual.
type Persona struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Avatar       string       `json:"avatar"`
	Tagline      string       `json:"tagline"`
	Background   string       `json:"background"`
	Traits       Traits       `json:"traits"`
	DataSources  []DataSource `json:"dataSources"`
	GeminiAPIKey string       `json:"geminiApiKey,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// New returns an unsaved persona draft with default traits and the shared
// credential pre-filled.
func New(defaultAPIKey string, now time.Time) Persona {
	p := Persona{
		ID:           uuid.NewString(),
		GeminiAPIKey: defaultAPIKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	p.Normalize()
	return p
}

// Normalize trims free text, drops blank list entries and fills defaults so
// that no trait list is nil.
func (p *Persona) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Tagline = strings.TrimSpace(p.Tagline)
	p.GeminiAPIKey = strings.TrimSpace(p.GeminiAPIKey)

	t := &p.Traits
	t.Personality = cleanList(t.Personality)
	t.Interests = cleanList(t.Interests)
	t.Values = cleanList(t.Values)
	t.Behaviors = cleanList(t.Behaviors)
	t.Strengths = cleanList(t.Strengths)
	t.Weaknesses = cleanList(t.Weaknesses)
	if t.Communication == "" {
		t.Communication = CommunicationBalanced
	}
	if p.DataSources == nil {
		p.DataSources = []DataSource{}
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the fields a persona must have before it is stored.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameRequired
	}
	if p.Traits.Communication != "" && !p.Traits.Communication.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCommunication, p.Traits.Communication)
	}
	for i, ds := range p.DataSources {
		if !ds.Type.Valid() {
			return fmt.Errorf("%w: source %d has type %q", ErrInvalidSource, i, ds.Type)
		}
		if strings.TrimSpace(ds.Name) == "" {
			return fmt.Errorf("%w: source %d has no name", ErrInvalidSource, i)
		}
	}
	return nil
}

// HasCredential reports whether the persona can be used to generate replies.
func (p Persona) HasCredential() bool {
	return strings.TrimSpace(p.GeminiAPIKey) != ""
}

// Description renders the persona as the character brief handed to the model.
func (p Persona) Description() string {
	t := p.Traits
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s. ", p.Name, p.Tagline)
	fmt.Fprintf(&b, "Background: %s. ", p.Background)
	fmt.Fprintf(&b, "Personality: %s. ", strings.Join(t.Personality, ", "))
	fmt.Fprintf(&b, "Values: %s. ", strings.Join(t.Values, ", "))
	fmt.Fprintf(&b, "Communication style: %s. ", t.Communication)
	fmt.Fprintf(&b, "Interests: %s. ", strings.Join(t.Interests, ", "))
	fmt.Fprintf(&b, "Behaviors: %s. ", strings.Join(t.Behaviors, ", "))
	fmt.Fprintf(&b, "Strengths: %s. ", strings.Join(t.Strengths, ", "))
	fmt.Fprintf(&b, "Weaknesses: %s.", strings.Join(t.Weaknesses, ", "))
	return b.String()
}

// RandomAvatar returns a portrait placeholder URL for seed.
func RandomAvatar(seed int) string {
	return fmt.Sprintf("https://source.unsplash.com/300x300/?portrait,person&%d", seed)
}

// Matches reports whether query (case-insensitive) occurs in the name,
// tagline, personality traits or interests.
func (p Persona) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Tagline), q) {
		return true
	}
	for _, s := range p.Traits.Personality {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	for _, s := range p.Traits.Interests {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}
