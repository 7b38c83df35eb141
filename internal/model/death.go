package model

import "time"

// FieldKey identifies one enrichable death-detail field.
type FieldKey string

const (
	FieldCircumstances        FieldKey = "circumstances"
	FieldRumoredCircumstances FieldKey = "rumored_circumstances"
	FieldNotableFactors       FieldKey = "notable_factors"
	FieldLocation             FieldKey = "location"
	FieldAdditionalContext    FieldKey = "additional_context"
	FieldLastProject          FieldKey = "last_project"
	FieldCareerStatus         FieldKey = "career_status"
	FieldPosthumousReleases   FieldKey = "posthumous_releases"
	FieldRelatedDeaths        FieldKey = "related_deaths"
)

// MaxNotableFactors caps the notable_factors list after cross-source union.
const MaxNotableFactors = 10

// AllFieldKeys returns every field key in canonical order.
func AllFieldKeys() []FieldKey {
	return []FieldKey{
		FieldCircumstances,
		FieldRumoredCircumstances,
		FieldNotableFactors,
		FieldLocation,
		FieldAdditionalContext,
		FieldLastProject,
		FieldCareerStatus,
		FieldPosthumousReleases,
		FieldRelatedDeaths,
	}
}

// SourceTier classifies how authoritative a source category is.
type SourceTier int

const (
	TierUnknown SourceTier = iota
	TierPrimaryRecord
	TierSecondaryCompilation
	TierWebText
)

func (t SourceTier) String() string {
	switch t {
	case TierPrimaryRecord:
		return "primary_record"
	case TierSecondaryCompilation:
		return "secondary_compilation"
	case TierWebText:
		return "web_text"
	default:
		return "unknown"
	}
}

// DeathDetails is a partial set of death-detail fields. Empty string means
// the source had nothing for that field; a nil or empty NotableFactors
// likewise means absent.
type DeathDetails struct {
	Circumstances        string   `json:"circumstances,omitempty"`
	RumoredCircumstances string   `json:"rumored_circumstances,omitempty"`
	NotableFactors       []string `json:"notable_factors,omitempty"`
	Location             string   `json:"location,omitempty"`
	AdditionalContext    string   `json:"additional_context,omitempty"`
	LastProject          string   `json:"last_project,omitempty"`
	CareerStatus         string   `json:"career_status,omitempty"`
	PosthumousReleases   string   `json:"posthumous_releases,omitempty"`
	RelatedDeaths        string   `json:"related_deaths,omitempty"`
}

// IsEmpty reports whether no field carries a value.
func (d *DeathDetails) IsEmpty() bool {
	if d == nil {
		return true
	}
	return d.Circumstances == "" &&
		d.RumoredCircumstances == "" &&
		len(d.NotableFactors) == 0 &&
		d.Location == "" &&
		d.AdditionalContext == "" &&
		d.LastProject == "" &&
		d.CareerStatus == "" &&
		d.PosthumousReleases == "" &&
		d.RelatedDeaths == ""
}

// FilledCount returns how many of the nine fields carry a value.
func (d *DeathDetails) FilledCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, s := range []string{
		d.Circumstances, d.RumoredCircumstances, d.Location,
		d.AdditionalContext, d.LastProject, d.CareerStatus,
		d.PosthumousReleases, d.RelatedDeaths,
	} {
		if s != "" {
			n++
		}
	}
	if len(d.NotableFactors) > 0 {
		n++
	}
	return n
}

// SourceEntry records where a value came from and what retrieving it cost.
type SourceEntry struct {
	Name        string     `json:"name"`
	URL         string     `json:"url,omitempty"`
	Query       string     `json:"query,omitempty"`
	RetrievedAt time.Time  `json:"retrieved_at"`
	Confidence  float64    `json:"confidence"`
	Tier        SourceTier `json:"tier"`
	Reliability float64    `json:"reliability"`
	CostUSD     float64    `json:"cost_usd,omitempty"`
}

// AdditionalResult is a secondary answer a source surfaced alongside its
// primary one (a second search hit, an alternate account).
type AdditionalResult struct {
	Details *DeathDetails `json:"details"`
	Source  SourceEntry   `json:"source"`
}

// LookupResult is one source's answer for one actor. Found=false with a nil
// error means the source responded but knows nothing about the person.
type LookupResult struct {
	Found      bool               `json:"found"`
	Details    *DeathDetails      `json:"details,omitempty"`
	Source     SourceEntry        `json:"source"`
	Excerpt    string             `json:"excerpt,omitempty"`
	Citations  []string           `json:"citations,omitempty"`
	Additional []AdditionalResult `json:"additional,omitempty"`
}

// DeathRecord is the accumulated, merged answer for one actor, with
// per-field provenance.
type DeathRecord struct {
	PersonID     int64                    `json:"person_id"`
	Details      DeathDetails             `json:"details"`
	FieldSources map[FieldKey]SourceEntry `json:"field_sources,omitempty"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// NewDeathRecord returns an empty record for the given person.
func NewDeathRecord(personID int64) *DeathRecord {
	return &DeathRecord{
		PersonID:     personID,
		FieldSources: make(map[FieldKey]SourceEntry),
	}
}

// Filled reports whether the given field already has a value.
func (r *DeathRecord) Filled(key FieldKey) bool {
	_, ok := r.FieldSources[key]
	return ok
}

// FilledCount returns how many fields have been merged in.
func (r *DeathRecord) FilledCount() int {
	return r.Details.FilledCount()
}

// ResolvedSource is a citation URL chased through its redirect chain to the
// publishing site.
type ResolvedSource struct {
	URL       string `json:"url"`
	Publisher string `json:"publisher,omitempty"`
}

// RawExcerpt is a source's narrative text kept for the synthesis pass.
type RawExcerpt struct {
	SourceName      string           `json:"source_name"`
	Text            string           `json:"text"`
	URL             string           `json:"url,omitempty"`
	Confidence      float64          `json:"confidence"`
	Tier            SourceTier       `json:"tier"`
	Reliability     float64          `json:"reliability"`
	CitationURLs    []string         `json:"citation_urls,omitempty"`
	ResolvedSources []ResolvedSource `json:"resolved_sources,omitempty"`
}
