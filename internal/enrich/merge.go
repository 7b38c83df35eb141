// Package enrich implements the enrichment engine: a cascading lookup
// over prioritized sources with first-wins merging, cost ledgers, rate
// gating, source-exhaustion tracking, an optional synthesis pass, and a
// checkpointed batch runner.
package enrich

import (
	"strings"

	"github.com/deadonfilm/enrichment-cli/internal/match"
	"github.com/deadonfilm/enrichment-cli/internal/model"
)

// scalarField pairs a field key with its accessors so the merge rules
// stay in one loop instead of nine copies.
type scalarField struct {
	key model.FieldKey
	get func(*model.DeathDetails) string
	set func(*model.DeathDetails, string)
}

var scalarFields = []scalarField{
	{model.FieldCircumstances,
		func(d *model.DeathDetails) string { return d.Circumstances },
		func(d *model.DeathDetails, v string) { d.Circumstances = v }},
	{model.FieldRumoredCircumstances,
		func(d *model.DeathDetails) string { return d.RumoredCircumstances },
		func(d *model.DeathDetails, v string) { d.RumoredCircumstances = v }},
	{model.FieldLocation,
		func(d *model.DeathDetails) string { return d.Location },
		func(d *model.DeathDetails, v string) { d.Location = v }},
	{model.FieldAdditionalContext,
		func(d *model.DeathDetails) string { return d.AdditionalContext },
		func(d *model.DeathDetails, v string) { d.AdditionalContext = v }},
	{model.FieldLastProject,
		func(d *model.DeathDetails) string { return d.LastProject },
		func(d *model.DeathDetails, v string) { d.LastProject = v }},
	{model.FieldCareerStatus,
		func(d *model.DeathDetails) string { return d.CareerStatus },
		func(d *model.DeathDetails, v string) { d.CareerStatus = v }},
	{model.FieldPosthumousReleases,
		func(d *model.DeathDetails) string { return d.PosthumousReleases },
		func(d *model.DeathDetails, v string) { d.PosthumousReleases = v }},
	{model.FieldRelatedDeaths,
		func(d *model.DeathDetails) string { return d.RelatedDeaths },
		func(d *model.DeathDetails, v string) { d.RelatedDeaths = v }},
}

// Merge folds one source's partial details into the record, strictly
// first-wins: a field already attributed to a source is never touched
// again, and an empty value (or empty list) counts as absent. Pure,
// no I/O, deterministic in call order.
func Merge(rec *model.DeathRecord, details *model.DeathDetails, src model.SourceEntry) {
	if rec == nil || details == nil {
		return
	}
	for _, f := range scalarFields {
		if rec.Filled(f.key) {
			continue
		}
		v := strings.TrimSpace(f.get(details))
		if v == "" {
			continue
		}
		f.set(&rec.Details, v)
		rec.FieldSources[f.key] = src
	}
	if !rec.Filled(model.FieldNotableFactors) && len(details.NotableFactors) > 0 {
		factors := unionFactors(nil, details.NotableFactors)
		if len(factors) > 0 {
			rec.Details.NotableFactors = factors
			rec.FieldSources[model.FieldNotableFactors] = src
		}
	}
}

// MergeAdditional folds a secondary answer in. Scalars follow the same
// first-wins rule as Merge; notable factors are the exception: they union
// across results, deduplicated case- and diacritic-insensitively, capped
// at MaxNotableFactors.
func MergeAdditional(rec *model.DeathRecord, details *model.DeathDetails, src model.SourceEntry) {
	if rec == nil || details == nil {
		return
	}
	for _, f := range scalarFields {
		if rec.Filled(f.key) {
			continue
		}
		v := strings.TrimSpace(f.get(details))
		if v == "" {
			continue
		}
		f.set(&rec.Details, v)
		rec.FieldSources[f.key] = src
	}
	if len(details.NotableFactors) == 0 {
		return
	}
	merged := unionFactors(rec.Details.NotableFactors, details.NotableFactors)
	if len(merged) == 0 {
		return
	}
	rec.Details.NotableFactors = merged
	if !rec.Filled(model.FieldNotableFactors) {
		rec.FieldSources[model.FieldNotableFactors] = src
	}
}

// ApplySynthesis overwrites the record with the synthesis stage's cleaned
// answer. This is the one writer allowed to replace fields the cascade
// already filled; empty synthesis fields leave the cascade's values alone.
func ApplySynthesis(rec *model.DeathRecord, cleaned *model.DeathDetails, src model.SourceEntry) {
	if rec == nil || cleaned == nil {
		return
	}
	for _, f := range scalarFields {
		v := strings.TrimSpace(f.get(cleaned))
		if v == "" {
			continue
		}
		f.set(&rec.Details, v)
		rec.FieldSources[f.key] = src
	}
	if len(cleaned.NotableFactors) > 0 {
		factors := unionFactors(nil, cleaned.NotableFactors)
		if len(factors) > 0 {
			rec.Details.NotableFactors = factors
			rec.FieldSources[model.FieldNotableFactors] = src
		}
	}
}

// unionFactors appends unseen incoming factors to existing, comparing
// folded forms so "Drug Overdose" and "drug overdose" collapse, and caps
// the result at MaxNotableFactors. Existing entries keep their order.
func unionFactors(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	add := func(f string) {
		f = strings.TrimSpace(f)
		if f == "" || len(out) >= model.MaxNotableFactors {
			return
		}
		key := match.Fold(f)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, f)
	}
	for _, f := range existing {
		add(f)
	}
	for _, f := range incoming {
		add(f)
	}
	return out
}
