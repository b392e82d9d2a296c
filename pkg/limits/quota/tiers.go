package quota

import (
	"fmt"
	"sort"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/limits/storage"
)

// TierTable maps tier and feature to a daily limit. Tiers are ordered from
// lowest to highest entitlement. A TierTable is immutable.
type TierTable struct {
	version     string
	defaultTier string
	features    []string
	tiers       []string
	rank        map[string]int
	limits      map[string]map[string]int64
}

// NewTierTable builds a table from configuration. Every tier must define
// every feature and nothing else; violations wrap ErrInvalidConfiguration.
func NewTierTable(cfg config.QuotaConfig) (*TierTable, error) {
	if len(cfg.Tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers defined", ErrInvalidConfiguration)
	}
	if len(cfg.Features) == 0 {
		return nil, fmt.Errorf("%w: no features defined", ErrInvalidConfiguration)
	}

	t := &TierTable{
		version:     cfg.Version,
		defaultTier: cfg.DefaultTier,
		features:    append([]string(nil), cfg.Features...),
		rank:        make(map[string]int, len(cfg.Tiers)),
		limits:      make(map[string]map[string]int64, len(cfg.Tiers)),
	}
	sort.Strings(t.features)

	known := make(map[string]bool, len(cfg.Features))
	for _, f := range cfg.Features {
		if f == "" || known[f] {
			return nil, fmt.Errorf("%w: empty or duplicate feature %q", ErrInvalidConfiguration, f)
		}
		known[f] = true
	}

	for i, tc := range cfg.Tiers {
		if tc.Name == "" {
			return nil, fmt.Errorf("%w: tier %d has no name", ErrInvalidConfiguration, i)
		}
		if _, dup := t.rank[tc.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tier %q", ErrInvalidConfiguration, tc.Name)
		}

		for f := range tc.Limits {
			if !known[f] {
				return nil, fmt.Errorf("%w: tier %q sets unknown feature %q", ErrInvalidConfiguration, tc.Name, f)
			}
		}
		limits := make(map[string]int64, len(t.features))
		for _, f := range t.features {
			limit, ok := tc.Limits[f]
			if !ok {
				return nil, fmt.Errorf("%w: tier %q has no limit for feature %q", ErrInvalidConfiguration, tc.Name, f)
			}
			if limit < 0 {
				return nil, fmt.Errorf("%w: tier %q feature %q has negative limit", ErrInvalidConfiguration, tc.Name, f)
			}
			limits[f] = limit
		}

		t.rank[tc.Name] = i
		t.tiers = append(t.tiers, tc.Name)
		t.limits[tc.Name] = limits
	}

	if t.defaultTier == "" {
		t.defaultTier = t.tiers[0]
	}
	if _, ok := t.rank[t.defaultTier]; !ok {
		return nil, fmt.Errorf("%w: default tier %q not in table", ErrInvalidConfiguration, t.defaultTier)
	}

	return t, nil
}

// Version identifies the table for cache coherence.
func (t *TierTable) Version() string { return t.version }

// DefaultTier is the tier of subjects created without one.
func (t *TierTable) DefaultTier() string { return t.defaultTier }

// Features returns the sorted feature names.
func (t *TierTable) Features() []string { return append([]string(nil), t.features...) }

// Tiers returns tier names from lowest to highest.
func (t *TierTable) Tiers() []string { return append([]string(nil), t.tiers...) }

// HasTier reports whether tier is in the table.
func (t *TierTable) HasTier(tier string) bool {
	_, ok := t.rank[tier]
	return ok
}

// HasFeature reports whether feature is metered.
func (t *TierTable) HasFeature(feature string) bool {
	_, ok := t.limits[t.defaultTier][feature]
	return ok
}

// Compare orders two tiers: negative when a is below b, zero when equal.
// Unknown tiers rank below every known tier.
func (t *TierTable) Compare(a, b string) int {
	ra, ok := t.rank[a]
	if !ok {
		ra = -1
	}
	rb, ok := t.rank[b]
	if !ok {
		rb = -1
	}
	return ra - rb
}

// Limit returns the limit of feature for tier. Tiers no longer in the table
// fall back to the default tier.
func (t *TierTable) Limit(tier, feature string) (int64, bool) {
	limit, ok := t.limits[t.effectiveTier(tier)][feature]
	return limit, ok
}

func (t *TierTable) effectiveTier(tier string) string {
	if _, ok := t.rank[tier]; ok {
		return tier
	}
	return t.defaultTier
}

// Status derives the limits and reached flags of rec.
func (t *TierTable) Status(rec *storage.Record) *Status {
	tier := t.effectiveTier(rec.Tier)
	st := &Status{
		SubjectID:   rec.SubjectID,
		Tier:        tier,
		Features:    make(map[string]FeatureStatus, len(t.features)),
		ResetAt:     rec.ResetAt,
		LastUpdated: rec.LastUpdated,
	}
	for _, f := range t.features {
		limit := t.limits[tier][f]
		used := rec.Used(f)
		st.Features[f] = FeatureStatus{
			Used:      used,
			Limit:     limit,
			Reached:   used >= limit,
			Remaining: max(0, limit-used),
		}
	}
	return st
}
