package naming

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/devmemory-mcp/internal/storage"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

const (
	// MaxChainDepth bounds the replacement chain walk
	MaxChainDepth = 64
	// MaxNameLength is the longest accepted canonical name, in runes
	MaxNameLength = 255

	DefaultSuggestLimit = 10
	MaxSuggestLimit     = 50
)

// MatchReason explains why an existing entry was surfaced
type MatchReason string

const (
	MatchExact      MatchReason = "exact"      // Same canonical name ignoring case
	MatchAlias      MatchReason = "alias"      // Name is an alias of the entry
	MatchNormalized MatchReason = "normalized" // Equal once case and separators are ignored
	MatchSimilar    MatchReason = "similar"    // Within the edit-distance bound
)

// Match is an existing entry that resembles a name
type Match struct {
	Entry    *types.NamingEntry `json:"entry"`
	Reason   MatchReason        `json:"reason"`
	Distance int                `json:"distance"`
}

// Registry keeps one canonical name per entity, per project and entity type
type Registry struct {
	storage storage.Storage
	logger  zerolog.Logger
}

// NewRegistry creates a Registry
func NewRegistry(st storage.Storage, logger zerolog.Logger) *Registry {
	return &Registry{storage: st, logger: logger}
}

// RegisterRequest names an entity
type RegisterRequest struct {
	ProjectID        string
	EntityType       types.EntityType
	CanonicalName    string
	Aliases          []string
	Description      string
	NamingConvention string
}

// RegisterResult is the outcome of Register. Conflict is advisory: the
// entry is stored either way and Matches lists the look-alikes.
type RegisterResult struct {
	Entry    *types.NamingEntry `json:"entry"`
	Created  bool               `json:"created"`
	Conflict bool               `json:"conflict"`
	Matches  []Match            `json:"matches,omitempty"`
}

func validateName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", types.NewValidationError(field, "must not be empty")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", types.NewValidationError(field, "longer than %d characters", MaxNameLength)
	}
	return name, nil
}

func validateEntityType(t types.EntityType) error {
	if !t.Valid() {
		return types.NewValidationError("entityType", "unknown entity type %q", t)
	}
	return nil
}

// Register records a canonical name. Re-registering an existing name bumps
// its usage count and is never a conflict. A new name that looks like an
// existing entry of the same type is stored and reported with Conflict set.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := validateEntityType(req.EntityType); err != nil {
		return nil, err
	}
	name, err := validateName("canonicalName", req.CanonicalName)
	if err != nil {
		return nil, err
	}
	aliases := cleanAliases(req.Aliases, name)

	existing, err := r.storage.ListNamingEntries(ctx, req.ProjectID, req.EntityType)
	if err != nil {
		return nil, err
	}

	entry := &types.NamingEntry{
		ID:               uuid.NewString(),
		ProjectID:        req.ProjectID,
		EntityType:       req.EntityType,
		CanonicalName:    name,
		Aliases:          aliases,
		Description:      strings.TrimSpace(req.Description),
		NamingConvention: strings.TrimSpace(req.NamingConvention),
	}
	// the upsert row lock is held until commit, so a concurrent re-registration
	// merges its aliases into ours rather than over them
	var created bool
	err = storage.WithTx(ctx, r.storage, func(tx storage.Tx) error {
		var err error
		created, err = tx.UpsertNamingEntry(ctx, entry)
		if err != nil || created {
			return err
		}
		if merged := mergeAliases(entry.Aliases, aliases); len(merged) != len(entry.Aliases) {
			if err := tx.SetNamingAliases(ctx, entry.ID, merged); err != nil {
				return err
			}
			entry.Aliases = merged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !created {
		r.logger.Debug().
			Str("project_id", req.ProjectID).
			Str("entity_type", string(req.EntityType)).
			Str("name", name).
			Int("usage_count", entry.UsageCount).
			Msg("name reused")
		return &RegisterResult{Entry: entry}, nil
	}

	matches := nearDuplicates(name, existing)
	result := &RegisterResult{Entry: entry, Created: true, Conflict: len(matches) > 0, Matches: matches}
	if result.Conflict {
		r.logger.Info().
			Str("project_id", req.ProjectID).
			Str("entity_type", string(req.EntityType)).
			Str("name", name).
			Str("resembles", matches[0].Entry.CanonicalName).
			Msg("registered name resembles an existing entry")
	}
	return result, nil
}

// nearDuplicates lists entries other than name itself that an agent could
// mistake for it, closest first
func nearDuplicates(name string, entries []*types.NamingEntry) []Match {
	norm := normalize(name)
	bound := fuzzyBound(utf8.RuneCountInString(norm))

	var matches []Match
	for _, e := range entries {
		if e.CanonicalName == name {
			continue
		}
		switch {
		case strings.EqualFold(e.CanonicalName, name):
			matches = append(matches, Match{Entry: e, Reason: MatchExact})
		case hasAlias(e, name):
			matches = append(matches, Match{Entry: e, Reason: MatchAlias})
		case normalize(e.CanonicalName) == norm:
			matches = append(matches, Match{Entry: e, Reason: MatchNormalized})
		case bound > 0:
			if d := levenshtein(norm, normalize(e.CanonicalName), bound); d <= bound {
				matches = append(matches, Match{Entry: e, Reason: MatchSimilar, Distance: d})
			}
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Entry.UsageCount > matches[j].Entry.UsageCount
	})
	return matches
}

func hasAlias(e *types.NamingEntry, name string) bool {
	for _, a := range e.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// cleanAliases trims and de-duplicates aliases, dropping the canonical name
func cleanAliases(aliases []string, canonical string) []string {
	out := make([]string, 0, len(aliases))
	seen := map[string]bool{strings.ToLower(canonical): true}
	for _, a := range aliases {
		a = strings.TrimSpace(a)
		if a == "" || seen[strings.ToLower(a)] {
			continue
		}
		seen[strings.ToLower(a)] = true
		out = append(out, a)
	}
	return out
}

// mergeAliases appends the aliases of add missing from have
func mergeAliases(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	for _, a := range have {
		seen[strings.ToLower(a)] = true
	}
	merged := append([]string{}, have...)
	for _, a := range add {
		if !seen[strings.ToLower(a)] {
			seen[strings.ToLower(a)] = true
			merged = append(merged, a)
		}
	}
	return merged
}

// CheckResult reports whether a name is free. Matches are exact and alias
// hits; Similar lists near-duplicates that do not make the name unavailable.
type CheckResult struct {
	Available bool                 `json:"available"`
	Matches   []*types.NamingEntry `json:"matches"`
	Similar   []Match              `json:"similar,omitempty"`
}

// Check looks a candidate name up without registering it
func (r *Registry) Check(ctx context.Context, projectID string, entityType types.EntityType, candidate string) (*CheckResult, error) {
	if err := validateEntityType(entityType); err != nil {
		return nil, err
	}
	name, err := validateName("candidateName", candidate)
	if err != nil {
		return nil, err
	}

	matches, err := r.storage.FindNamingMatches(ctx, projectID, entityType, name)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []*types.NamingEntry{}
	}

	entries, err := r.storage.ListNamingEntries(ctx, projectID, entityType)
	if err != nil {
		return nil, err
	}
	exact := make(map[string]bool, len(matches))
	for _, m := range matches {
		exact[m.ID] = true
	}
	var similar []Match
	for _, m := range nearDuplicates(name, entries) {
		if !exact[m.Entry.ID] {
			similar = append(similar, m)
		}
	}

	return &CheckResult{Available: len(matches) == 0, Matches: matches, Similar: similar}, nil
}

// matchQuality ranks how well a name matches a partial input; lower is better
type matchQuality int

const (
	qualityExact matchQuality = iota
	qualityPrefix
	qualityPrefixFold
	qualityPrefixNormalized
	qualitySubstring
	qualityNone
)

func quality(name, partial string) matchQuality {
	lowerName, lowerPartial := strings.ToLower(name), strings.ToLower(partial)
	switch {
	case name == partial:
		return qualityExact
	case strings.HasPrefix(name, partial):
		return qualityPrefix
	case strings.HasPrefix(lowerName, lowerPartial):
		return qualityPrefixFold
	case strings.HasPrefix(normalize(name), normalize(partial)):
		return qualityPrefixNormalized
	case strings.Contains(lowerName, lowerPartial):
		return qualitySubstring
	}
	return qualityNone
}

// Suggestion is one candidate name returned by Suggest
type Suggestion struct {
	CanonicalName string             `json:"canonicalName"`
	Entry         *types.NamingEntry `json:"entry"`
}

// Suggest returns existing names matching partial, best match first. Match
// quality ranks exact, then case-sensitive prefix, case-insensitive prefix,
// separator-insensitive prefix and substring; ties go to the most used, then
// most recently used name. Deprecated names are never suggested.
func (r *Registry) Suggest(ctx context.Context, projectID string, entityType types.EntityType, partial string, limit int) ([]Suggestion, error) {
	if err := validateEntityType(entityType); err != nil {
		return nil, err
	}
	partial, err := validateName("partialName", partial)
	if err != nil {
		return nil, err
	}
	switch {
	case limit < 0:
		return nil, types.NewValidationError("limit", "must not be negative")
	case limit == 0:
		limit = DefaultSuggestLimit
	case limit > MaxSuggestLimit:
		limit = MaxSuggestLimit
	}

	entries, err := r.storage.ListNamingEntries(ctx, projectID, entityType)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		entry   *types.NamingEntry
		quality matchQuality
	}
	var candidates []candidate
	for _, e := range entries {
		if e.Deprecated {
			continue
		}
		if q := quality(e.CanonicalName, partial); q != qualityNone {
			candidates = append(candidates, candidate{entry: e, quality: q})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.quality != b.quality {
			return a.quality < b.quality
		}
		if a.entry.UsageCount != b.entry.UsageCount {
			return a.entry.UsageCount > b.entry.UsageCount
		}
		if !a.entry.LastUsed.Equal(b.entry.LastUsed) {
			return a.entry.LastUsed.After(b.entry.LastUsed)
		}
		return a.entry.CanonicalName < b.entry.CanonicalName
	})

	out := make([]Suggestion, 0, min(limit, len(candidates)))
	for _, c := range candidates {
		if len(out) == limit {
			break
		}
		out = append(out, Suggestion{CanonicalName: c.entry.CanonicalName, Entry: c.entry})
	}
	return out, nil
}

// DeprecateRequest retires an entry, optionally pointing at its replacement
type DeprecateRequest struct {
	EntryID       string
	ReplacementID string
	Reason        string
}

// Deprecate marks an entry deprecated. A replacement must be another entry of
// the same project and entity type whose own replacement chain does not lead
// back to this entry.
func (r *Registry) Deprecate(ctx context.Context, req DeprecateRequest) (*types.NamingEntry, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, types.NewValidationError("reason", "must not be empty")
	}

	var updated *types.NamingEntry
	err := storage.WithTx(ctx, r.storage, func(tx storage.Tx) error {
		entry, err := tx.GetNamingEntry(ctx, req.EntryID)
		if err != nil {
			return err
		}

		var replacementID *string
		if req.ReplacementID != "" {
			replacement, err := tx.GetNamingEntry(ctx, req.ReplacementID)
			if err != nil {
				return err
			}
			if replacement.ProjectID != entry.ProjectID || replacement.EntityType != entry.EntityType {
				return types.NewValidationError("replacementId", "replacement must be a %s in the same project", entry.EntityType)
			}
			if err := checkChain(ctx, tx, entry.ID, replacement); err != nil {
				return err
			}
			replacementID = &replacement.ID
		}

		if err := tx.DeprecateNamingEntry(ctx, entry.ID, replacementID, reason); err != nil {
			return err
		}
		updated, err = tx.GetNamingEntry(ctx, entry.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	event := r.logger.Info().Str("entry_id", updated.ID).Str("name", updated.CanonicalName)
	if updated.ReplacementID != nil {
		event = event.Str("replacement_id", *updated.ReplacementID)
	}
	event.Msg("name deprecated")
	return updated, nil
}

// checkChain follows replacement pointers from start and fails if they reach
// target, revisit an entry or run deeper than MaxChainDepth
func checkChain(ctx context.Context, s storage.Storage, target string, start *types.NamingEntry) error {
	chain := []string{start.ID}
	visited := map[string]bool{}
	cur := start
	for depth := 0; ; depth++ {
		if cur.ID == target || visited[cur.ID] || depth >= MaxChainDepth {
			return &types.CycleError{Kind: "naming replacement", Chain: append([]string{target}, chain...)}
		}
		visited[cur.ID] = true
		if cur.ReplacementID == nil {
			return nil
		}
		next, err := s.GetNamingEntry(ctx, *cur.ReplacementID)
		if err != nil {
			return err
		}
		chain = append(chain, next.ID)
		cur = next
	}
}

// Get returns one entry
func (r *Registry) Get(ctx context.Context, id string) (*types.NamingEntry, error) {
	return r.storage.GetNamingEntry(ctx, id)
}

// List returns a project's entries of one type, or all types when empty
func (r *Registry) List(ctx context.Context, projectID string, entityType types.EntityType) ([]*types.NamingEntry, error) {
	if entityType != "" {
		if err := validateEntityType(entityType); err != nil {
			return nil, err
		}
	}
	return r.storage.ListNamingEntries(ctx, projectID, entityType)
}

// Stats aggregates registry counts for projectID, or all projects when empty
func (r *Registry) Stats(ctx context.Context, projectID string) (*types.NamingStats, error) {
	return r.storage.NamingStats(ctx, projectID)
}
