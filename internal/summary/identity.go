package summary

import "strings"

const (
	// AnonymousLabel replaces a blank name on a record whose schema has names.
	AnonymousLabel = "Anonymous"
	// UnknownLabel is used for every record when the schema has no name fields.
	UnknownLabel = "Unknown"
)

// IdentityStrategy is the source of individual labels, picked once per run.
type IdentityStrategy int

const (
	StrategyNone IdentityStrategy = iota
	StrategyNames
	StrategyCreator
)

func (s IdentityStrategy) String() string {
	switch s {
	case StrategyNames:
		return "names"
	case StrategyCreator:
		return "creator"
	default:
		return "none"
	}
}

// IdentityKind tags which branch produced an Identity.
type IdentityKind int

const (
	IdentityResolved IdentityKind = iota
	IdentityAnonymous
	IdentityUnknown
)

// Identity is the canonical individual label of a record.
type Identity struct {
	Label string
	Kind  IdentityKind
}

// IdentityResolver derives individual labels using a fixed strategy.
type IdentityResolver struct {
	strategy IdentityStrategy
}

// NewIdentityResolver picks the strategy from the schema:
// first+last name columns, else the creator column, else none.
func NewIdentityResolver(m FieldMapping) IdentityResolver {
	switch {
	case m.HasNames():
		return IdentityResolver{strategy: StrategyNames}
	case m.Creator != "":
		return IdentityResolver{strategy: StrategyCreator}
	default:
		return IdentityResolver{strategy: StrategyNone}
	}
}

// Strategy returns the strategy chosen for this run.
func (r IdentityResolver) Strategy() IdentityStrategy { return r.strategy }

// Resolve returns the identity of one record.
func (r IdentityResolver) Resolve(rec ActivityRecord) Identity {
	var name string
	switch r.strategy {
	case StrategyNames:
		name = strings.TrimSpace(clean(rec.FirstName) + " " + clean(rec.LastName))
	case StrategyCreator:
		name = clean(rec.Creator)
	default:
		return Identity{Label: UnknownLabel, Kind: IdentityUnknown}
	}
	if name == "" {
		return Identity{Label: AnonymousLabel, Kind: IdentityAnonymous}
	}
	return Identity{Label: name, Kind: IdentityResolved}
}

func clean(s string) string {
	if IsBlank(s) {
		return ""
	}
	return strings.TrimSpace(s)
}
