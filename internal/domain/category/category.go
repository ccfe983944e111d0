// Package category defines the closed set of activity categories.
//
// The five categories are fixed: every ownership fact, activity record,
// and index bucket is keyed by exactly one of them. Dispatch is explicit
// and exhaustive; unknown wire names are an error, never a fallthrough.
package category

import "fmt"

// Category identifies one of the five fixed activity categories.
type Category uint8

// All category variants.
const (
	Outside Category = iota
	Intern
	Competition
	Language
	Certification
)

// SortRule selects the ordering applied to index search results.
type SortRule uint8

// Sort rules per category.
const (
	// SortPopularity orders by view count descending.
	SortPopularity SortRule = iota
	// SortChronological orders by sort date ascending.
	SortChronological
)

// wire names as the callers (and the index buckets) know them.
const (
	nameOutside       = "outside"
	nameIntern        = "intern"
	nameCompetition   = "competition"
	nameLanguage      = "language"
	nameCertification = "qnet"
)

// All returns every category in declaration order.
func All() []Category {
	return []Category{Outside, Intern, Competition, Language, Certification}
}

// Parse resolves a wire name to its Category.
func Parse(name string) (Category, error) {
	switch name {
	case nameOutside:
		return Outside, nil
	case nameIntern:
		return Intern, nil
	case nameCompetition:
		return Competition, nil
	case nameLanguage:
		return Language, nil
	case nameCertification:
		return Certification, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
}

// String returns the wire name.
func (c Category) String() string {
	switch c {
	case Outside:
		return nameOutside
	case Intern:
		return nameIntern
	case Competition:
		return nameCompetition
	case Language:
		return nameLanguage
	case Certification:
		return nameCertification
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// Bucket returns the index bucket name for the category. Buckets share
// the wire names so documents seeded by external crawlers resolve
// without a mapping table.
func (c Category) Bucket() string {
	return c.String()
}

// Sort returns the ordering rule applied to this category's search
// results: language tests are chronological, everything else ranks by
// popularity.
func (c Category) Sort() SortRule {
	if c == Language {
		return SortChronological
	}
	return SortPopularity
}

// Valid reports whether c is one of the five declared variants.
func (c Category) Valid() bool {
	return c <= Certification
}
