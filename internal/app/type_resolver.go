package app

import (
	"context"
	"strings"
	"unicode"

	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/equipment"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// TypeResolver maps a tracked register field to the deadline type it feeds.
// Matching ignores case, diacritics, punctuation and spacing, so "ОФД",
// "офд" and "О.Ф.Д." all match.
type TypeResolver struct {
	names   map[equipment.ComplianceField][]string
	aliases map[equipment.ComplianceField]map[string]struct{}
}

func NewTypeResolver(names map[equipment.ComplianceField][]string) *TypeResolver {
	r := &TypeResolver{
		names:   names,
		aliases: make(map[equipment.ComplianceField]map[string]struct{}, len(names)),
	}
	for field, list := range names {
		set := make(map[string]struct{}, len(list))
		for _, n := range list {
			if key := NormalizeTypeName(n); key != "" {
				set[key] = struct{}{}
			}
		}
		r.aliases[field] = set
	}
	return r
}

// Resolve returns the lowest-id active type whose name matches one of the field's
// accepted names. A missing type is reported as apperr.ErrNotFound.
func (r *TypeResolver) Resolve(ctx context.Context, repo deadline.Repository, field equipment.ComplianceField) (*deadline.Type, error) {
	set, ok := r.aliases[field]
	if !ok || len(set) == 0 {
		return nil, apperr.NotFound("no deadline type names configured for %s", field)
	}
	types, err := repo.ListTypes(ctx, true)
	if err != nil {
		return nil, err
	}
	var match *deadline.Type
	for _, t := range types {
		if _, ok := set[NormalizeTypeName(t.Name)]; !ok {
			continue
		}
		if match == nil || t.ID < match.ID {
			match = t
		}
	}
	if match == nil {
		return nil, apperr.NotFound("active deadline type for %s (accepted names: %s)",
			field, strings.Join(r.names[field], ", "))
	}
	return match, nil
}

// NormalizeTypeName folds a type name into its comparison key.
func NormalizeTypeName(name string) string {
	// transform.Chain keeps state, so it is built per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}
	words := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, "")
}
