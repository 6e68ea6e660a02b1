// Package locale resolves the active locale to a model URL and follows
// locale changes.
package locale

import (
	"fmt"
	"sort"

	"golang.org/x/text/language"
)

// Table maps locales to model URLs. It is immutable once built.
type Table struct {
	urls map[string]string
}

// NewTable builds a Table from BCP 47 tags (e.g. "en", "pt-BR") to URLs.
func NewTable(entries map[string]string) (Table, error) {
	urls := make(map[string]string, len(entries))
	for raw, url := range entries {
		tag, err := language.Parse(raw)
		if err != nil {
			return Table{}, fmt.Errorf("locale: invalid tag %q: %w", raw, err)
		}
		urls[tag.String()] = url
	}
	return Table{urls: urls}, nil
}

// MustTable is NewTable for static tables.
func MustTable(entries map[string]string) Table {
	t, err := NewTable(entries)
	if err != nil {
		panic(err)
	}
	return t
}

// Uniform maps every language in langs to the same URL.
func Uniform(url string, langs ...string) Table {
	entries := make(map[string]string, len(langs))
	for _, l := range langs {
		entries[l] = url
	}
	return MustTable(entries)
}

// Resolve returns the URL for raw, trying the exact tag first and then its
// base language. ok is false for unsupported or unparsable locales.
func (t Table) Resolve(raw string) (url string, ok bool) {
	tag, err := language.Parse(raw)
	if err != nil {
		return "", false
	}
	if url, ok := t.urls[tag.String()]; ok {
		return url, true
	}
	base, conf := tag.Base()
	if conf != language.Exact {
		return "", false
	}
	url, ok = t.urls[base.String()]
	return url, ok
}

// Languages lists the supported tags in sorted order.
func (t Table) Languages() []string {
	out := make([]string, 0, len(t.urls))
	for k := range t.urls {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of entries.
func (t Table) Len() int { return len(t.urls) }

// BaseLanguage returns the base language subtag of raw ("de" for
// "de-AT"), or "" when raw is not a usable tag.
func BaseLanguage(raw string) string {
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}
