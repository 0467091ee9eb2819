// Package terminology normalizes colloquial and abbreviated Chinese medical
// terms to their canonical form and expands free-text queries with them.
package terminology

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/knowledge"
)

// Group is a canonical term together with every synonym that maps to it.
type Group struct {
	Canonical string   `json:"canonical"`
	Synonyms  []string `json:"synonyms"`
}

// Normalizer is an immutable synonym table. It is safe for concurrent use.
type Normalizer struct {
	mapping  map[string]string
	ordered  []knowledge.TermMapping
	reverse  map[string][]string
	groups   []Group
	byLength []string
	logger   *logrus.Logger
}

// NewNormalizer builds a normalizer from the embedded term table.
func NewNormalizer(logger *logrus.Logger) (*Normalizer, error) {
	terms, err := knowledge.Terms()
	if err != nil {
		return nil, fmt.Errorf("failed to load term table: %w", err)
	}
	return NewNormalizerFromTerms(terms, logger), nil
}

// NewNormalizerFromTerms builds a normalizer from an explicit mapping list.
// Later duplicates of a term override earlier ones. Chained entries such as
// 血压高→高血压→原发性高血压 are resolved to the end of the chain, so every
// term maps to a canonical form that normalizes to itself.
func NewNormalizerFromTerms(terms []knowledge.TermMapping, logger *logrus.Logger) *Normalizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	direct := make(map[string]string, len(terms))
	for _, t := range terms {
		direct[t.Term] = t.Canonical
	}

	n := &Normalizer{
		mapping: make(map[string]string, len(direct)),
		reverse: make(map[string][]string),
		logger:  logger,
	}
	for term := range direct {
		n.mapping[term] = resolveCanonical(term, direct, logger)
	}

	groupIndex := make(map[string]int)
	listed := make(map[string]bool, len(direct))
	for _, t := range terms {
		if listed[t.Term] {
			continue
		}
		listed[t.Term] = true

		canonical := n.mapping[t.Term]
		n.ordered = append(n.ordered, knowledge.TermMapping{Term: t.Term, Canonical: canonical})
		n.reverse[canonical] = append(n.reverse[canonical], t.Term)

		idx, ok := groupIndex[canonical]
		if !ok {
			idx = len(n.groups)
			groupIndex[canonical] = idx
			n.groups = append(n.groups, Group{Canonical: canonical})
		}
		n.groups[idx].Synonyms = append(n.groups[idx].Synonyms, t.Term)
	}

	n.byLength = make([]string, 0, len(n.ordered))
	for _, t := range n.ordered {
		n.byLength = append(n.byLength, t.Term)
	}
	sort.SliceStable(n.byLength, func(i, j int) bool {
		return utf8.RuneCountInString(n.byLength[i]) > utf8.RuneCountInString(n.byLength[j])
	})

	logger.WithFields(logrus.Fields{
		"mappings":  len(n.mapping),
		"canonical": len(n.groups),
	}).Info("Term normalizer initialized")

	return n
}

// resolveCanonical follows term through direct until it reaches a form that
// is not itself a term. A term on a cycle maps to itself, and a chain that
// runs into a cycle stops at the first repeated term.
func resolveCanonical(term string, direct map[string]string, logger *logrus.Logger) string {
	visited := map[string]bool{term: true}
	current := term
	for {
		next, ok := direct[current]
		if !ok || next == current {
			return current
		}
		if visited[next] {
			logger.WithFields(logrus.Fields{
				"term":  term,
				"cycle": next,
			}).Warn("Term table contains a cycle")
			if next == term {
				return term
			}
			return next
		}
		visited[next] = true
		current = next
	}
}

// Len returns the number of term mappings.
func (n *Normalizer) Len() int {
	return len(n.mapping)
}

// Normalize returns the canonical form of term, or the trimmed input when the
// term is not mapped.
func (n *Normalizer) Normalize(term string) string {
	term = strings.TrimSpace(term)
	if canonical, ok := n.mapping[term]; ok {
		n.logger.WithFields(logrus.Fields{
			"term":      term,
			"canonical": canonical,
		}).Debug("Term normalized")
		return canonical
	}
	return term
}

// Synonyms returns every registered synonym of term's canonical form, in
// declaration order. It never returns an empty slice.
func (n *Normalizer) Synonyms(term string) []string {
	canonical := n.Normalize(term)
	if syns, ok := n.reverse[canonical]; ok {
		return append([]string(nil), syns...)
	}
	return []string{term}
}

// ExpandQuery annotates known terms found in text with their canonical form,
// e.g. "心梗的治疗方法" becomes "心梗(心肌梗死)的治疗方法". Longer terms are
// considered first. Matching is always done against the original text while
// the annotation is applied to the first occurrence in the expanded text.
func (n *Normalizer) ExpandQuery(text string) string {
	expanded := text
	for _, term := range n.byLength {
		if !strings.Contains(text, term) {
			continue
		}
		canonical := n.mapping[term]
		if term == canonical || strings.Contains(text, canonical) {
			continue
		}
		expanded = strings.Replace(expanded, term, term+"("+canonical+")", 1)
	}
	return expanded
}

// Groups returns the synonym groups in order of first appearance.
func (n *Normalizer) Groups() []Group {
	out := make([]Group, len(n.groups))
	for i, g := range n.groups {
		out[i] = Group{Canonical: g.Canonical, Synonyms: append([]string(nil), g.Synonyms...)}
	}
	return out
}

// Mappings returns the term table in declaration order, each term paired
// with its resolved canonical form.
func (n *Normalizer) Mappings() []knowledge.TermMapping {
	return append([]knowledge.TermMapping(nil), n.ordered...)
}

// ExportJSON writes the grouped table as indented JSON.
func (n *Normalizer) ExportJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(n.Groups()); err != nil {
		return fmt.Errorf("failed to encode term groups: %w", err)
	}
	return nil
}
