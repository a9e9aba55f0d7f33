package glossary

import (
	"context"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/models"
)

// Match kinds, in precedence order.
const (
	MatchID    = "id"
	MatchName  = "name"
	MatchAlias = "alias"
)

type index struct {
	ids     map[string]bool
	names   map[string]string
	aliases map[string]string
}

func buildIndex(canonical []models.GlossaryTerm) index {
	idx := index{ids: map[string]bool{}, names: map[string]string{}, aliases: map[string]string{}}
	// canonical is sorted by key, so the first claimant of a name wins.
	for _, t := range canonical {
		idx.ids[t.ID] = true
		if n := models.NormalizeName(t.Name); n != "" {
			if _, taken := idx.names[n]; !taken {
				idx.names[n] = t.ID
			}
		}
		for _, a := range t.Aliases {
			if n := models.NormalizeName(a); n != "" {
				if _, taken := idx.aliases[n]; !taken {
					idx.aliases[n] = t.ID
				}
			}
		}
	}
	return idx
}

// match returns the canonical id a stub resolves to and how it matched.
func (idx index) match(stub models.GlossaryTerm) (string, string) {
	termID := stub.ID
	if termID == "" {
		termID = strings.TrimPrefix(stub.Key, models.StubKeyPrefix)
	}
	if idx.ids[termID] {
		return termID, MatchID
	}
	name := models.NormalizeName(stub.Name)
	if id, ok := idx.names[name]; ok && name != "" {
		return id, MatchName
	}
	if id, ok := idx.aliases[name]; ok && name != "" {
		return id, MatchAlias
	}
	return "", ""
}

// isStub reports whether t is a publisher-created placeholder. A glossary
// file term keyed by its id is never a stub, whatever its status.
func isStub(t models.GlossaryTerm) bool {
	return strings.HasPrefix(t.Key, models.StubKeyPrefix) && t.Status == models.TermNeedsDefinition
}

func isCanonical(t models.GlossaryTerm) bool {
	return !strings.HasPrefix(t.Key, models.StubKeyPrefix) && t.Status != models.TermMerged
}

// Reconcile resolves needs_definition stubs against canonical terms by
// exact id, then normalized name, then alias. Matched stubs are marked
// merged; unmatched stubs are reported and left as they are. Nothing is
// deleted.
func (s *Syncer) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	var all []models.GlossaryTerm
	err := s.call(ctx, "list", func(ctx context.Context) error {
		var err error
		all, err = s.store.ListTerms(ctx, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	var canonical, stubs []models.GlossaryTerm
	for _, t := range all {
		switch {
		case isCanonical(t):
			canonical = append(canonical, t)
		case isStub(t):
			stubs = append(stubs, t)
		}
	}
	idx := buildIndex(canonical)

	result := &ReconcileResult{
		Stubs:        len(stubs),
		Reconciled:   []Reconciliation{},
		UnknownTerms: []string{},
	}
	for _, stub := range stubs {
		into, how := idx.match(stub)
		if into == "" {
			result.UnknownTerms = append(result.UnknownTerms, stub.ID)
			continue
		}
		if !s.opts.DryRun {
			if err := s.call(ctx, "mark merged", func(ctx context.Context) error {
				return s.store.MarkMerged(ctx, stub.Key, into)
			}); err != nil {
				return result, err
			}
		}
		result.Reconciled = append(result.Reconciled, Reconciliation{
			StubKey:    stub.Key,
			TermID:     stub.ID,
			MergedInto: into,
			MatchedBy:  how,
		})
		s.logger.Debug("stub reconciled", "stub", stub.Key, "merged_into", into, "matched_by", how)
	}

	s.logger.Info("stubs reconciled",
		"stubs", result.Stubs,
		"reconciled", len(result.Reconciled),
		"unknown", len(result.UnknownTerms),
		"dry_run", s.opts.DryRun)
	return result, nil
}
