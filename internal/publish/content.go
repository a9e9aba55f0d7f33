package publish

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/store"
)

const edgeKeyLen = 32

// EntityKey is the store key of an entity of a methodology.
func EntityKey(methodologyID, entityID string) string {
	return methodologyID + "__" + entityID
}

// EdgeKey derives a stable edge key from its endpoints and relation.
// from and to are "collection:key" references.
func EdgeKey(from, to, relation string) string {
	sum := sha256.Sum256([]byte(from + "|" + to + "|" + relation))
	return hex.EncodeToString(sum[:])[:edgeKeyLen]
}

func ref(collection, key string) string {
	return collection + ":" + key
}

func edgeHash(from, to, relation string, attrs ...string) string {
	parts := append([]string{from, to, relation}, attrs...)
	return models.ContentHash(strings.Join(parts, "|"))
}

// Content text is the searchable text of a record. Its sha256 is the
// record's content_hash.

func methodologyText(c *models.CompiledMethodology) string {
	parts := append([]string{c.Title, c.Description}, c.Tags...)
	return models.NormalizeWhitespace(strings.Join(parts, " "))
}

func stageText(c *models.CompiledMethodology, s models.Stage) string {
	parts := []string{s.Title, s.Description}
	for _, t := range c.StageTools(s.ID) {
		parts = append(parts, t.Title)
	}
	for _, ind := range c.StageIndicators(s.ID) {
		parts = append(parts, ind.Name)
	}
	return models.NormalizeWhitespace(strings.Join(parts, " "))
}

func toolText(t models.Tool) string {
	return models.NormalizeWhitespace(t.Title + " " + t.Description)
}

func indicatorText(ind models.Indicator) string {
	return models.NormalizeWhitespace(strings.Join([]string{ind.Name, ind.Description, ind.Formula}, " "))
}

func ruleText(r models.Rule) string {
	return models.NormalizeWhitespace(r.Description)
}

// Entity is a published stage, tool, indicator or rule with its content text.
type Entity struct {
	Collection string
	Key        string
	ID         string
	// Stage is the owning stage id; empty for stages and unattached entities.
	Stage string
	Text  string
}

// Entities lists the entity records of c in publish order.
func Entities(c *models.CompiledMethodology) []Entity {
	mid := c.MethodologyID
	var out []Entity
	for _, s := range c.Structure.Stages {
		out = append(out, Entity{Collection: store.CollStage, Key: EntityKey(mid, s.ID), ID: s.ID, Text: stageText(c, s)})
	}
	for _, t := range c.Structure.Tools {
		out = append(out, Entity{Collection: store.CollTool, Key: EntityKey(mid, t.ID), ID: t.ID, Stage: t.Stage, Text: toolText(t)})
	}
	for _, ind := range c.Structure.Indicators {
		out = append(out, Entity{Collection: store.CollIndicator, Key: EntityKey(mid, ind.ID), ID: ind.ID, Stage: ind.Stage, Text: indicatorText(ind)})
	}
	for _, r := range c.Structure.Rules {
		out = append(out, Entity{Collection: store.CollRule, Key: EntityKey(mid, r.ID), ID: r.ID, Stage: r.Stage, Text: ruleText(r)})
	}
	return out
}
