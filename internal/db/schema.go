package db

import "github.com/raphaelgruber/methodkb/internal/store"

var recordTables = []string{
	store.CollMethodology,
	store.CollStage,
	store.CollTool,
	store.CollIndicator,
	store.CollRule,
	store.CollTerm,
}

var relationTables = []string{
	store.RelHasStage,
	store.RelUsesTool,
	store.RelUsesIndicator,
	store.RelHasRule,
	store.RelUsesTerm,
	store.RelSemanticallyRelated,
}

// SchemaSQL contains the database schema initialization SQL.
// Entity tables are schemaless so the publisher can evolve per-kind fields;
// bookkeeping fields are typed.
const SchemaSQL = `
    -- ==========================================================================
    -- METHODOLOGY ENTITIES
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS methodology SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS stage SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS tool SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS indicator SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS rule SCHEMALESS;

    DEFINE FIELD IF NOT EXISTS content_hash ON methodology TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS content_hash ON stage TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS content_hash ON tool TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS content_hash ON indicator TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS content_hash ON rule TYPE option<string>;

    DEFINE FIELD IF NOT EXISTS embedding ON stage TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding ON tool TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding ON indicator TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding ON rule TYPE option<array<float>>;

    DEFINE INDEX IF NOT EXISTS stage_methodology ON stage FIELDS methodology_id;
    DEFINE INDEX IF NOT EXISTS tool_methodology ON tool FIELDS methodology_id;
    DEFINE INDEX IF NOT EXISTS indicator_methodology ON indicator FIELDS methodology_id;
    DEFINE INDEX IF NOT EXISTS rule_methodology ON rule FIELDS methodology_id;

    -- ==========================================================================
    -- GLOSSARY
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS glossary_term SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS term_id ON glossary_term TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON glossary_term TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON glossary_term TYPE string
        ASSERT $value IN ["active", "deprecated", "needs_definition", "draft", "merged"];
    DEFINE FIELD IF NOT EXISTS aliases ON glossary_term TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS merged_into ON glossary_term TYPE option<string>;

    DEFINE INDEX IF NOT EXISTS glossary_term_status ON glossary_term FIELDS status;
    DEFINE INDEX IF NOT EXISTS glossary_term_term_id ON glossary_term FIELDS term_id;

    -- ==========================================================================
    -- RELATIONS
    -- ==========================================================================
    -- Edge ids are a stable hash of (from, to, relation), so re-publishing
    -- updates an edge in place instead of adding a parallel one.
    DEFINE TABLE IF NOT EXISTS methodology_has_stage TYPE RELATION IN methodology OUT stage SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS stage_uses_tool TYPE RELATION IN stage OUT tool SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS stage_uses_indicator TYPE RELATION IN stage OUT indicator SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS stage_has_rule TYPE RELATION IN stage OUT rule SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS uses_term TYPE RELATION OUT glossary_term SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS semantically_related TYPE RELATION IN stage SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS confidence ON semantically_related TYPE float DEFAULT 1.0;
`
