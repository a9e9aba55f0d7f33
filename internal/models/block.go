package models

// Block types produced by document extraction.
const (
	BlockParagraph = "paragraph"
	BlockHeading   = "heading"
	BlockTable     = "table"
	BlockList      = "list"
	BlockFormula   = "formula"
	BlockPageBreak = "page_break"
)

// Block is one typed text block of an extracted source document.
type Block struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Text   string         `json:"text"`
	Source BlockSource    `json:"source"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// BlockSource locates a block in its source document.
type BlockSource struct {
	Page int    `json:"page"`
	File string `json:"file,omitempty"`
}
