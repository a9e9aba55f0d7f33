package config

import "path/filepath"

// Layout resolves the on-disk locations used by the pipeline.
//
//	sources/<book>/extracted/blocks.jsonl   extractor input
//	work/<book>/outline_<book>.yaml         extractor output, gate input
//	work/<book>/qa/                          review results
//	work/<book>/publish/                     publish reports
//	data/methodologies/<id>.yaml             compiled records
//	docs/methodologies/<id>/                 rendered documents
//	data/glossary/                           canonical glossary terms
//	runs/<run_id>/                           manifests and run artifacts
type Layout struct {
	Root string
}

func (l Layout) SourceDir(bookID string) string {
	return filepath.Join(l.Root, "sources", bookID)
}

func (l Layout) BlocksPath(bookID string) string {
	return filepath.Join(l.SourceDir(bookID), "extracted", "blocks.jsonl")
}

func (l Layout) WorkDir(bookID string) string {
	return filepath.Join(l.Root, "work", bookID)
}

func (l Layout) OutlinePath(bookID string) string {
	return filepath.Join(l.WorkDir(bookID), "outline_"+bookID+".yaml")
}

func (l Layout) QADir(bookID string) string {
	return filepath.Join(l.WorkDir(bookID), "qa")
}

func (l Layout) PublishDir(bookID string) string {
	return filepath.Join(l.WorkDir(bookID), "publish")
}

func (l Layout) LockPath(bookID string) string {
	return filepath.Join(l.WorkDir(bookID), ".lock")
}

func (l Layout) DataDir() string {
	return filepath.Join(l.Root, "data", "methodologies")
}

func (l Layout) DocsDir() string {
	return filepath.Join(l.Root, "docs", "methodologies")
}

func (l Layout) GlossaryDir() string {
	return filepath.Join(l.Root, "data", "glossary")
}

func (l Layout) GlossaryReportPath() string {
	return filepath.Join(l.Root, "work", "glossary_sync_report.json")
}

func (l Layout) RunDir(runID string) string {
	return filepath.Join(l.Root, "runs", runID)
}

// RecordPath is the compiled record of a methodology.
func (l Layout) RecordPath(methodologyID string) string {
	return filepath.Join(l.DataDir(), methodologyID+".yaml")
}

// MethodologyDocsDir is the rendered documents directory of a methodology.
func (l Layout) MethodologyDocsDir(methodologyID string) string {
	return filepath.Join(l.DocsDir(), methodologyID)
}
