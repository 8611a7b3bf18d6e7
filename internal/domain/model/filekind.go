package model

import (
	"path"
	"regexp"
	"strings"
)

// FileKind is the role a changed file plays in a scan.
type FileKind int

const (
	FileKindOther FileKind = iota
	FileKindDoc
	FileKindCode
)

var docExtensions = map[string]struct{}{
	".md": {}, ".mdx": {}, ".rst": {}, ".adoc": {}, ".txt": {},
}

var codeExtensions = map[string]struct{}{
	".go": {}, ".py": {}, ".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {}, ".mjs": {}, ".cjs": {},
	".java": {}, ".kt": {}, ".kts": {}, ".scala": {}, ".rb": {}, ".php": {}, ".rs": {},
	".c": {}, ".h": {}, ".cc": {}, ".cpp": {}, ".hpp": {}, ".cs": {}, ".swift": {},
	".m": {}, ".sh": {}, ".bash": {}, ".sql": {}, ".proto": {}, ".yaml": {}, ".yml": {},
	".toml": {}, ".json": {},
}

// ClassifyFile decides whether a repository path is documentation, code, or
// neither. Anything under docs/ counts as documentation.
func ClassifyFile(p string) FileKind {
	lower := strings.ToLower(p)
	if strings.HasPrefix(lower, "docs/") || strings.Contains(lower, "/docs/") {
		return FileKindDoc
	}

	ext := path.Ext(lower)
	if _, ok := docExtensions[ext]; ok {
		return FileKindDoc
	}
	if _, ok := codeExtensions[ext]; ok {
		return FileKindCode
	}
	return FileKindOther
}

var backtickRef = regexp.MustCompile("`([^`\n]+)`")

// References returns the distinct backtick-quoted terms in the claim text in
// order of first appearance.
func (c Claim) References() []string {
	matches := backtickRef.FindAllStringSubmatch(c.Text, -1)

	seen := make(map[string]struct{}, len(matches))
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		ref := strings.TrimSpace(m[1])
		if ref == "" {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

// IsPathReference reports whether a claim reference names a file rather than
// a symbol.
func IsPathReference(ref string) bool {
	if strings.ContainsAny(ref, " ()") {
		return false
	}
	return strings.Contains(ref, "/") || ClassifyFile(ref) != FileKindOther
}
