package application

import "github.com/ericfisherdev/driftwatch/internal/domain/model"

// changeSet splits a changed-file listing into the views each pipeline stage needs.
type changeSet struct {
	codeChanges []model.FileChange // Fed to the code index.
	codePaths   []string           // Current paths of added, modified and renamed code.
	removedCode []string
	renames     []model.RenamePair // Code files that moved.
	docPaths    []string           // Current paths of changed documentation.
	removedDocs []string           // Deleted documentation, and the old side of doc renames.
	touchedCode []string           // Every code path in the listing, for co-change learning.
	touchedDocs []string
}

func classifyChanges(changes []model.FileChange) changeSet {
	var cs changeSet

	for _, ch := range changes {
		switch model.ClassifyFile(ch.Path) {
		case model.FileKindCode:
			cs.codeChanges = append(cs.codeChanges, ch)
			cs.touchedCode = append(cs.touchedCode, ch.Path)
			switch ch.Status {
			case model.FileRemoved:
				cs.removedCode = append(cs.removedCode, ch.Path)
			case model.FileRenamed:
				cs.codePaths = append(cs.codePaths, ch.Path)
				if ch.PreviousPath != "" && model.ClassifyFile(ch.PreviousPath) == model.FileKindCode {
					cs.renames = append(cs.renames, model.RenamePair{From: ch.PreviousPath, To: ch.Path})
				}
			default:
				cs.codePaths = append(cs.codePaths, ch.Path)
			}
		case model.FileKindDoc:
			cs.touchedDocs = append(cs.touchedDocs, ch.Path)
			switch ch.Status {
			case model.FileRemoved:
				cs.removedDocs = append(cs.removedDocs, ch.Path)
			case model.FileRenamed:
				cs.docPaths = append(cs.docPaths, ch.Path)
				if ch.PreviousPath != "" {
					cs.removedDocs = append(cs.removedDocs, ch.PreviousPath)
				}
			default:
				cs.docPaths = append(cs.docPaths, ch.Path)
			}
		}
	}

	return cs
}
