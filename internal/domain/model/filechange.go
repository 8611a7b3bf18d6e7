package model

// FileChangeStatus mirrors the GitHub file status values for a pull request diff.
type FileChangeStatus string

const (
	FileAdded    FileChangeStatus = "added"
	FileModified FileChangeStatus = "modified"
	FileRemoved  FileChangeStatus = "removed"
	FileRenamed  FileChangeStatus = "renamed"
)

// FileChange is one entry of a changed-file listing.
type FileChange struct {
	Path         string
	PreviousPath string // Set only for renames.
	Status       FileChangeStatus
}

// RenamePair records a file move so mappings can follow it.
type RenamePair struct {
	From string
	To   string
}

// IndexSummary reports what a code index update did.
type IndexSummary struct {
	FilesIndexed int
	FilesRemoved int
	FilesSkipped int
}
