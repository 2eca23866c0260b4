package store

import "time"

type Manuscript struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Section struct {
	ID           string
	ManuscriptID string
	Title        string
	SortOrder    int
	UpdatedBy    string
	UpdatedAt    time.Time
}

// Reference is a bibliography entry. Citation numbering is never
// stored; it is recomputed from citation order on read.
type Reference struct {
	ManuscriptID string
	RefID        string
	Title        string
	DOI          string
	CreatedAt    time.Time
}

// VersionRecord maps a save-point version to its archive commit. The
// content itself lives in the section's git history, not in postgres.
type VersionRecord struct {
	ID         string
	SectionID  string
	CommitHash string
	Message    string
	Provenance string
	CreatedBy  string
	CreatedAt  time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	Added     int
	Removed   int
}
