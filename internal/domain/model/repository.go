package model

import "time"

// Repository is a GitHub repository watched for scheduled documentation sweeps.
type Repository struct {
	ID             int64
	FullName       string
	Owner          string
	Name           string
	InstallationID int64
	AddedAt        time.Time
}
