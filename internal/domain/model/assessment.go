package model

import "time"

// Assessment is an active vegetation assessment row shaped for callers.
type Assessment struct {
	JobNumber  string
	Region     string
	Planner    string
	Miles      float64
	Status     string
	AuditDate  time.Time
	UploadedAt time.Time
}

// UserDetail is the upstream's view of a directory user, returned by the
// user-detail lookup protocol.
type UserDetail struct {
	Username string
	Domain   string
	FullName string
	Email    string
	Groups   []string
}
