package models

import (
	"time"
)

// MeetingStatus is the lifecycle state of a meeting
type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "scheduled"
	MeetingInSession MeetingStatus = "inSession"
	MeetingCompleted MeetingStatus = "completed"
)

// AttendanceStatus is an identity's presence or intent for a meeting
type AttendanceStatus string

const (
	AttendanceAbsent   AttendanceStatus = "absent"
	AttendanceAccepted AttendanceStatus = "accepted"
	AttendancePresent  AttendanceStatus = "present"
)

// Rank orders attendance statuses for listings: present first, absent last.
func (s AttendanceStatus) Rank() int {
	switch s {
	case AttendancePresent:
		return 0
	case AttendanceAccepted:
		return 1
	case AttendanceAbsent:
		return 2
	default:
		return 3
	}
}

// RecordStatus is the approval state of a meeting record
type RecordStatus string

const (
	RecordUnderway  RecordStatus = "underway"
	RecordSubmitted RecordStatus = "submitted"
	RecordApproved  RecordStatus = "approved"
)

// Principal is the verified caller behind a bearer token
type Principal struct {
	UserID  string
	Name    string
	IsAdmin bool
}

// Identity is the durable principal that attendances, votes and records point at.
// A login account maps to exactly one identity at a time.
type Identity struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}

// Place is a postal code and place name shared between locations
type Place struct {
	ID         string `db:"id" json:"id"`
	PostalCode string `db:"postal_code" json:"postalCode"`
	Place      string `db:"place" json:"place"`
}

// Location is where a meeting takes place
type Location struct {
	ID      string  `db:"id" json:"id"`
	Name    string  `db:"name" json:"name"`
	Street  string  `db:"street" json:"street"`
	Number  string  `db:"number" json:"number"`
	Letter  string  `db:"letter" json:"letter"`
	PlaceID *string `db:"place_id" json:"placeId,omitempty"`
}

// Meeting represents a club meeting
type Meeting struct {
	ID          string        `db:"id" json:"id"`
	Name        string        `db:"name" json:"name"`
	Description string        `db:"description" json:"description"`
	Status      MeetingStatus `db:"status" json:"status"`
	Start       time.Time     `db:"starts_at" json:"start"`
	Duration    *int          `db:"duration" json:"duration,omitempty"` // minutes
	LocationID  *string       `db:"location_id" json:"locationId,omitempty"`
	ChairID     *string       `db:"chair_id" json:"chairId,omitempty"`
	Code        *string       `db:"code" json:"-"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
}

// Attendance is the status of one identity for one meeting
type Attendance struct {
	MeetingID  string           `db:"meeting_id" json:"meetingId"`
	IdentityID string           `db:"identity_id" json:"identityId"`
	Status     AttendanceStatus `db:"status" json:"status"`
}

// Record is the per-language protocol of a meeting
type Record struct {
	MeetingID  string       `db:"meeting_id" json:"meetingId"`
	Lang       string       `db:"lang" json:"lang"`
	Content    string       `db:"content" json:"content"`
	IdentityID string       `db:"identity_id" json:"identityId"`
	Status     RecordStatus `db:"status" json:"status"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updatedAt"`
}

// Voting is a question put to the attendees of a meeting
type Voting struct {
	ID          string     `db:"id" json:"id"`
	MeetingID   string     `db:"meeting_id" json:"meetingId"`
	Question    string     `db:"question" json:"question"`
	Description string     `db:"description" json:"description"`
	IsOpen      bool       `db:"is_open" json:"isOpen"`
	Anonymous   bool       `db:"anonymous" json:"anonymous"`
	StartedAt   *time.Time `db:"started_at" json:"startedAt,omitempty"`
	ClosedAt    *time.Time `db:"closed_at" json:"closedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// IsPending reports whether the voting has not been opened yet
func (v *Voting) IsPending() bool {
	return !v.IsOpen && v.StartedAt == nil && v.ClosedAt == nil
}

// IsClosed reports whether the voting has reached its terminal state
func (v *Voting) IsClosed() bool {
	return !v.IsOpen && v.StartedAt != nil && v.ClosedAt != nil
}

// AbstainIndex is the option index reserved for abstention
const AbstainIndex = 0

// VotingOption is one answer to a voting. Index 0 is never stored; it is the abstain sentinel.
type VotingOption struct {
	VotingID string `db:"voting_id" json:"-"`
	Index    int    `db:"idx" json:"index"`
	Text     string `db:"text" json:"text"`
}

// Vote is the single, immutable choice of an identity on a voting
type Vote struct {
	VotingID   string    `db:"voting_id" json:"votingId"`
	IdentityID string    `db:"identity_id" json:"identityId"`
	Index      int       `db:"idx" json:"index"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
