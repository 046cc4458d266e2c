package models

import "time"

// Request models
type LocationInput struct {
	Name       string `json:"name" binding:"required"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Letter     string `json:"letter"`
	PostalCode string `json:"postalCode"`
	Place      string `json:"place"`
}

type CreateMeetingRequest struct {
	Name        string         `json:"name" binding:"required"`
	Description string         `json:"description"`
	Start       time.Time      `json:"start" binding:"required"`
	Duration    *int           `json:"duration" binding:"omitempty,min=1"`
	LocationID  *string        `json:"locationId"`
	Location    *LocationInput `json:"location"`
}

type UpdateMeetingRequest struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Start       *time.Time     `json:"start"`
	Duration    *int           `json:"duration" binding:"omitempty,min=1"`
	LocationID  *string        `json:"locationId"`
	Location    *LocationInput `json:"location"`
}

type UpdateRecordRequest struct {
	Content    *string `json:"content"`
	IdentityID *string `json:"identityId"`
}

type TranslateRecordRequest struct {
	IdentityID *string `json:"identityId"`
}

type CreateVotingRequest struct {
	MeetingID   string   `json:"meetingId" binding:"required"`
	Question    string   `json:"question" binding:"required"`
	Description string   `json:"description"`
	Anonymous   bool     `json:"anonymous"`
	Options     []string `json:"options" binding:"required,min=1"`
}

type UpdateVotingRequest struct {
	Question    *string  `json:"question"`
	Description *string  `json:"description"`
	Anonymous   *bool    `json:"anonymous"`
	Options     []string `json:"options"` // nil leaves the options untouched
}

type ReassignIdentityRequest struct {
	UserID     string `json:"userId" binding:"required"`
	IdentityID string `json:"identityId" binding:"required"`
}

// Response models
type IdentityRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type LocationResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Letter     string `json:"letter"`
	PostalCode string `json:"postalCode,omitempty"`
	Place      string `json:"place,omitempty"`
}

type MeetingResponse struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	Status             MeetingStatus     `json:"status"`
	Start              time.Time         `json:"start"`
	Duration           *int              `json:"duration,omitempty"`
	Location           *LocationResponse `json:"location,omitempty"`
	Chair              *IdentityRef      `json:"chair,omitempty"`
	Code               *string           `json:"code,omitempty"`
	MyAttendanceStatus *AttendanceStatus `json:"myAttendanceStatus,omitempty"`
}

type AttendanceEntry struct {
	Identity IdentityRef       `json:"identity"`
	Status   *AttendanceStatus `json:"status"` // nil for roster placeholders
	ItsMe    bool              `json:"itsMe"`
}

type RecordResponse struct {
	MeetingID string       `json:"meetingId"`
	Lang      string       `json:"lang"`
	Content   string       `json:"content"`
	Identity  IdentityRef  `json:"identity"`
	Status    RecordStatus `json:"status"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type VotingResponse struct {
	Voting
	Options []VotingOption `json:"options"`
}

type OptionResult struct {
	Index      int           `json:"index"`
	Text       string        `json:"text"`
	Count      int           `json:"count"`
	Identities []IdentityRef `json:"identities,omitempty"`
}

type VotingResults struct {
	VotingID   string         `json:"votingId"`
	Question   string         `json:"question"`
	Anonymous  bool           `json:"anonymous"`
	IsOpen     bool           `json:"isOpen"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	ClosedAt   *time.Time     `json:"closedAt,omitempty"`
	TotalVotes int            `json:"totalVotes"`
	MyVote     *int           `json:"myVote,omitempty"`
	Options    []OptionResult `json:"options"`
}

type MyVoteResponse struct {
	Index *int `json:"index"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
