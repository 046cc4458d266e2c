package models

import "time"

// MeetingView is the flat projection of a meeting joined with its location,
// place and chair. Joined columns are nullable.
type MeetingView struct {
	ID          string        `db:"id"`
	Name        string        `db:"name"`
	Description string        `db:"description"`
	Status      MeetingStatus `db:"status"`
	Start       time.Time     `db:"starts_at"`
	Duration    *int          `db:"duration"`
	Code        *string       `db:"code"`
	LocationID  *string       `db:"location_id"`
	LocName     *string       `db:"location_name"`
	Street      *string       `db:"street"`
	Number      *string       `db:"number"`
	Letter      *string       `db:"letter"`
	PostalCode  *string       `db:"postal_code"`
	Place       *string       `db:"place"`
	ChairID     *string       `db:"chair_id"`
	ChairName   *string       `db:"chair_name"`
}

// AttendanceView is an attendance row joined with the identity name
type AttendanceView struct {
	IdentityID string           `db:"identity_id"`
	Name       string           `db:"name"`
	Status     AttendanceStatus `db:"status"`
}

// RecordView is a record joined with the responsible identity's name
type RecordView struct {
	Record
	IdentityName string `db:"identity_name"`
}

// VoterView is one cast vote joined with the voter's name
type VoterView struct {
	Index      int    `db:"idx"`
	IdentityID string `db:"identity_id"`
	Name       string `db:"name"`
}
