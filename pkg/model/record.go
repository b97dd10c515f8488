package model

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const MaxFeedbackLength = 2000

var ErrRatingOutOfRange = errors.New("rating must be between 1 and 5")
var ErrFeedbackTooLong = fmt.Errorf("feedback exceeds %d characters", MaxFeedbackLength)
var ErrDurationNegative = errors.New("duration must not be negative")

// CallRecord is the append-only billing record written to the persistence
// sink after a call ends. The coordinator never reads it back on the hot
// path; it exists for offline review and billing.
type CallRecord struct {
	ID              int64     `json:"id"`
	LearnerEmail    string    `json:"learner_email"`
	SpeakerEmail    string    `json:"speaker_email"`
	DurationSeconds int64     `json:"duration"`
	StartedAt       time.Time `json:"start_time"`
	EndedAt         time.Time `json:"end_time"`
	CreatedAt       time.Time `json:"created_at"`
}

func (r *CallRecord) Validate() error {
	if err := ValidateEmail(r.LearnerEmail); err != nil {
		return err
	}
	if err := ValidateEmail(r.SpeakerEmail); err != nil {
		return err
	}
	if r.DurationSeconds < 0 {
		return ErrDurationNegative
	}
	return nil
}

// Review is a post-call rating of one participant by the other.
type Review struct {
	ID              int64     `json:"id"`
	CallID          int64     `json:"call_id"`
	ReviewedEmail   string    `json:"reviewed_email"`
	ReviewedByEmail string    `json:"reviewed_by_email"`
	Rating          int       `json:"rating"`
	Feedback        string    `json:"feedback"`
	CreatedAt       time.Time `json:"created_at"`
}

func (r *Review) Validate() error {
	if err := ValidateEmail(r.ReviewedEmail); err != nil {
		return err
	}
	if err := ValidateEmail(r.ReviewedByEmail); err != nil {
		return err
	}
	if r.Rating < 1 || r.Rating > 5 {
		return ErrRatingOutOfRange
	}
	if utf8.RuneCountInString(r.Feedback) > MaxFeedbackLength {
		return ErrFeedbackTooLong
	}
	return nil
}
