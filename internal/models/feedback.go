package models

import "time"

// Feedback is a student's rating of a completed session.
type Feedback struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	TutorID   string    `db:"tutor_id" json:"tutor_id"`
	Rating    int       `db:"rating" json:"rating"`
	Comment   *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TutorRatingSummary aggregates feedback for a tutor.
type TutorRatingSummary struct {
	TutorID       string  `db:"tutor_id" json:"tutor_id"`
	AverageRating float64 `db:"average_rating" json:"average_rating"`
	FeedbackCount int     `db:"feedback_count" json:"feedback_count"`
}
