package dto

import "time"

// CreateSlotRequest publishes a tutor availability window.
type CreateSlotRequest struct {
	StartTime    time.Time `json:"start_time" validate:"required"`
	EndTime      time.Time `json:"end_time" validate:"required"`
	AllowedModes []string  `json:"allowed_modes" validate:"required,min=1,dive,oneof=ONLINE CAMPUS_1 CAMPUS_2"`
}

// SlotQuery filters a tutor's availability.
type SlotQuery struct {
	IncludeBooked bool
	From          *time.Time
	To            *time.Time
}
