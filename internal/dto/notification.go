package dto

// NotificationQuery filters the caller's inbox.
type NotificationQuery struct {
	UnreadOnly bool
	Page       int
	PageSize   int
}
