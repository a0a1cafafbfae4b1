package domain

import "errors"

var (
	ErrInvalidNotification  = errors.New("invalid_notification")
	ErrInvalidStatus        = errors.New("invalid_notification_status")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidPageToken     = errors.New("invalid_page_token")
	ErrNotificationNotFound = errors.New("notification_not_found")
)
