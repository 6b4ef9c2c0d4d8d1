package validate

import "fmt"

// Field length limits for values accepted by the backend.
const (
	MaxMediaIDLength             = 128
	MaxNotificationTitleLength   = 200
	MaxNotificationMessageLength = 2000
	MaxResourceTypeLength        = 50
	MaxResourceIDLength          = 128
)

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func MediaID(s string) string           { return checkLen(s, MaxMediaIDLength, "media_id") }
func NotificationTitle(s string) string { return checkLen(s, MaxNotificationTitleLength, "title") }
func NotificationMessage(s string) string {
	return checkLen(s, MaxNotificationMessageLength, "message")
}
func ResourceType(s string) string { return checkLen(s, MaxResourceTypeLength, "resource_type") }
func ResourceID(s string) string   { return checkLen(s, MaxResourceIDLength, "resource_id") }

// First returns the first non-empty message, or "" when every check passed.
func First(msgs ...string) string {
	for _, m := range msgs {
		if m != "" {
			return m
		}
	}
	return ""
}
