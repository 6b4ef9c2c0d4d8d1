package validate

import (
	"strings"
	"testing"
)

func TestFieldLimits(t *testing.T) {
	tests := []struct {
		name  string
		check func(string) string
		max   int
		want  string
	}{
		{"media id", MediaID, MaxMediaIDLength, "media_id must be 128 characters or fewer"},
		{"title", NotificationTitle, MaxNotificationTitleLength, "title must be 200 characters or fewer"},
		{"message", NotificationMessage, MaxNotificationMessageLength, "message must be 2000 characters or fewer"},
		{"resource type", ResourceType, MaxResourceTypeLength, "resource_type must be 50 characters or fewer"},
		{"resource id", ResourceID, MaxResourceIDLength, "resource_id must be 128 characters or fewer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(""); got != "" {
				t.Errorf("empty: got %q", got)
			}
			if got := tt.check(strings.Repeat("a", tt.max)); got != "" {
				t.Errorf("at limit: got %q", got)
			}
			if got := tt.check(strings.Repeat("a", tt.max+1)); got != tt.want {
				t.Errorf("over limit: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFirst(t *testing.T) {
	if got := First("", "", ""); got != "" {
		t.Errorf("First of empty = %q", got)
	}
	if got := First("", "b", "c"); got != "b" {
		t.Errorf("First = %q, want b", got)
	}
	if got := First(); got != "" {
		t.Errorf("First() = %q", got)
	}
}
