package db

import (
	"strings"
	"testing"
)

func TestBuildOutgoingQuery(t *testing.T) {
	replyTo := int64(17)

	tests := []struct {
		name        string
		filter      OutgoingFilter
		wantWhere   []string
		wantArgs    []any
		wantLimitAt string
	}{
		{
			name:        "no filters",
			filter:      OutgoingFilter{Limit: 50},
			wantArgs:    []any{50},
			wantLimitAt: "LIMIT $1",
		},
		{
			name:        "status only",
			filter:      OutgoingFilter{Status: DeliveryFailed, Limit: 10},
			wantWhere:   []string{"delivery_status = $1"},
			wantArgs:    []any{DeliveryFailed, 10},
			wantLimitAt: "LIMIT $2",
		},
		{
			name:        "status and reply",
			filter:      OutgoingFilter{Status: DeliveryDelivered, ReplyToNotificationID: &replyTo, Limit: 1000},
			wantWhere:   []string{"delivery_status = $1", "reply_to_notification_id = $2"},
			wantArgs:    []any{DeliveryDelivered, int64(17), 1000},
			wantLimitAt: "LIMIT $3",
		},
		{
			name:        "reply only",
			filter:      OutgoingFilter{ReplyToNotificationID: &replyTo, Limit: 5},
			wantWhere:   []string{"reply_to_notification_id = $1"},
			wantArgs:    []any{int64(17), 5},
			wantLimitAt: "LIMIT $2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildOutgoingQuery(tt.filter)

			if len(tt.wantWhere) == 0 && strings.Contains(query, "WHERE") {
				t.Errorf("expected no WHERE clause, got %q", query)
			}
			for _, clause := range tt.wantWhere {
				if !strings.Contains(query, clause) {
					t.Errorf("expected %q in query %q", clause, query)
				}
			}
			if !strings.HasSuffix(query, tt.wantLimitAt) {
				t.Errorf("expected query to end with %q, got %q", tt.wantLimitAt, query)
			}
			if !strings.Contains(query, "ORDER BY created_at DESC") {
				t.Errorf("expected newest-first ordering, got %q", query)
			}

			if len(args) != len(tt.wantArgs) {
				t.Fatalf("expected %d args, got %d", len(tt.wantArgs), len(args))
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Errorf("arg %d: expected %v, got %v", i, tt.wantArgs[i], args[i])
				}
			}
		})
	}
}

func TestValidDeliveryStatus(t *testing.T) {
	for _, s := range []string{DeliveryPending, DeliveryDelivered, DeliveryFailed} {
		if !ValidDeliveryStatus(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range []string{"", "sent", "PENDING"} {
		if ValidDeliveryStatus(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}
