package db

import (
	"errors"
	"time"

	"github.com/lalithlochan/ldninbox/internal/acl"
)

var (
	// ErrNotFound is returned when a lookup matches no visible row
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert violates a unique constraint
	ErrConflict = errors.New("already exists")
)

// Inbox is an LDN inbox owned by a local user
type Inbox struct {
	CreatedAt   time.Time `json:"created_at"`
	ResourceIRI *string   `json:"resource_iri,omitempty"`
	InboxIRI    string    `json:"inbox_iri"`
	Visibility  string    `json:"visibility"`
	ID          int64     `json:"id"`
	OwnerUserID int64     `json:"owner_user_id"`
	IsPrimary   bool      `json:"is_primary"`
}

// Visibility constants. Visibility is informational; access is decided by ACL rules.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// ACLRule is a stored access control entry
type ACLRule struct {
	CreatedAt time.Time     `json:"created_at"`
	RuleType  acl.RuleType  `json:"rule_type"`
	MatchKind acl.MatchKind `json:"match_kind"`
	Value     string        `json:"match_value"`
	ID        int64         `json:"id"`
	InboxID   int64         `json:"inbox_id"`
}

// Rule converts the stored entry to its evaluation form
func (r ACLRule) Rule() acl.Rule {
	return acl.Rule{ID: r.ID, Type: r.RuleType, Kind: r.MatchKind, Value: r.Value}
}

// Notification is an inbound notification accepted into an inbox
type Notification struct {
	ReceivedAt      time.Time `json:"received_at"`
	SenderID        *int64    `json:"sender_id,omitempty"`
	AsType          *string   `json:"type"`
	AsObjectIRI     *string   `json:"object"`
	AsTargetIRI     *string   `json:"target"`
	CorrToken       *string   `json:"corr_token,omitempty"`
	NotificationIRI *string   `json:"iri"`
	ContentType     string    `json:"content_type"`
	Status          string    `json:"status"`
	Body            []byte    `json:"-"`
	Digest          []byte    `json:"-"`
	ID              int64     `json:"id"`
	InboxID         int64     `json:"inbox_id"`
}

// Notification status constants. Only accepted notifications are ever read back.
const (
	NotificationAccepted = "accepted"
	NotificationRejected = "rejected"
	NotificationDeleted  = "deleted"
)

// HTTPMeta is the audit record of the request that delivered a notification
type HTTPMeta struct {
	Method         string
	UserAgent      string
	Host           string
	Signature      string
	OriginIP       []byte
	NotificationID int64
	StatusCode     int
}

// OutgoingNotification is a notification this system sends to another inbox
type OutgoingNotification struct {
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
	FromUserID            *int64    `json:"from_user_id,omitempty"`
	AsType                *string   `json:"as_type,omitempty"`
	CorrToken             *string   `json:"corr_token,omitempty"`
	ReplyToNotificationID *int64    `json:"reply_to_notification_id,omitempty"`
	LastError             *string   `json:"last_error,omitempty"`
	ToInboxIRI            string    `json:"to_inbox_iri"`
	ContentType           string    `json:"content_type"`
	DeliveryStatus        string    `json:"delivery_status"`
	Body                  []byte    `json:"-"`
	ID                    int64     `json:"id"`
}

// Delivery status constants
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// ValidDeliveryStatus reports whether s names a delivery status
func ValidDeliveryStatus(s string) bool {
	switch s {
	case DeliveryPending, DeliveryDelivered, DeliveryFailed:
		return true
	default:
		return false
	}
}

// DeliveryAttempt records the response to one delivery of an outgoing notification
type DeliveryAttempt struct {
	CreatedAt              time.Time `json:"created_at"`
	ResponseStatus         *int      `json:"response_status"`
	ResponseHeaders        *string   `json:"response_headers"`
	ResponseBody           []byte    `json:"-"`
	ID                     int64     `json:"id"`
	OutgoingNotificationID int64     `json:"outgoing_notification_id"`
	AttemptNo              int       `json:"attempt_no"`
}

// OutgoingFilter narrows ListOutgoing
type OutgoingFilter struct {
	Status                string
	ReplyToNotificationID *int64
	Limit                 int
}

// Origin is the singleton description of this system
type Origin struct {
	UpdatedAt time.Time `json:"updated_at"`
	IRI       string    `json:"iri"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
}
