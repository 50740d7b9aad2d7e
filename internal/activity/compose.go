package activity

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ContextURI is the ActivityStreams JSON-LD context
	ContextURI = "https://www.w3.org/ns/activitystreams"

	// DefaultType is used when a draft does not name an activity type
	DefaultType = "Announce"

	publishedLayout = "2006-01-02T15:04:05Z"
)

// Origin describes the system an outgoing activity is sent from
type Origin struct {
	IRI  string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type"`
}

// Actor is the party an outgoing activity is attributed to
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Type  string `json:"type,omitempty"`
	Inbox string `json:"inbox,omitempty"`
}

// Draft carries the user-supplied parts of an outgoing activity
type Draft struct {
	Actor         *Actor `json:"actor,omitempty"`
	Type          string `json:"type"`
	Object        string `json:"object"`
	Target        string `json:"target"`
	Summary       string `json:"summary"`
	Content       string `json:"content"`
	CorrelationID string `json:"correlation_id"`
	InReplyTo     string `json:"in_reply_to"`
}

// ErrMissingObject is returned when a draft has no object IRI
var ErrMissingObject = errors.New("object is required")

type composed struct {
	Context       string `json:"@context"`
	ID            string `json:"id"`
	Type          string `json:"type"`
	Origin        Origin `json:"origin"`
	Actor         *Actor `json:"actor,omitempty"`
	Object        string `json:"object"`
	Target        string `json:"target,omitempty"`
	Summary       string `json:"summary,omitempty"`
	Content       string `json:"content,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	InReplyTo     string `json:"inReplyTo,omitempty"`
	Published     string `json:"published"`
}

// Compose renders a draft as an ActivityStreams JSON-LD document. The
// activity id is minted under baseURL with a random UUID.
func Compose(d Draft, origin Origin, baseURL string, now time.Time) ([]byte, error) {
	if strings.TrimSpace(d.Object) == "" {
		return nil, ErrMissingObject
	}

	activityType := strings.TrimSpace(d.Type)
	if activityType == "" {
		activityType = DefaultType
	}

	doc := composed{
		Context:       ContextURI,
		ID:            strings.TrimRight(baseURL, "/") + "/notifications/" + uuid.NewString(),
		Type:          activityType,
		Origin:        origin,
		Object:        d.Object,
		Target:        d.Target,
		Summary:       d.Summary,
		Content:       d.Content,
		CorrelationID: d.CorrelationID,
		InReplyTo:     d.InReplyTo,
		Published:     now.UTC().Format(publishedLayout),
	}
	if d.Actor != nil && d.Actor.ID != "" {
		actor := *d.Actor
		if actor.Type == "" {
			actor.Type = "Person"
		}
		doc.Actor = &actor
	}

	return json.Marshal(doc)
}
