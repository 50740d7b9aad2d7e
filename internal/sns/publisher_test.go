package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/lalithlochan/ldninbox/internal/events"
)

type fakeClient struct {
	err   error
	input *sns.PublishInput
}

func (f *fakeClient) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestPublisher_Publish(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisherWithClient(client, "arn:aws:sns:us-east-1:000000000000:ldn-events")

	err := p.Publish(context.Background(), events.Event{
		Type:            events.TypeNotificationAccepted,
		NotificationID:  12,
		InboxID:         3,
		NotificationIRI: "https://x.test/notification?id=12",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := aws.ToString(client.input.TopicArn); got != "arn:aws:sns:us-east-1:000000000000:ldn-events" {
		t.Errorf("unexpected topic %q", got)
	}
	attr, ok := client.input.MessageAttributes["event_type"]
	if !ok || aws.ToString(attr.StringValue) != events.TypeNotificationAccepted {
		t.Errorf("expected event_type attribute, got %+v", client.input.MessageAttributes)
	}

	var decoded events.Event
	if err := json.Unmarshal([]byte(aws.ToString(client.input.Message)), &decoded); err != nil {
		t.Fatalf("message is not an event: %v", err)
	}
	if decoded.NotificationID != 12 || decoded.InboxID != 3 {
		t.Errorf("unexpected decoded event %+v", decoded)
	}
}

func TestPublisher_PublishError(t *testing.T) {
	p := NewPublisherWithClient(&fakeClient{err: errors.New("throttled")}, "arn")

	if err := p.Publish(context.Background(), events.Event{Type: events.TypeDeliveryCompleted}); err == nil {
		t.Fatal("expected error")
	}
}
