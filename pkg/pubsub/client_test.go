package pubsub

import (
	"errors"
	"testing"

	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "mg-prod"}

	cases := []struct {
		kind, in, want string
	}{
		{kindSubscription, "ingest-sub", "projects/mg-prod/subscriptions/ingest-sub"},
		{kindSubscription, "projects/other/subscriptions/ingest-sub", "projects/other/subscriptions/ingest-sub"},
		{kindTopic, " mg-plan-events ", "projects/mg-prod/topics/mg-plan-events"},
		{kindTopic, "projects/other/subscriptions/x", "projects/mg-prod/topics/projects/other/subscriptions/x"},
		{kindTopic, "", ""},
	}
	for _, tc := range cases {
		if got := c.resourceName(tc.kind, tc.in); got != tc.want {
			t.Fatalf("resourceName(%s, %q) = %q, want %q", tc.kind, tc.in, got, tc.want)
		}
	}
}

func TestSubscriptionNamesSkipsBlank(t *testing.T) {
	if names := subscriptionNames(config.PubSubConfig{IngestSubscription: "  "}); len(names) != 0 {
		t.Fatalf("expected no names, got %v", names)
	}
	names := subscriptionNames(config.PubSubConfig{IngestSubscription: "ingest-sub"})
	if len(names) != 1 || names[0] != "ingest-sub" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestUninitializedClient(t *testing.T) {
	var c *Client
	if _, err := c.IngestSubscription(); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
	if p := c.Publisher("mg-plan-events"); p != nil {
		t.Fatalf("expected nil publisher")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}

func TestClientOptionsFollowCredentials(t *testing.T) {
	if opts := clientOptions(config.GCPConfig{ProjectID: "p"}); len(opts) != 0 {
		t.Fatalf("expected default credentials, got %d options", len(opts))
	}
	if opts := clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`}); len(opts) != 1 {
		t.Fatalf("expected json credentials option")
	}
	if opts := clientOptions(config.GCPConfig{ApplicationCredentials: "/secrets/sa.json"}); len(opts) != 1 {
		t.Fatalf("expected file credentials option")
	}
}

func TestDescribeLookup(t *testing.T) {
	if err := describeLookup(nil, "topic", "t"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	notFound := describeLookup(status.Error(codes.NotFound, "gone"), "subscription", "ingest-sub")
	if notFound == nil || notFound.Error() != `subscription "ingest-sub" does not exist` {
		t.Fatalf("unexpected not-found error %v", notFound)
	}
	cause := status.Error(codes.Unavailable, "down")
	if err := describeLookup(cause, "topic", "t"); !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}
