package main

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// topicPublisher lets a Pub/Sub publisher satisfy publisher; the concrete
// *PublishResult already has the Get the service waits on.
type topicPublisher func(context.Context, *gcppubsub.Message) *gcppubsub.PublishResult

func (f topicPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return f(ctx, msg)
}

func wrapTopic(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return topicPublisher(p.Publish)
}
