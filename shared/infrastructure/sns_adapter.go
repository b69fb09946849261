package infrastructure

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/shared/events"
)

// SNSPublisherAdapter exposes SNSEventPublisher through the
// events.Publisher interface
type SNSPublisherAdapter struct {
	publisher *SNSEventPublisher
}

// NewSNSPublisherAdapter builds a publisher for the given topic. The
// default AWS config chain is honored, which covers LocalStack via the
// AWS_ENDPOINT_URL variables.
func NewSNSPublisherAdapter(topicArn string) (*SNSPublisherAdapter, error) {
	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &SNSPublisherAdapter{
		publisher: NewSNSEventPublisher(sns.NewFromConfig(cfg), topicArn),
	}, nil
}

func (p *SNSPublisherAdapter) Publish(ctx context.Context, evts ...*events.Event) error {
	return p.publisher.Publish(ctx, evts...)
}

// Close satisfies the lifecycle the service expects of its transports;
// the SNS client holds no connection to tear down
func (p *SNSPublisherAdapter) Close() error {
	return nil
}
