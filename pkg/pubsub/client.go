package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/marketpay-backend/pkg/config"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("at least one pubsub topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client is the outbox publisher's handle on Pub/Sub. It owns one
// publisher per topic so batching settings apply across calls, and stops
// them all on Close so buffered messages are flushed.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects and fails fast when a configured topic is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	raw, err := pubsub.NewClient(ctx, project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client for %s: %w", project, err)
	}
	c := &Client{client: raw, projectID: project, cfg: cfg, publishers: map[string]*pubsub.Publisher{}}
	if err := c.ensureTopics(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"project": project, "topics": topicNames(cfg)}), "pubsub client ready")
	}
	return c, nil
}

// clientOptions prefers inline credentials over a key file; with neither the
// client falls back to application default credentials.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// ensureTopics looks every configured topic up in parallel.
func (c *Client) ensureTopics(ctx context.Context) error {
	names := topicNames(c.cfg)
	if len(names) == 0 {
		return errNoTopics
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			_, err := c.client.TopicAdminClient.GetTopic(gctx, &pubsubpb.GetTopicRequest{Topic: resourceName(c.projectID, "topics", name)})
			switch {
			case err == nil:
				return nil
			case status.Code(err) == codes.NotFound:
				return fmt.Errorf("topic %q does not exist in %s", name, c.projectID)
			default:
				return fmt.Errorf("look up topic %q: %w", name, err)
			}
		})
	}
	return g.Wait()
}

func topicNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, name := range []string{cfg.OrdersTopic, cfg.PaymentsTopic} {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Publisher returns the cached publisher for a topic ID or full resource
// name, creating it on first use.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, "topics", name)
	if full == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[full]; ok {
		return p
	}
	p := c.client.Publisher(full)
	if c.cfg.BatchCount > 0 {
		p.PublishSettings.CountThreshold = c.cfg.BatchCount
	}
	if c.cfg.BatchDelay > 0 {
		p.PublishSettings.DelayThreshold = c.cfg.BatchDelay
	}
	c.publishers[full] = p
	return p
}

// Ping re-checks that the configured topics are reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.ensureTopics(ctx)
}

// Close flushes and stops every publisher, then closes the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for full, p := range c.publishers {
		p.Stop()
		delete(c.publishers, full)
	}
	c.mu.Unlock()
	return c.client.Close()
}

// resourceName expands a bare ID into projects/<p>/<kind>/<id>; full names
// pass through.
func resourceName(projectID, kind, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/"):
		return name
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/" + kind + "/" + name
}
