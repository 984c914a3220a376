// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leadflow/internal/common/config"
	"leadflow/internal/common/logger"
	"leadflow/internal/common/retry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Client wraps the Zeebe gRPC client used by the lead workers.
type Client struct {
	client         zbc.Client
	requestTimeout time.Duration
}

// Connect dials the broker and waits for a topology answer. Transient
// failures are retried under policy; anything else fails fast.
func Connect(ctx context.Context, cfg config.CamundaConfig, policy retry.Policy, log logger.Logger) (*Client, error) {
	if cfg.BrokerAddress == "" {
		return nil, fmt.Errorf("camunda.broker_address is not set")
	}
	requestTimeout := config.GetDuration(cfg.RequestTimeout)
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	var c *Client
	err := retry.WithBackoff(ctx, func(ctx context.Context) error {
		zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
			GatewayAddress:         cfg.BrokerAddress,
			UsePlaintextConnection: true,
		})
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create Zeebe client: %w", err))
		}

		probe := &Client{client: zeebeClient, requestTimeout: requestTimeout}
		if err := probe.HealthCheck(ctx); err != nil {
			zeebeClient.Close()
			if !isRetryableZeebeError(err) {
				return retry.Permanent(err)
			}
			return err
		}
		c = probe
		return nil
	}, policy, log, "Zeebe connection")
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetClient returns the raw Zeebe client for opening job workers.
func (c *Client) GetClient() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// HealthCheck asks the gateway for the cluster topology.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}

// isRetryableZeebeError checks if the error is transient and should be retried.
func isRetryableZeebeError(err error) bool {
	msg := strings.ToLower(err.Error())
	retryablePhrases := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"deadline exceeded",
		"unavailable",
		"unreachable",
		"broken pipe",
	}
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
