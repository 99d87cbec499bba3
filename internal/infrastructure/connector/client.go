// Package connector talks to compliance provider connectors over HTTP.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance"
)

const maxResponseBytes = 4 << 20

// Config tunes retries for connector calls. Per-call deadlines come from the caller's context.
type Config struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client implements compliance.ConnectorClient.
type Client struct {
	http   *retryablehttp.Client
	logger zerolog.Logger
}

// NewClient creates a connector client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	logger = logger.With().Str("component", "connector_client").Logger()
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.Logger = leveledLogger{logger}
	return &Client{http: rc, logger: logger}
}

type complianceResponse struct {
	Status compliance.Status       `json:"status"`
	Rules  []compliance.RuleResult `json:"rules"`
}

// QueryCompliance posts the request to the connector's compliance endpoint for ref.Kind.
func (c *Client) QueryCompliance(ctx context.Context, ref compliance.ConnectorRef, req *compliance.Request) ([]compliance.RuleResult, error) {
	endpoint, err := complianceURL(ref)
	if err != nil {
		return nil, apperr.Connector(err, "connector %s", ref.UUID)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, apperr.Connector(err, "connector %s", ref.UUID)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperr.Connector(err, "connector %s unreachable", ref.UUID)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperr.Connector(err, "connector %s", ref.UUID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Connector(nil, "connector %s returned %d: %s", ref.UUID, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out complianceResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperr.Connector(err, "connector %s returned malformed body", ref.UUID)
	}
	c.logger.Debug().
		Str("connector_uuid", ref.UUID.String()).
		Int("rules", len(out.Rules)).
		Msg("compliance query completed")
	return out.Rules, nil
}

func complianceURL(ref compliance.ConnectorRef) (string, error) {
	if ref.URL == "" {
		return "", fmt.Errorf("connector url is empty")
	}
	base, err := url.Parse(ref.URL)
	if err != nil {
		return "", err
	}
	kind := string(ref.Kind)
	if kind == "" {
		kind = "default"
	}
	return base.JoinPath("v1", "complianceProvider", kind, "compliance").String(), nil
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log(l.logger.Error(), msg, kv) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log(l.logger.Warn(), msg, kv) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log(l.logger.Debug(), msg, kv) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log(l.logger.Trace(), msg, kv) }

func (l leveledLogger) log(ev *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
