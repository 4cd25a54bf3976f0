package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/apperr"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/metrics"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/services"
)

const serviceName = "routing-provider"

// Client - HTTP-адаптер внешнего провайдера маршрутов.
// Любой сбой провайдера или не-OK ответ превращается в ExternalServiceError:
// с точки зрения конвейера это временная ошибка, пригодная для повтора.
// Безопасен для конкурентного использования
type Client struct {
	session *http.Client
	baseURL string
	apiKey  string
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewClient создает клиент провайдера маршрутов с таймаутом из конфигурации
func NewClient(cfg *config.RoutingConfig, m *metrics.Metrics, log *logger.Logger) *Client {
	return &Client{
		session: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		metrics: m,
		log:     log,
	}
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Code, e.Body)
}

// Route запрашивает у провайдера маршрут по упорядоченному списку точек
func (c *Client) Route(ctx context.Context, req *services.RouteProviderRequest) (*services.RouteProviderResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provider request: %w", err)
	}

	started := time.Now()
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, body)
	})
	c.metrics.ProviderDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		c.metrics.ProviderRequests.WithLabelValues("error").Inc()
		return nil, apperr.NewExternal(serviceName, "route request failed", err)
	}
	defer resp.Body.Close()

	var result services.RouteProviderResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.metrics.ProviderRequests.WithLabelValues("error").Inc()
		return nil, apperr.NewExternal(serviceName, "failed to decode route response", err)
	}

	c.metrics.ProviderRequests.WithLabelValues("ok").Inc()
	return &result, nil
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/route", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create provider request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.session.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &httpStatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(b)),
		}
	}
	return resp, nil
}

// doWithRetry повторяет временные сбои (сетевые ошибки, 429, 5xx)
// с удвоением задержки, уважая отмену контекста
func (c *Client) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, err
		}

		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case http.StatusTooManyRequests,
				http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout:
				retry = true
			}
		}

		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}

		if !retry || attempt == maxAttempts {
			return nil, lastErr
		}

		c.log.WithError(err).WithField("attempt", attempt).Warn("Provider call failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
	}

	return nil, lastErr
}
