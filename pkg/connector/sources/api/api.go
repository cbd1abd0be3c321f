// Package api implements the one-shot HTTP poll source. Each Read issues a
// GET against the configured endpoint and decodes the body with the record
// type's codec.
package api

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/gbPagano/courier/pkg/clients"
	"github.com/gbPagano/courier/pkg/config"
	"github.com/gbPagano/courier/pkg/connector/core"
	"github.com/gbPagano/courier/pkg/connector/registry"
	"github.com/gbPagano/courier/pkg/errors"
	"github.com/gbPagano/courier/pkg/logger"
	"github.com/gbPagano/courier/pkg/record"
	"go.uber.org/zap"
)

// Tag is the reader type tag this connector registers under.
const Tag = "api"

// maxBodySize caps how much of a response body is buffered for decoding.
// Larger bodies are rejected rather than truncated.
var maxBodySize int64 = 64 << 20

// Config configures a Reader.
type Config struct {
	Endpoint string
	// Timeout bounds a whole request. Zero keeps the client default.
	Timeout time.Duration
	Headers map[string]string
}

// Reader polls an HTTP endpoint for one record per call.
type Reader[T any] struct {
	endpoint string
	headers  map[string]string
	codec    record.Codec[T]
	client   *clients.HTTPClient
	logger   *zap.Logger
}

// New creates a Reader. It performs no I/O.
func New[T any](cfg Config, codec record.Codec[T], log *zap.Logger) (*Reader[T], error) {
	if err := validateEndpoint(cfg.Endpoint); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Get()
	}

	httpCfg := clients.DefaultHTTPConfig()
	if cfg.Timeout > 0 {
		httpCfg.RequestTimeout = cfg.Timeout
	}

	return &Reader[T]{
		endpoint: cfg.Endpoint,
		headers:  cfg.Headers,
		codec:    codec,
		client:   clients.NewHTTPClient(httpCfg, log),
		logger:   log.With(zap.String("component", "api_reader"), zap.String("endpoint", cfg.Endpoint)),
	}, nil
}

// Read fetches and decodes the endpoint's current payload.
func (r *Reader[T]) Read(ctx context.Context) (T, error) {
	var zero T

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return zero, errors.Wrap(err, errors.ErrorTypeRequest, fmt.Sprintf("build request for %s", r.endpoint))
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		errType := categorize(err)
		return zero, errors.Wrap(err, errType, fmt.Sprintf("GET %s failed", r.endpoint))
	}
	defer resp.Body.Close()

	r.logger.Debug("response received", zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return zero, errors.Newf(errors.ErrorTypeHTTPStatus, "HTTP error: %s", resp.Status).
			WithDetail("status", resp.StatusCode).
			WithDetail("endpoint", r.endpoint)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return zero, errors.Wrap(err, categorize(err), fmt.Sprintf("read body from %s", r.endpoint))
	}
	if int64(len(body)) > maxBodySize {
		return zero, errors.Newf(errors.ErrorTypeData, "response body from %s exceeds %d bytes", r.endpoint, maxBodySize).
			WithDetail("endpoint", r.endpoint)
	}

	v, err := r.codec.Decode(body)
	if err != nil {
		return zero, errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("failed to parse payload from %s", r.endpoint))
	}

	r.logger.Debug("successfully retrieved data", zap.Int("bytes", len(body)))
	return v, nil
}

// Close releases idle connections.
func (r *Reader[T]) Close() error {
	stats := r.client.GetStats()
	r.logger.Debug("closing api reader",
		zap.Int64("requests", stats.TotalRequests),
		zap.Int64("failed_requests", stats.FailedRequests))
	return r.client.Close()
}

// categorize maps a transport failure to an error category.
func categorize(err error) errors.ErrorType {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.ErrorTypeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.ErrorTypeTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errors.ErrorTypeUnknown
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return errors.ErrorTypeConnection
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return errors.ErrorTypeConnection
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var inner net.Error
		if !errors.As(urlErr.Err, &inner) {
			return errors.ErrorTypeRequest
		}
	}

	return errors.ErrorTypeUnknown
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New(errors.ErrorTypeValidation, "endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("invalid endpoint %q", endpoint))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf(errors.ErrorTypeValidation, "endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return errors.Newf(errors.ErrorTypeValidation, "endpoint %q: host is required", endpoint)
	}
	return nil
}

func init() {
	err := registry.RegisterSource(Tag, registry.SourceFactory{
		Description: "poll an HTTP endpoint with GET once per cycle",
		Validate: func(spec *config.ReaderSpec) error {
			return validateEndpoint(spec.Target())
		},
		Reader: func(ctx context.Context, spec *config.ReaderSpec, rt *record.Type) (core.Reader[any], error) {
			r, err := New(Config{
				Endpoint: spec.Target(),
				Timeout:  time.Duration(spec.TimeoutSecs) * time.Second,
			}, rt.Codec(), logger.Get())
			if err != nil {
				return nil, err
			}
			return r, nil
		},
	})
	if err != nil {
		panic(err)
	}
}
