package emr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rslifka/elasticity-sub000/core/canonical"
	"github.com/rslifka/elasticity-sub000/core/signer"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultRegion is used when no region option is given
	DefaultRegion = "us-east-1"
	// DefaultTimeout bounds a single request round trip
	DefaultTimeout = 60 * time.Second

	// ContentTypeV2 is sent with form-encoded legacy requests
	ContentTypeV2 = "application/x-www-form-urlencoded; charset=utf-8"

	targetPrefix = "ElasticMapReduce."
	operationKey = "operation"
)

// SignatureVersion selects the request signing scheme
type SignatureVersion string

const (
	SignatureV2 SignatureVersion = "v2"
	SignatureV4 SignatureVersion = "v4"
)

// ParseSignatureVersion accepts "v2"/"2" and "v4"/"4"
func ParseSignatureVersion(s string) (SignatureVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v2", "2":
		return SignatureV2, nil
	case "v4", "4", "":
		return SignatureV4, nil
	}
	return "", fmt.Errorf("unknown signature version %q", s)
}

// Endpoint describes where and how requests are sent
type Endpoint struct {
	Region  string
	Host    string
	Secure  bool
	Timeout time.Duration
}

// HostForRegion derives the control plane host name for a region
func HostForRegion(region string) string {
	return signer.ServiceName + "." + region + ".amazonaws.com"
}

// URL is the request target; every operation posts to the root path
func (e Endpoint) URL() string {
	scheme := "http"
	if e.Secure {
		scheme = "https"
	}
	return scheme + "://" + e.Host + "/"
}

// Session owns credentials and endpoint state and submits signed requests.
// It performs exactly one HTTP round trip per Submit and never retries.
type Session struct {
	credentials      signer.Credentials
	endpoint         Endpoint
	signatureVersion SignatureVersion
	httpClient       *http.Client
	logger           logrus.FieldLogger
	now              func() time.Time

	regionSet bool
	hostSet   bool
}

// Option configures a Session
type Option func(*Session)

// WithRegion sets the region. An empty region is a configuration error.
func WithRegion(region string) Option {
	return func(s *Session) {
		s.endpoint.Region = region
		s.regionSet = true
	}
}

// WithSecure selects https (the default) or plain http
func WithSecure(secure bool) Option {
	return func(s *Session) { s.endpoint.Secure = secure }
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) { s.endpoint.Timeout = timeout }
}

// WithSignatureVersion selects V2 or V4 signing (default V4)
func WithSignatureVersion(v SignatureVersion) Option {
	return func(s *Session) { s.signatureVersion = v }
}

// WithHost overrides the host derived from the region
func WithHost(host string) Option {
	return func(s *Session) {
		s.endpoint.Host = host
		s.hostSet = true
	}
}

// WithHTTPClient replaces the transport. Its own timeout is kept as-is.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) { s.httpClient = client }
}

// WithLogger routes request tracing to logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithClock overrides the time source used for request timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession creates a session for creds
func NewSession(creds signer.Credentials, opts ...Option) (*Session, error) {
	s := &Session{
		credentials:      creds,
		endpoint:         Endpoint{Region: DefaultRegion, Secure: true, Timeout: DefaultTimeout},
		signatureVersion: SignatureV4,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.regionSet && s.endpoint.Region == "" {
		return nil, ErrMissingRegion
	}
	if s.signatureVersion != SignatureV2 && s.signatureVersion != SignatureV4 {
		return nil, fmt.Errorf("unknown signature version %q", s.signatureVersion)
	}
	if !s.hostSet {
		s.endpoint.Host = HostForRegion(s.endpoint.Region)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: s.endpoint.Timeout}
	}
	if s.logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		s.logger = logger
	}

	return s, nil
}

// Endpoint returns the resolved endpoint
func (s *Session) Endpoint() Endpoint {
	return s.endpoint
}

// Region returns the session region
func (s *Session) Region() string {
	return s.endpoint.Region
}

// SignatureVersion returns the active signing scheme
func (s *Session) SignatureVersion() SignatureVersion {
	return s.signatureVersion
}

// Submit signs params with the active scheme, posts them and returns the raw
// response body. params must carry the operation name under "operation".
func (s *Session) Submit(ctx context.Context, params canonical.Params) ([]byte, error) {
	operation, _ := params[operationKey].(string)
	if operation == "" {
		return nil, ErrMissingOperation
	}

	var (
		req *http.Request
		err error
	)
	switch s.signatureVersion {
	case SignatureV2:
		req, err = s.buildV2Request(ctx, params)
	default:
		req, err = s.buildV4Request(ctx, operation, params)
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	log := s.logger.WithFields(logrus.Fields{
		"operation": operation,
		"host":      s.endpoint.Host,
		"signature": string(s.signatureVersion),
	})

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", operation, err)
	}

	log.WithFields(logrus.Fields{
		"status":  resp.StatusCode,
		"elapsed": time.Since(start),
	}).Debug("request completed")

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, classifyResponse(resp.StatusCode, body)
	}
	return body, nil
}

func (s *Session) buildV4Request(ctx context.Context, operation string, params canonical.Params) (*http.Request, error) {
	body, err := json.Marshal(canonical.FlattenStructural(params.Without(operationKey)))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", operation, err)
	}

	signed := signer.NewV4Request(s.credentials, s.endpoint.Region, s.endpoint.Host, body, s.now())
	for name, values := range signed.Headers() {
		req.Header[name] = values
	}
	req.Header.Set("X-Amz-Target", targetPrefix+operation)
	return req, nil
}

func (s *Session) buildV2Request(ctx context.Context, params canonical.Params) (*http.Request, error) {
	v2 := signer.NewV2Signer(s.credentials, s.endpoint.Host)
	payload := v2.Payload(canonical.FlattenLegacy(params), s.now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint.URL(), strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeV2)
	return req, nil
}
