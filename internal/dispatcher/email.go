package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sulthonmb/greeting-app/internal/circuitbreaker"
)

// SendEmailPath is appended to the email service base URL.
const SendEmailPath = "/send-email"

const defaultEmailTimeout = 10 * time.Second

// HTTPEmailSender posts {"email","message"} to the email service. Any 2xx
// response counts as sent.
type HTTPEmailSender struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
	breaker  *circuitbreaker.CircuitBreaker // optional
}

func NewHTTPEmailSender(baseURL string, timeout time.Duration) *HTTPEmailSender {
	if timeout <= 0 {
		timeout = defaultEmailTimeout
	}
	return &HTTPEmailSender{
		client:   &http.Client{},
		endpoint: strings.TrimRight(baseURL, "/") + SendEmailPath,
		timeout:  timeout,
	}
}

// WithCircuitBreaker short-circuits sends while the endpoint's circuit is open.
func (s *HTTPEmailSender) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *HTTPEmailSender {
	s.breaker = cb
	return s
}

func (s *HTTPEmailSender) Endpoint() string { return s.endpoint }

// Send posts one email. Headers: Content-Type, X-Correlation-ID.
func (s *HTTPEmailSender) Send(ctx context.Context, req EmailRequest) EmailResult {
	start := time.Now()

	if s.breaker != nil {
		if err := s.breaker.Allow(s.endpoint); err != nil {
			return EmailResult{Error: err, Duration: time.Since(start)}
		}
	}

	result := s.post(ctx, req, start)

	if s.breaker != nil {
		if isTransportFault(result) {
			s.breaker.RecordFailure(s.endpoint)
		} else {
			s.breaker.RecordSuccess(s.endpoint)
		}
	}
	return result
}

func (s *HTTPEmailSender) post(ctx context.Context, req EmailRequest, start time.Time) EmailResult {
	body, err := json.Marshal(req)
	if err != nil {
		return EmailResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return EmailResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return EmailResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return EmailResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

// isTransportFault reports failures that say the service is unhealthy
// rather than that it rejected this one request.
func isTransportFault(r EmailResult) bool {
	if r.Error != nil {
		return true
	}
	return r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500
}
