package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

// FakeCheckout is a dev/demo gateway that generates an internal URL and lets
// the user "complete" the advance without Stripe credentials.
//
// This MUST be gated by configuration (ALLOW_FAKE_PAYMENTS) and should never be
// enabled in production.
type FakeCheckout struct {
	publicBaseURL string
	logger        *logging.Logger

	mu        sync.Mutex
	requests  map[string]Request
	cancelled map[string]bool

	// CreateHook and CancelHook inject failures in tests.
	CreateHook func(req Request) error
	CancelHook func(ref string) error
}

func NewFakeCheckout(publicBaseURL string, logger *logging.Logger) *FakeCheckout {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeCheckout{
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		logger:        logger,
		requests:      make(map[string]Request),
		cancelled:     make(map[string]bool),
	}
}

func (s *FakeCheckout) CreatePaymentRequest(ctx context.Context, req Request) (*Link, error) {
	if req.CorrelationKey == "" {
		return nil, fmt.Errorf("payments: fake checkout requires correlation key")
	}
	if s.publicBaseURL == "" {
		return nil, fmt.Errorf("payments: fake checkout requires PUBLIC_BASE_URL")
	}
	if !isValidBaseURL(s.publicBaseURL) {
		return nil, fmt.Errorf("payments: fake checkout PUBLIC_BASE_URL must be an absolute http(s) URL")
	}
	if s.CreateHook != nil {
		if err := s.CreateHook(req); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.requests[req.CorrelationKey] = req
	s.mu.Unlock()

	expires := req.ExpiresAt
	if expires.IsZero() {
		expires = time.Now().Add(24 * time.Hour).UTC()
	}
	return &Link{
		URL:       fmt.Sprintf("%s/payments/fake/%s", s.publicBaseURL, url.PathEscape(req.CorrelationKey)),
		Ref:       "fake:" + req.CorrelationKey,
		ExpiresAt: expires,
	}, nil
}

func (s *FakeCheckout) CancelPaymentRequest(ctx context.Context, ref string) error {
	if s.CancelHook != nil {
		if err := s.CancelHook(ref); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[ref] = true
	return nil
}

// Lookup returns the request issued for key.
func (s *FakeCheckout) Lookup(key string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[key]
	return req, ok
}

// Cancelled reports whether ref was cancelled.
func (s *FakeCheckout) Cancelled(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[ref]
}

// Issued counts payment requests created so far.
func (s *FakeCheckout) Issued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func isValidBaseURL(value string) bool {
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}
