package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/models"
)

// Pesapal v3 status codes.
const (
	pesapalInvalid   = 0
	pesapalCompleted = 1
	pesapalFailed    = 2
	pesapalReversed  = 3
)

// PesapalConfig configures the Pesapal v3 client.
type PesapalConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	IPNID          string
	CallbackURL    string
}

// PesapalGateway talks to the Pesapal v3 REST API.
type PesapalGateway struct {
	cfg    PesapalConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewPesapalGateway creates a Pesapal client. client may be nil.
func NewPesapalGateway(cfg PesapalConfig, client *http.Client, logger *zap.Logger) *PesapalGateway {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &PesapalGateway{cfg: cfg, client: client, logger: logger, now: time.Now}
}

type pesapalError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *pesapalError) err() error {
	if e == nil || (e.Code == "" && e.Message == "") {
		return nil
	}
	return fmt.Errorf("pesapal %s: %s", e.Code, e.Message)
}

type tokenResponse struct {
	Token      string        `json:"token"`
	ExpiryDate string        `json:"expiryDate"`
	Error      *pesapalError `json:"error"`
}

type submitOrderRequest struct {
	ID             string         `json:"id"`
	Currency       string         `json:"currency"`
	Amount         float64        `json:"amount"`
	Description    string         `json:"description"`
	CallbackURL    string         `json:"callback_url"`
	NotificationID string         `json:"notification_id"`
	BillingAddress billingAddress `json:"billing_address"`
}

type billingAddress struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

type submitOrderResponse struct {
	OrderTrackingID   string        `json:"order_tracking_id"`
	MerchantReference string        `json:"merchant_reference"`
	RedirectURL       string        `json:"redirect_url"`
	Error             *pesapalError `json:"error"`
}

type transactionStatusResponse struct {
	StatusCode               *int          `json:"status_code"`
	PaymentStatusDescription string        `json:"payment_status_description"`
	MerchantReference        string        `json:"merchant_reference"`
	Error                    *pesapalError `json:"error"`
}

// bearer returns a cached access token, refreshing it a minute before expiry.
func (g *PesapalGateway) bearer(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && g.now().Before(g.expiry.Add(-time.Minute)) {
		return g.token, nil
	}
	var out tokenResponse
	body := map[string]string{"consumer_key": g.cfg.ConsumerKey, "consumer_secret": g.cfg.ConsumerSecret}
	if err := g.do(ctx, http.MethodPost, "/api/Auth/RequestToken", "", body, &out); err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	if err := out.Error.err(); err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("request token: empty token")
	}
	expiry, err := time.Parse(time.RFC3339Nano, out.ExpiryDate)
	if err != nil {
		expiry = g.now().Add(5 * time.Minute)
	}
	g.token, g.expiry = out.Token, expiry
	return g.token, nil
}

func (g *PesapalGateway) do(ctx context.Context, method, path, token string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Initiate submits an order and returns the hosted page URL.
func (g *PesapalGateway) Initiate(ctx context.Context, o Order) (*models.PaymentIntent, error) {
	token, err := g.bearer(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitiationFailed, err)
	}
	req := submitOrderRequest{
		ID:             o.MerchantReference,
		Currency:       o.Currency,
		Amount:         float64(o.AmountCents) / 100,
		Description:    truncate(o.Description, 100),
		CallbackURL:    g.cfg.CallbackURL,
		NotificationID: g.cfg.IPNID,
		BillingAddress: billingAddress{
			EmailAddress: o.Email,
			PhoneNumber:  o.Phone,
			FirstName:    o.FirstName,
			LastName:     o.LastName,
		},
	}
	var out submitOrderResponse
	if err := g.do(ctx, http.MethodPost, "/api/Transactions/SubmitOrderRequest", token, req, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitiationFailed, err)
	}
	if err := out.Error.err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitiationFailed, err)
	}
	if out.OrderTrackingID == "" || out.RedirectURL == "" {
		return nil, fmt.Errorf("%w: incomplete gateway response", ErrInitiationFailed)
	}
	g.logger.Info("pesapal order submitted",
		zap.String("merchant_reference", o.MerchantReference),
		zap.String("order_tracking_id", out.OrderTrackingID),
	)
	return &models.PaymentIntent{
		RedirectURL:       out.RedirectURL,
		OrderTrackingID:   out.OrderTrackingID,
		MerchantReference: o.MerchantReference,
		AmountCents:       o.AmountCents,
		Currency:          o.Currency,
	}, nil
}

// Status looks up a transaction. Anything not yet completed or failed is PENDING.
func (g *PesapalGateway) Status(ctx context.Context, trackingID string) (models.PaymentStatus, error) {
	token, err := g.bearer(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	var out transactionStatusResponse
	path := "/api/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(trackingID)
	if err := g.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if out.StatusCode == nil {
		if err := out.Error.err(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrVerificationFailed, err)
		}
		return models.PaymentStatusPending, nil
	}
	switch *out.StatusCode {
	case pesapalCompleted:
		return models.PaymentStatusCompleted, nil
	case pesapalFailed, pesapalReversed:
		return models.PaymentStatusFailed, nil
	default:
		return models.PaymentStatusPending, nil
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
