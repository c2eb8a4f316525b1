package payments

import (
	"context"
	"fmt"
	"net/url"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/models"
)

// OmiseConfig configures the Omise gateway.
type OmiseConfig struct {
	PublicKey   string
	SecretKey   string
	SourceType  string
	CallbackURL string
}

// OmiseGateway opens redirect-based Omise charges. The tracking id is the charge id.
type OmiseGateway struct {
	client *omise.Client
	cfg    OmiseConfig
	logger *zap.Logger
}

// NewOmiseGateway creates an Omise client.
func NewOmiseGateway(cfg OmiseConfig, logger *zap.Logger) (*OmiseGateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := omise.NewClient(cfg.PublicKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	return &OmiseGateway{client: client, cfg: cfg, logger: logger}, nil
}

// call runs an omise operation. The SDK has no context support, so a cancelled ctx
// returns early and the late result is discarded.
func call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Initiate creates a source and a charge against it, returning the authorize URI.
func (g *OmiseGateway) Initiate(ctx context.Context, o Order) (*models.PaymentIntent, error) {
	src := &omise.Source{}
	err := call(ctx, func() error {
		return g.client.Do(src, &operations.CreateSource{
			Type:     g.cfg.SourceType,
			Amount:   o.AmountCents,
			Currency: o.Currency,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create source: %v", ErrInitiationFailed, err)
	}

	returnURI, err := returnURL(g.cfg.CallbackURL, o.MerchantReference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitiationFailed, err)
	}
	ch := &omise.Charge{}
	err = call(ctx, func() error {
		return g.client.Do(ch, &operations.CreateCharge{
			Amount:      o.AmountCents,
			Currency:    o.Currency,
			Source:      src.ID,
			ReturnURI:   returnURI,
			Description: o.Description,
			Metadata:    map[string]interface{}{"merchant_reference": o.MerchantReference, "email": o.Email},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create charge: %v", ErrInitiationFailed, err)
	}
	if ch.AuthorizeURI == "" && omiseStatus(string(ch.Status)) != models.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: charge %s has no authorize uri", ErrInitiationFailed, ch.ID)
	}
	g.logger.Info("omise charge created",
		zap.String("merchant_reference", o.MerchantReference),
		zap.String("charge_id", ch.ID),
		zap.String("status", string(ch.Status)),
	)
	return &models.PaymentIntent{
		RedirectURL:       ch.AuthorizeURI,
		OrderTrackingID:   ch.ID,
		MerchantReference: o.MerchantReference,
		AmountCents:       o.AmountCents,
		Currency:          o.Currency,
	}, nil
}

// Status retrieves the charge.
func (g *OmiseGateway) Status(ctx context.Context, trackingID string) (models.PaymentStatus, error) {
	ch := &omise.Charge{}
	if err := call(ctx, func() error {
		return g.client.Do(ch, &operations.RetrieveCharge{ChargeID: trackingID})
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return omiseStatus(string(ch.Status)), nil
}

// returnURL adds the merchant reference to the callback, keeping any query it already has.
func returnURL(callback, merchantRef string) (string, error) {
	u, err := url.Parse(callback)
	if err != nil {
		return "", fmt.Errorf("callback url: %w", err)
	}
	q := u.Query()
	q.Set("merchant_reference", merchantRef)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func omiseStatus(s string) models.PaymentStatus {
	switch s {
	case "successful":
		return models.PaymentStatusCompleted
	case "failed", "expired", "reversed":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}
