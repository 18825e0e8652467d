package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const resendDefaultBaseURL = "https://api.resend.com"

// Sender sends transactional email.
type Sender interface {
	SendPurchaseConfirmation(ctx context.Context, email, name, planType string) error
	SendHeadshotsReady(ctx context.Context, email, name string) error
}

// ResendSender implements Sender over the Resend REST API.
type ResendSender struct {
	client  *http.Client
	baseURL string
	apiKey  string
	from    string
	logger  *zap.Logger
}

// NewResendSender creates a new Resend email sender.
func NewResendSender(apiKey, from string, logger *zap.Logger) *ResendSender {
	return &ResendSender{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: resendDefaultBaseURL,
		apiKey:  apiKey,
		from:    from,
		logger:  logger,
	}
}

type resendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendEmailResponse struct {
	ID string `json:"id"`
}

// SendPurchaseConfirmation thanks the user for a completed purchase.
func (s *ResendSender) SendPurchaseConfirmation(ctx context.Context, email, name, planType string) error {
	subject := "Your coolpix.me order is confirmed"
	html := fmt.Sprintf(
		"<p>Hi %s,</p><p>Thanks for your purchase! Your <strong>%s</strong> plan is active. Upload your selfies and we'll get your headshots started.</p>",
		name, planType,
	)
	return s.send(ctx, email, subject, html)
}

// SendHeadshotsReady tells the user their generated headshots are done.
func (s *ResendSender) SendHeadshotsReady(ctx context.Context, email, name string) error {
	subject := "Your headshots are ready"
	html := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your AI headshots are ready. Log in to view and download them.</p>",
		name,
	)
	return s.send(ctx, email, subject, html)
}

func (s *ResendSender) send(ctx context.Context, to, subject, html string) error {
	body, err := json.Marshal(resendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resend returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var sent resendEmailResponse
	if err := json.Unmarshal(respBody, &sent); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	s.logger.Info("email sent",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("email_id", sent.ID),
	)
	return nil
}

// NopSender discards all email. Used when email delivery is disabled.
type NopSender struct{}

func (NopSender) SendPurchaseConfirmation(context.Context, string, string, string) error { return nil }

func (NopSender) SendHeadshotsReady(context.Context, string, string) error { return nil }

// Compile-time interface assertions
var (
	_ Sender = (*ResendSender)(nil)
	_ Sender = NopSender{}
)
