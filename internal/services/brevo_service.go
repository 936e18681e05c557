package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	brevo "github.com/getbrevo/brevo-go/lib"

	"subscription-api/internal/subscription"
)

// BrevoService sends lifecycle emails through the Brevo transactional API
type BrevoService struct {
	client    *brevo.APIClient
	FromEmail string
	FromName  string
}

// NewBrevoService creates a new Brevo service instance. basePath overrides the
// API endpoint and is empty in production.
func NewBrevoService(apiKey, fromEmail, fromName, basePath string) *BrevoService {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	if basePath != "" {
		cfg.BasePath = basePath
	}
	cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	return &BrevoService{
		client:    brevo.NewAPIClient(cfg),
		FromEmail: fromEmail,
		FromName:  fromName,
	}
}

// lifecycleEmail is the rendered content for one transition.
type lifecycleEmail struct {
	Subject string
	Heading string
	Body    string
}

// renderLifecycleEmail returns false for transitions that do not notify the tenant.
func renderLifecycleEmail(c subscription.Change) (lifecycleEmail, bool) {
	plan, _ := subscription.PlanFor(c.Tier)
	switch c.To {
	case subscription.StatusGrace:
		deadline := "soon"
		if c.GraceEnds != nil {
			deadline = "on " + c.GraceEnds.Format("2 January 2006")
		}
		if c.From == subscription.StatusTrial {
			return lifecycleEmail{
				Subject: fmt.Sprintf("Your %s trial has ended", plan.Name),
				Heading: "Your trial has ended",
				Body:    fmt.Sprintf("We are setting up your %s subscription. Complete your first payment before access is paused %s.", plan.Name, deadline),
			}, true
		}
		return lifecycleEmail{
			Subject: "Action required: payment failed",
			Heading: "We could not process your payment",
			Body:    fmt.Sprintf("Your %s subscription stays available until it is paused %s. Update your payment method or retry the payment to keep access.", plan.Name, deadline),
		}, true
	case subscription.StatusFrozen:
		return lifecycleEmail{
			Subject: "Your subscription has been paused",
			Heading: "Access paused",
			Body:    fmt.Sprintf("Your %s subscription is paused. Your data is kept; make a payment to restore access.", plan.Name),
		}, true
	case subscription.StatusActive:
		if c.From != subscription.StatusGrace && c.From != subscription.StatusFrozen {
			return lifecycleEmail{}, false
		}
		return lifecycleEmail{
			Subject: "Payment received, your subscription is active",
			Heading: "Welcome back",
			Body:    fmt.Sprintf("Thank you. Your %s subscription is active again.", plan.Name),
		}, true
	}
	return lifecycleEmail{}, false
}

// SendLifecycleEmail emails the tenant about a transition. It is a no-op for
// transitions without a template or tenants without a billing email.
func (s *BrevoService) SendLifecycleEmail(ctx context.Context, c subscription.Change) error {
	if c.Email == "" {
		return nil
	}
	mail, ok := renderLifecycleEmail(c)
	if !ok {
		return nil
	}

	htmlContent := fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head>
			<meta charset="UTF-8">
			<title>%s</title>
		</head>
		<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<div style="background-color: #f8f9fa; padding: 30px; border-radius: 10px;">
				<h1 style="color: #333; margin-bottom: 20px;">%s</h1>
				<p style="color: #666; font-size: 16px;">%s</p>
			</div>
		</body>
		</html>
	`, mail.Subject, mail.Heading, mail.Body)

	_, _, err := s.client.TransactionalEmailsApi.SendTransacEmail(ctx, brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  s.FromName,
			Email: s.FromEmail,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: c.Email},
		},
		Subject:     mail.Subject,
		HtmlContent: htmlContent,
		TextContent: mail.Heading + "\n\n" + mail.Body,
	})
	if err != nil {
		return fmt.Errorf("brevo send to tenant %s: %w", c.TenantID, err)
	}
	return nil
}
