// Package notification sends account emails. Delivery is best-effort: a
// failed welcome email is logged and never fails the login that triggered it.
package notification

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	From     string
}

// WelcomeSender delivers the first-sign-in welcome email.
type WelcomeSender interface {
	SendWelcome(email, displayName string) error
}

// EmailWelcomeSender implements WelcomeSender over SMTP.
type EmailWelcomeSender struct {
	config SMTPConfig
	client *mail.Client
}

const welcomeTextTemplate = `Hi {{.DisplayName}},

Welcome to Tastebook! Your account is ready: start saving recipes and
building grocery lists right away.

— The Tastebook team
`

const welcomeHTMLTemplate = `<p>Hi {{.DisplayName}},</p>
<p>Welcome to <strong>Tastebook</strong>! Your account is ready: start saving
recipes and building grocery lists right away.</p>
<p>— The Tastebook team</p>
`

// NewEmailWelcomeSender creates a WelcomeSender using go-mail.
func NewEmailWelcomeSender(config SMTPConfig) (*EmailWelcomeSender, error) {
	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTimeout(30),
	}

	if config.Username != "" && config.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	if !config.TLS {
		opts = append(opts,
			mail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
			mail.WithTLSPolicy(mail.NoTLS),
		)
	} else {
		opts = append(opts,
			mail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
			mail.WithTLSPolicy(mail.TLSMandatory),
		)
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		slog.Error("Failed to create mail client", "err", err)
		return nil, err
	}

	return &EmailWelcomeSender{config: config, client: client}, nil
}

// SendWelcome sends the welcome email to a newly created account.
func (s *EmailWelcomeSender) SendWelcome(email, displayName string) error {
	if email == "" {
		return fmt.Errorf("welcome email requires a recipient address")
	}

	data := struct{ DisplayName string }{DisplayName: displayName}

	textBody, err := renderTemplate("text", welcomeTextTemplate, data)
	if err != nil {
		return err
	}
	htmlBody, err := renderTemplate("html", welcomeHTMLTemplate, data)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(s.config.From); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(email); err != nil {
		return fmt.Errorf("invalid to address: %w", err)
	}
	msg.Subject("Welcome to Tastebook")
	msg.SetBodyString(mail.TypeTextPlain, textBody)
	msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)

	if err := s.client.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send welcome email: %w", err)
	}

	slog.Info("Welcome email sent", "to", email)
	return nil
}

func renderTemplate(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}
