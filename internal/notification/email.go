package notification

import (
	"bytes"
	"fmt"
	"net/smtp"
	"text/template"
	"time"

	"github.com/weatherhub/weatherhub/internal/protocol"
	"github.com/weatherhub/weatherhub/pkg/config"
)

// EmailNotifier sends email notifications for alert activations
type EmailNotifier struct {
	config *config.SMTPConfig
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{config: cfg}
}

var activationTmpl = template.Must(template.New("activation").Parse(`
Weather Alert Activated
=======================

Location: {{.LocationName}} (id {{.LocationID}})
Metric: {{.Metric}}{{if .Unit}} ({{.Unit}}){{end}}
Condition: {{.Operator}} {{.Threshold}}
Observed Value: {{.ObservedValue}}
Observation Time: {{.Ts}}
Rule ID: {{.RuleID}}

Description:
The {{.Metric}} at {{.LocationName}} met the alert condition
({{.Operator}} {{.Threshold}}). The observed value was {{.ObservedValue}}.

---
WeatherHub Notification Service
`))

// SendActivation sends an email for an alert activation event
func (e *EmailNotifier) SendActivation(event *protocol.ActivationEvent) error {
	subject := fmt.Sprintf("Weather Alert - %s %s %s %g",
		event.LocationName, event.Metric, event.Operator, event.Threshold)

	var buf bytes.Buffer
	if err := activationTmpl.Execute(&buf, event); err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return e.sendEmail(subject, buf.String())
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		fmt.Printf("SMTP not configured, skipping email:\nSubject: %s\n%s\n", subject, body)
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := smtp.SendMail(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	fmt.Printf("Email sent successfully: %s\n", subject)
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	fmt.Println("SMTP connection test successful")
	return nil
}
