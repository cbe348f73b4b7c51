package utils

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Embedded automation templates. These are deliberately minimal: the
// automation engine only hands over a template reference and variables,
// it never composes content itself.
var automationTemplates = map[string]string{
	"welcome": `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Welcome to SharePlate, {{.display_name}}!</h2>
    <p>Your neighbourhood is already sharing. Post your first listing or browse what's available near you.</p>
</body>
</html>`,

	"tips": `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Getting the most out of SharePlate</h2>
    <p>Hi {{.display_name}}, a few tips from the community: photograph your food in daylight, list pickup windows, and reply fast in chat.</p>
</body>
</html>`,

	"first_listing": `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Your listing is live!</h2>
    <p>Nice one, {{.display_name}}. We'll let you know as soon as someone nearby is interested.</p>
</body>
</html>`,

	"inactivity": `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>We miss you, {{.display_name}}</h2>
    <p>There are fresh listings in your area. Come take a look before they're gone.</p>
</body>
</html>`,
}

// SMTPMailer delivers automation emails over SMTP. It satisfies
// automation.Mailer.
type SMTPMailer struct {
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
}

func NewSMTPMailer(host, port, username, password, fromEmail, fromName string) (*SMTPMailer, error) {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP port %q: %w", port, err)
	}
	return &SMTPMailer{
		dialer:    gomail.NewDialer(host, portNum, username, password),
		fromEmail: fromEmail,
		fromName:  fromName,
	}, nil
}

// Send renders the named template with vars and delivers it. Returns the
// message id stamped on the outgoing mail.
func (m *SMTPMailer) Send(templateRef, subject, recipient string, vars map[string]interface{}) (string, error) {
	body, ok := automationTemplates[templateRef]
	if !ok {
		return "", fmt.Errorf("unknown email template %q", templateRef)
	}

	tmpl, err := template.New(templateRef).Parse(body)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", templateRef, err)
	}
	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, vars); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", templateRef, err)
	}

	messageID := uuid.New().String()
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.fromEmail, m.fromName)
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", subject)
	msg.SetHeader("X-Entity-Ref-ID", messageID)
	msg.SetBody("text/html", rendered.String())

	if err := m.dialer.DialAndSend(msg); err != nil {
		return "", fmt.Errorf("sending to %s: %w", recipient, err)
	}
	return messageID, nil
}
