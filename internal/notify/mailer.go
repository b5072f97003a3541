package notify

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"strings"
	"time"

	"leadhub_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// Mailer sends the assignment email to the configured notification inbox.
// Per-assignee delivery is the notifier collaborator's job; the email is the
// organization-wide audit trail.
type Mailer struct {
	host          string
	port          int
	username      string
	password      string
	fromName      string
	fromEmail     string
	notifyAddress string
}

// NewMailer creates a mailer from config. Returns nil when email is disabled.
func NewMailer(cfg config.EmailConfig) *Mailer {
	if !cfg.GetEmailEnabled() {
		return nil
	}
	return &Mailer{
		host:          cfg.GetSMTPHost(),
		port:          cfg.GetSMTPPort(),
		username:      cfg.GetSMTPUsername(),
		password:      cfg.GetSMTPPassword(),
		fromName:      cfg.GetEmailFromName(),
		fromEmail:     cfg.GetEmailFromAddress(),
		notifyAddress: cfg.GetEmailNotifyAddress(),
	}
}

var assignmentTemplate = template.Must(template.New("assignment").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2933;">
	<h2>New lead assigned</h2>
	<p><strong>{{.LeadSummary}}</strong> was assigned via <em>{{.UnitKey}}</em>.</p>
	<p>Assignee: {{.AssignedTo}}</p>
	<p>Lead id: {{.LeadID}}</p>
</body>
</html>`))

// SendAssignmentEmail delivers one assignment notification.
func (m *Mailer) SendAssignmentEmail(ctx context.Context, notification AssignmentNotification) error {
	var body strings.Builder
	if err := assignmentTemplate.Execute(&body, notification); err != nil {
		return fmt.Errorf("render assignment email: %w", err)
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(m.fromName, m.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(m.notifyAddress); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(fmt.Sprintf("New lead assigned: %s", notification.LeadSummary))
	msg.SetBodyString(gomail.TypeTextHTML, body.String())

	client, err := gomail.NewClient(m.host,
		gomail.WithPort(m.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.username),
		gomail.WithPassword(m.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
