package notify

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"net/mail"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/seantiz/servicedg/internal/config"
)

// Sender delivers a composed message. gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier sends notifications over SMTP.
type EmailNotifier struct {
	from   string
	to     []string
	sender Sender
}

// NewEmailNotifier creates an SMTP notifier from cfg.
func NewEmailNotifier(cfg config.EmailConfig) (*EmailNotifier, error) {
	if err := validateEmailConfig(cfg); err != nil {
		return nil, err
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.Port == 465
	return newEmailNotifier(cfg, d), nil
}

func newEmailNotifier(cfg config.EmailConfig, sender Sender) *EmailNotifier {
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = strings.TrimSpace(cfg.Username)
	}
	return &EmailNotifier{from: from, to: cfg.To, sender: sender}
}

func validateEmailConfig(cfg config.EmailConfig) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return errors.New("smtp host is required")
	}
	if len(cfg.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	for _, addr := range cfg.To {
		if _, err := mail.ParseAddress(addr); err != nil {
			return errors.New("invalid recipient " + addr)
		}
	}
	return nil
}

var emailHTMLTpl = template.Must(template.New("email").Parse(`<!doctype html>
<html lang="en">
  <head><meta charset="utf-8" /><title>{{ .Title }}</title></head>
  <body style="margin:0;padding:24px;background:#f6f8fb;font-family:-apple-system,'Segoe UI',Roboto,Arial,sans-serif;">
    <div style="max-width:640px;margin:0 auto;background:#ffffff;border:1px solid #e6e8ef;border-radius:12px;">
      <div style="padding:16px 20px;background:#1f2937;color:#ffffff;font-weight:700;">{{ .Title }}</div>
      <div style="padding:20px;color:#111827;font-size:14px;white-space:pre-line;">{{ .Message }}</div>
      {{ if .BlockID }}<div style="padding:0 20px 16px;color:#6b7280;font-size:12px;">Block: {{ .BlockID }}</div>{{ end }}
    </div>
  </body>
</html>
`))

// Send composes n as a multipart email and delivers it.
func (e *EmailNotifier) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := emailHTMLTpl.Execute(&buf, n); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(e.from, "ServiceDG"))
	msg.SetHeader("To", e.to...)
	msg.SetHeader("Subject", n.Title)
	msg.SetBody("text/plain", n.Message)
	msg.AddAlternative("text/html", buf.String())

	return e.sender.DialAndSend(msg)
}
