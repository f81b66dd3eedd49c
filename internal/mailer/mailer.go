package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer delivers magic-link sign-in emails.
type Mailer interface {
	SendMagicLink(ctx context.Context, to, link string, expiresIn time.Duration) error
}

// SendGrid is the production Mailer.
type SendGrid struct {
	client   *sendgrid.Client
	from     string
	fromName string
}

func NewSendGrid(apiKey, from, fromName string) *SendGrid {
	return &SendGrid{
		client:   sendgrid.NewSendClient(apiKey),
		from:     from,
		fromName: fromName,
	}
}

func (s *SendGrid) SendMagicLink(ctx context.Context, to, link string, expiresIn time.Duration) error {
	subject, plain, html := magicLinkContent(link, expiresIn)

	msg := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.from),
		subject,
		mail.NewEmail("", to),
		plain,
		html,
	)

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("send magic link: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}

	return nil
}

func magicLinkContent(link string, expiresIn time.Duration) (subject, plain, html string) {
	minutes := int(expiresIn.Minutes())
	subject = "Your sign-in link"

	plain = fmt.Sprintf(`Hello,

Follow this link to sign in:

%s

The link expires in %d minutes. If you didn't request it, you can ignore this email.
`, link, minutes)

	html = fmt.Sprintf(`<p>Hello,</p>
<p><a href=%q>Click here to sign in</a></p>
<p>Or paste this link into your browser:</p>
<p>%s</p>
<p>The link expires in %d minutes. If you didn't request it, you can ignore this email.</p>
`, link, link, minutes)

	return subject, plain, html
}

// Log is a development Mailer that writes the link to the log instead of
// sending email. Used when SENDGRID_API_KEY is unset.
type Log struct{}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) SendMagicLink(_ context.Context, to, link string, expiresIn time.Duration) error {
	slog.Info("Magic link (email delivery disabled)", "to", to, "link", link, "expires_in", expiresIn.String())
	return nil
}
