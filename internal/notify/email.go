package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"camguard/internal/config"
	"camguard/internal/model"
)

// EmailNotifier sends via SendGrid. The API key comes from the environment
// rather than the config file so it stays out of checked-in configs.
type EmailNotifier struct {
	from   *mail.Email
	apiKey string
	logger *slog.Logger
}

func NewEmailNotifier(cfg config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	name := cfg.FromName
	if name == "" {
		name = "CamGuard"
	}
	return &EmailNotifier{
		from:   mail.NewEmail(name, cfg.From),
		apiKey: os.Getenv("SENDGRID_API_KEY"),
		logger: logger,
	}
}

func (n *EmailNotifier) Send(ctx context.Context, req model.NotificationRequest) error {
	if n.apiKey == "" {
		return errors.New("SENDGRID_API_KEY not set")
	}
	if len(req.Recipients) == 0 {
		return errors.New("no recipients configured")
	}
	body := fmt.Sprintf("%s\n\nCamera: %s (%s)\nSeverity: %s\nTime: %s\n",
		req.Message, req.CameraName, req.CameraID, req.Severity, req.Timestamp.Format("2006-01-02 15:04:05 MST"))
	if req.ImageRef != "" {
		body += fmt.Sprintf("Frame: %s\n", req.ImageRef)
	}
	client := sendgrid.NewSendClient(n.apiKey)
	var last error
	for _, rcpt := range req.Recipients {
		message := mail.NewSingleEmail(n.from, req.Subject, mail.NewEmail("", rcpt), body, body)
		resp, err := client.SendWithContext(ctx, message)
		if err != nil {
			last = err
			continue
		}
		if resp.StatusCode >= 400 {
			last = fmt.Errorf("sendgrid status %d", resp.StatusCode)
		}
	}
	return last
}
