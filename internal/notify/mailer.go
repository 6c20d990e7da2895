package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mail "github.com/go-mail/mail/v2"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
)

// ErrUndeliverable marks failures that retrying cannot fix.
var ErrUndeliverable = errors.New("UNDELIVERABLE: notification cannot be delivered")

// Mailer is the outbound mail gateway.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
	Job     domain.NotificationJob
}

var subjects = map[domain.NotificationKind]string{
	domain.KindAssignedForReview:   "Report assigned for review",
	domain.KindReassignedForReview: "Report handed over for review",
	domain.KindCompletedAndSent:    "Report review completed",
}

// Compose builds the trigger message for job. Content templating belongs to
// the mail gateway; this only names the event and the project.
func Compose(job domain.NotificationJob, recipient *domain.Reviewer) Message {
	subject, ok := subjects[job.Kind]
	if !ok {
		subject = string(job.Kind)
	}

	return Message{
		To:      recipient.Email,
		ToName:  recipient.Name,
		Subject: fmt.Sprintf("%s: %s", subject, job.ProjectID),
		Body:    fmt.Sprintf("%s\n\nProject: %s\nRequested at: %s\n", subject, job.ProjectID, job.RequestedAt.Format(time.RFC3339)),
		Job:     job,
	}
}

type SMTPConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	From          string
	SkipTLSVerify bool
}

type SMTPMailer struct {
	from   string
	dialer *mail.Dialer
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	port := cfg.Port
	if port == 0 {
		port = 587
	}

	d := mail.NewDialer(cfg.Host, port, cfg.User, cfg.Password)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	d.Timeout = 15 * time.Second

	return &SMTPMailer{from: cfg.From, dialer: d}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("%w: recipient %s has no mail address", ErrUndeliverable, msg.Job.RecipientID)
	}

	mm := mail.NewMessage()
	mm.SetHeader("From", m.from)
	mm.SetAddressHeader("To", msg.To, msg.ToName)
	mm.SetHeader("Subject", msg.Subject)
	mm.SetHeader("X-Reviewdesk-Job", msg.Job.ID)
	mm.SetBody("text/plain", msg.Body)

	if err := m.dialer.DialAndSend(mm); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// LogMailer stands in for SMTP when no mail host is configured.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.log.Info("notify.LogMailer: mail not sent, smtp disabled",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("job_id", msg.Job.ID),
	)
	return nil
}
