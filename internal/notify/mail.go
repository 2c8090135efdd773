// Package notify sends email to users: a welcome message for new accounts
// and a notice when an analysis they submitted finishes.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/logging"
	"github.com/nishad/seqlims/internal/models"
)

// Mailer sends user notifications.
type Mailer interface {
	NotifyUserCreated(ctx context.Context, u *models.User) error
	NotifyAnalysisFinished(ctx context.Context, u *models.User, sub *models.AnalysisSubmission) error
}

// Transport delivers composed messages. *gomail.Dialer satisfies it.
type Transport interface {
	DialAndSend(m ...*gomail.Message) error
}

// New returns an SMTP mailer for cfg, or a mailer that only logs when mail
// is disabled. baseURL is used for links in message bodies.
func New(cfg config.MailConfig, baseURL string, logger *zap.Logger) Mailer {
	logger = logging.OrNop(logger)
	if !cfg.Enabled {
		return NopMailer{logger: logger}
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	d := gomail.NewDialer(cfg.Server, port, cfg.Username, cfg.Password)
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return NewSMTPMailer(d, from, baseURL, logger)
}

// SMTPMailer renders templates and hands the result to a Transport.
type SMTPMailer struct {
	transport Transport
	from      string
	baseURL   string
	logger    *zap.Logger
}

// NewSMTPMailer returns a mailer sending through transport.
func NewSMTPMailer(transport Transport, from, baseURL string, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		transport: transport,
		from:      from,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logging.OrNop(logger),
	}
}

var (
	welcomeTemplate = template.Must(template.New("welcome").Parse(`Hello {{.User.FirstName}},

An account has been created for you.

    Username: {{.User.Username}}
    Sign in:  {{.BaseURL}}/api/oauth/token

You will be asked to change your password if it has expired.
`))

	analysisTemplate = template.Must(template.New("analysis").Parse(`Hello {{.User.FirstName}},

Your analysis "{{.Submission.Name}}" has finished with state {{.Submission.State}}.
{{if eq (print .Submission.State) "COMPLETED"}}
Results: {{.BaseURL}}/api/analysisSubmissions/{{.Submission.ID}}/analysis
{{else}}
The pipeline did not complete. Details: {{.BaseURL}}/api/analysisSubmissions/{{.Submission.ID}}
{{end}}`))
)

type messageData struct {
	User       *models.User
	Submission *models.AnalysisSubmission
	BaseURL    string
}

// NotifyUserCreated sends the welcome message.
func (m *SMTPMailer) NotifyUserCreated(ctx context.Context, u *models.User) error {
	const op errors.Op = "notify.SMTPMailer.NotifyUserCreated"
	return m.send(ctx, op, u, "Your account has been created", welcomeTemplate, messageData{User: u, BaseURL: m.baseURL})
}

// NotifyAnalysisFinished tells the submitter how their analysis ended.
func (m *SMTPMailer) NotifyAnalysisFinished(ctx context.Context, u *models.User, sub *models.AnalysisSubmission) error {
	const op errors.Op = "notify.SMTPMailer.NotifyAnalysisFinished"
	subject := fmt.Sprintf("Analysis %s: %s", sub.Label(), sub.State)
	return m.send(ctx, op, u, subject, analysisTemplate, messageData{User: u, Submission: sub, BaseURL: m.baseURL})
}

func (m *SMTPMailer) send(ctx context.Context, op errors.Op, u *models.User, subject string, tmpl *template.Template, data messageData) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(op, err)
	}
	if u == nil || strings.TrimSpace(u.Email) == "" {
		return errors.E(op, errors.KindValidation, "recipient has no email address")
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return errors.E(op, errors.KindUnknown, err, "rendering "+tmpl.Name())
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", u.Email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body.String())

	if err := m.transport.DialAndSend(msg); err != nil {
		return errors.E(op, errors.KindNetwork, err, "sending mail to "+u.Email)
	}
	m.logger.Info("mail sent", zap.String("to", u.Email), zap.String("subject", subject))
	return nil
}

// NopMailer logs instead of sending.
type NopMailer struct {
	logger *zap.Logger
}

func (n NopMailer) NotifyUserCreated(_ context.Context, u *models.User) error {
	logging.OrNop(n.logger).Debug("mail disabled, not sending welcome", zap.String("username", u.Username))
	return nil
}

func (n NopMailer) NotifyAnalysisFinished(_ context.Context, u *models.User, sub *models.AnalysisSubmission) error {
	logging.OrNop(n.logger).Debug("mail disabled, not sending analysis notice",
		zap.String("username", u.Username), zap.Int64("submission_id", sub.ID))
	return nil
}
