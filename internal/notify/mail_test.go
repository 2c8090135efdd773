package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	gomail "gopkg.in/gomail.v2"

	"github.com/nishad/seqlims/internal/config"
	liberrors "github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/testutil"
)

type recordingTransport struct {
	sent []*gomail.Message
	err  error
}

func (r *recordingTransport) DialAndSend(m ...*gomail.Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, m...)
	return nil
}

func render(t *testing.T, m *gomail.Message) string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.String()
}

var alice = &models.User{Username: "alice", FirstName: "Alice", Email: "alice@example.org"}

func TestNotifyUserCreated(t *testing.T) {
	tr := &recordingTransport{}
	m := NewSMTPMailer(tr, "lims@example.org", "https://lims.example.org/", nil)

	testutil.RequireNoError(t, m.NotifyUserCreated(context.Background(), alice), "NotifyUserCreated")
	testutil.AssertEqual(t, len(tr.sent), 1, "messages sent")

	msg := tr.sent[0]
	testutil.AssertEqual(t, msg.GetHeader("To")[0], "alice@example.org", "recipient")
	testutil.AssertEqual(t, msg.GetHeader("From")[0], "lims@example.org", "sender")
	body := render(t, msg)
	testutil.AssertContains(t, body, "Username: alice", "username in body")
	testutil.AssertContains(t, body, "https://lims.example.org/api/oauth/token", "link without double slash")
}

func TestNotifyAnalysisFinished(t *testing.T) {
	tr := &recordingTransport{}
	m := NewSMTPMailer(tr, "lims@example.org", "http://localhost:8080", nil)
	ctx := context.Background()

	done := &models.AnalysisSubmission{ID: 12, Name: "assembly run", State: models.AnalysisCompleted}
	testutil.RequireNoError(t, m.NotifyAnalysisFinished(ctx, alice, done), "completed")
	testutil.AssertEqual(t, tr.sent[0].GetHeader("Subject")[0], "Analysis assembly run [12]: COMPLETED", "subject")
	testutil.AssertContains(t, render(t, tr.sent[0]), "/api/analysisSubmissions/12/analysis", "results link")

	failed := &models.AnalysisSubmission{ID: 13, Name: "snvphyl", State: models.AnalysisError}
	testutil.RequireNoError(t, m.NotifyAnalysisFinished(ctx, alice, failed), "failed")
	testutil.AssertContains(t, render(t, tr.sent[1]), "did not complete", "failure text")
}

func TestSendFailures(t *testing.T) {
	tr := &recordingTransport{err: errors.New("connection refused")}
	m := NewSMTPMailer(tr, "lims@example.org", "", nil)

	err := m.NotifyUserCreated(context.Background(), alice)
	testutil.AssertTrue(t, liberrors.IsKind(err, liberrors.KindNetwork), "transport failure kind")

	err = m.NotifyUserCreated(context.Background(), &models.User{Username: "nomail"})
	testutil.AssertTrue(t, liberrors.IsKind(err, liberrors.KindValidation), "missing address")
}

func TestDisabledMailer(t *testing.T) {
	m := New(config.MailConfig{Enabled: false}, "", nil)
	if _, ok := m.(NopMailer); !ok {
		t.Fatalf("New with mail disabled = %T, want NopMailer", m)
	}
	testutil.AssertNoError(t, m.NotifyUserCreated(context.Background(), alice), "nop welcome")
	testutil.AssertNoError(t, m.NotifyAnalysisFinished(context.Background(), alice, &models.AnalysisSubmission{ID: 1}), "nop notice")

	if _, ok := New(config.MailConfig{Enabled: true, Server: "smtp.example.org"}, "", nil).(*SMTPMailer); !ok {
		t.Error("New with mail enabled should return an SMTP mailer")
	}
}
