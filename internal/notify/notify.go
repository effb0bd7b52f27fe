// Package notify mails the outcome of a run to the operators.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"path/filepath"
	"strings"
	"wispfetch/internal/history"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("wispfetch/internal/notify")

type Config struct {
	Server   string   `json:"server"`
	Port     int      `json:"port"`
	Address  string   `json:"address"`
	Password string   `json:"password"`
	To       []string `json:"to"`
}

// Enabled is false unless a server and at least one recipient are set.
func (c Config) Enabled() bool {
	return c.Server != "" && len(c.To) > 0
}

type sendFunc func(mail *email.Email, addr string, auth smtp.Auth) error

type Notifier struct {
	config Config
	send   sendFunc
}

func NewNotifier(config Config) *Notifier {
	return &Notifier{
		config: config,
		send: func(mail *email.Email, addr string, auth smtp.Auth) error {
			return mail.Send(addr, auth)
		},
	}
}

// Compose renders the summary mail of run. The report file is attached when
// reportPath is set.
func (n *Notifier) Compose(run history.RunSummary) (*email.Email, error) {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("wispfetch <%s>", n.config.Address)
	mail.To = n.config.To
	mail.Subject = fmt.Sprintf(
		"[wispfetch] %s %s: %d/%d downloaded",
		run.Section,
		run.TargetDate.Format("2006-01-02"),
		run.Successful,
		run.Total,
	)

	var body strings.Builder
	fmt.Fprintf(&body, "Run %s finished with status %s.\n\n", run.ID, run.Status)
	fmt.Fprintf(&body, "Section: %s\nDate: %s\n", run.Section, run.TargetDate.Format("02/01/2006"))
	fmt.Fprintf(&body, "Total: %d\nSuccessful: %d\nFailed: %d\n", run.Total, run.Successful, run.Failed)
	if run.OutputDir != "" {
		fmt.Fprintf(&body, "Output: %s\n", run.OutputDir)
	}
	if run.Error != "" {
		fmt.Fprintf(&body, "\nError: %s\n", run.Error)
	}
	failed := false
	for _, r := range run.Records {
		if r.Error == "" {
			continue
		}
		if !failed {
			body.WriteString("\nFailed records:\n")
			failed = true
		}
		fmt.Fprintf(&body, "- %s (%s): %s\n", r.RecordNumber, r.ClientName, r.Error)
	}
	mail.Text = []byte(body.String())

	if run.ReportPath != "" {
		if _, err := mail.AttachFile(run.ReportPath); err != nil {
			return nil, fmt.Errorf("attach %s: %w", filepath.Base(run.ReportPath), err)
		}
	}
	return mail, nil
}

// Notify sends the summary of run. It does nothing when no server is configured.
func (n *Notifier) Notify(ctx context.Context, run history.RunSummary) error {
	if !n.config.Enabled() {
		return nil
	}

	_, span := tracer.Start(ctx, "Notify")
	defer span.End()

	mail, err := n.Compose(run)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	addr := fmt.Sprintf("%s:%d", n.config.Server, n.config.Port)
	err = n.send(mail, addr, smtp.PlainAuth("", n.config.Address, n.config.Password, n.config.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = n.send(mail, addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}
