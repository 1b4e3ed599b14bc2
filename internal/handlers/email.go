package handlers

import (
	"bytes"
	"context"
	"html/template"
	"os"
	"time"

	"github.com/Laudkyle/fuel-me/pkg/email"
	"github.com/Laudkyle/fuel-me/pkg/logging"
)

// EmailService sends back-office billing notices. Drivers authenticate by
// phone and carry no email address, so notices go to the operations
// mailbox configured via BILLING_ALERTS_EMAIL.
type EmailService struct {
	sender  *email.Sender
	alertTo string
	logger  logging.Logger
}

// NewEmailService creates a new email service instance
func NewEmailService(logger logging.Logger) *EmailService {
	var sender *email.Sender
	if os.Getenv("SMTP_HOST") != "" {
		sender = email.NewSender(email.Config{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     os.Getenv("SMTP_PORT"),
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("FROM_EMAIL"),
			FromName: os.Getenv("FROM_NAME"),
		})
	}

	return &EmailService{
		sender:  sender,
		alertTo: os.Getenv("BILLING_ALERTS_EMAIL"),
		logger:  logger,
	}
}

// IsConfigured checks if email notifications can be delivered
func (es *EmailService) IsConfigured() bool {
	return es.sender != nil && es.alertTo != ""
}

type noticeData struct {
	UserID      string
	CyclePeriod string
	Amount      float64
	When        time.Time
}

var penaltyTemplate = template.Must(template.New("penalty").Parse(`
<h2>Late payment penalty applied</h2>
<p>User {{.UserID}} was charged a penalty of {{printf "%.2f" .Amount}} on cycle {{.CyclePeriod}}.</p>
<p>Applied at {{.When.Format "2006-01-02 15:04"}}.</p>
`))

var settlementTemplate = template.Must(template.New("settlement").Parse(`
<h2>Billing cycle settled</h2>
<p>User {{.UserID}} settled cycle {{.CyclePeriod}} with a payment of {{printf "%.2f" .Amount}}.</p>
<p>Settled at {{.When.Format "2006-01-02 15:04"}}.</p>
`))

// SendPenaltyNotice notifies operations of a late payment penalty
func (es *EmailService) SendPenaltyNotice(userID, cyclePeriod string, amount float64) {
	es.send("Late payment penalty applied", penaltyTemplate, noticeData{
		UserID: userID, CyclePeriod: cyclePeriod, Amount: amount, When: time.Now(),
	})
}

// SendSettlementNotice notifies operations of a settled cycle
func (es *EmailService) SendSettlementNotice(userID, cyclePeriod string, amount float64) {
	es.send("Billing cycle settled", settlementTemplate, noticeData{
		UserID: userID, CyclePeriod: cyclePeriod, Amount: amount, When: time.Now(),
	})
}

func (es *EmailService) send(subject string, tmpl *template.Template, data noticeData) {
	if !es.IsConfigured() {
		return
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		es.logger.WithError(err).Warn("Failed to render notification email")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := es.sender.SendMail(ctx, es.alertTo, subject, body.String()); err != nil {
			es.logger.WithError(err).WithFields(logging.Fields{
				"subject": subject,
			}).Warn("Failed to send notification email")
		}
	}()
}
