package notify

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/lease_backend/models"
	"github.com/mmdatafocus/lease_backend/utils"
	"github.com/sirupsen/logrus"
)

type OutcomeStatus string

const (
	OutcomeSent   OutcomeStatus = "sent"
	OutcomeLogged OutcomeStatus = "logged"
	OutcomeFailed OutcomeStatus = "failed"
)

// TemplateSource looks up an enabled template. (nil, nil) means none is enabled.
type TemplateSource interface {
	EnabledTemplate(ctx context.Context, name string, channel models.NotificationChannel) (*models.NotificationTemplate, error)
}

// Message is a rendered notification ready for a transport.
type Message struct {
	Event   string                     `json:"event"`
	Channel models.NotificationChannel `json:"channel"`
	To      string                     `json:"to"`
	Name    string                     `json:"name,omitempty"`
	Subject string                     `json:"subject,omitempty"`
	Body    string                     `json:"body"`
}

type Transport interface {
	Send(ctx context.Context, msg Message) error
}

type Outcome struct {
	Recipient models.Recipient
	Status    OutcomeStatus
	Err       error
}

// Dispatcher renders notifications and hands them to the transport of their channel.
// It never returns an error: every failure is logged and reported in the outcome.
type Dispatcher struct {
	Templates  TemplateSource
	Transports map[models.NotificationChannel]Transport
	Logger     *logrus.Logger
}

func (d *Dispatcher) Notify(ctx context.Context, event string, recipients []models.Recipient, templateName string, data map[string]string) []Outcome {
	if templateName == "" {
		templateName = event
	}
	outcomes := make([]Outcome, 0, len(recipients))
	for _, r := range recipients {
		outcomes = append(outcomes, d.notifyOne(ctx, event, r, templateName, data))
	}
	return outcomes
}

func (d *Dispatcher) notifyOne(ctx context.Context, event string, r models.Recipient, templateName string, data map[string]string) (outcome Outcome) {
	outcome = Outcome{Recipient: r}
	defer func() {
		if p := recover(); p != nil {
			outcome.Status = OutcomeFailed
			outcome.Err = fmt.Errorf("transport panic: %v", p)
			d.fields(event, r).Error(outcome.Err.Error())
		}
	}()

	fields := make(map[string]string, len(data)+2)
	for k, v := range data {
		fields[k] = v
	}
	fields["recipientName"] = r.Name
	fields["event"] = event

	msg := Message{Event: event, Channel: r.Channel, To: r.Address, Name: r.Name}
	var tpl *models.NotificationTemplate
	if d.Templates != nil {
		var err error
		tpl, err = d.Templates.EnabledTemplate(ctx, templateName, r.Channel)
		if err != nil {
			d.fields(event, r).Warn("notification template lookup failed: " + err.Error())
		}
	}
	if tpl == nil {
		msg.Body = fallbackBody(event, fields)
		d.fields(event, r).WithField("template", templateName).Info("no enabled notification template; intended message: " + msg.Body)
		outcome.Status = OutcomeLogged
		return outcome
	}
	msg.Subject = utils.RenderPlaceholders(tpl.Subject, fields)
	msg.Body = utils.RenderPlaceholders(tpl.Body, fields)

	transport := d.Transports[r.Channel]
	if transport == nil {
		d.fields(event, r).Info("no transport for channel; message: " + msg.Body)
		outcome.Status = OutcomeLogged
		return outcome
	}
	if err := transport.Send(ctx, msg); err != nil {
		d.fields(event, r).Warn("notification delivery failed: " + err.Error())
		outcome.Status = OutcomeFailed
		outcome.Err = err
		return outcome
	}
	outcome.Status = OutcomeSent
	return outcome
}

func (d *Dispatcher) fields(event string, r models.Recipient) *logrus.Entry {
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithFields(logrus.Fields{
		"field":   "notify",
		"event":   event,
		"channel": r.Channel,
		"to":      r.Address,
	})
}

func fallbackBody(event string, data map[string]string) string {
	body := event
	for _, k := range []string{"serial", "contractNumber", "invoiceNumber", "status", "amount", "currency", "reason"} {
		if v := data[k]; v != "" {
			body += fmt.Sprintf(" %s=%s", k, v)
		}
	}
	return body
}
