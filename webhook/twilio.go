package webhook

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/events"
	"github.com/emviapp/emviapp-backend/metrics"
	"github.com/emviapp/emviapp-backend/models"
)

// SMSIntent is what an inbound text asks for.
type SMSIntent string

const (
	IntentStop  SMSIntent = "stop"
	IntentHelp  SMSIntent = "help"
	IntentOther SMSIntent = "other"
)

const (
	ReplyStop  = "You have been unsubscribed from EmviApp messages. No more messages will be sent. Reply START to resubscribe."
	ReplyHelp  = "EmviApp: the marketplace for beauty jobs and salons. For support visit https://emvi.app/contact. Reply STOP to unsubscribe."
	ReplyOther = "Thanks for your message! The EmviApp team will get back to you soon."
)

// ClassifyMessage matches STOP and HELP case-insensitively. The body must be
// exactly the keyword; surrounding whitespace is not trimmed.
func ClassifyMessage(body string) SMSIntent {
	switch {
	case strings.EqualFold(body, "STOP"):
		return IntentStop
	case strings.EqualFold(body, "HELP"):
		return IntentHelp
	default:
		return IntentOther
	}
}

type TwilioReply struct {
	Intent  SMSIntent
	Message string
	// TwiML is the XML document to return to Twilio.
	TwiML string
}

type TwilioReceiver struct {
	validator client.RequestValidator
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewTwilioReceiver(authToken string, publisher events.Publisher, m *metrics.Metrics, logger *zap.Logger) *TwilioReceiver {
	return &TwilioReceiver{
		validator: client.NewRequestValidator(authToken),
		publisher: publisher,
		metrics:   m,
		logger:    logger.Named("twilio_webhook"),
	}
}

// Receive checks the X-Twilio-Signature for fullURL and form, then builds
// the TwiML reply and forwards the message to the bus.
func (r *TwilioReceiver) Receive(ctx context.Context, form url.Values, signature, fullURL string) (TwilioReply, error) {
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}

	if signature == "" || !r.validator.Validate(fullURL, params, signature) {
		r.count("rejected")
		return TwilioReply{}, fmt.Errorf("%w: twilio signature mismatch", models.ErrSignatureInvalid)
	}

	body := form.Get("Body")
	intent := ClassifyMessage(body)

	reply := TwilioReply{Intent: intent, Message: replyFor(intent)}

	xml, err := twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: reply.Message}})
	if err != nil {
		r.count("error")
		return TwilioReply{}, fmt.Errorf("failed to render twiml: %w", err)
	}

	reply.TwiML = xml

	msg := events.SMSInbound{
		MessageSID: form.Get("MessageSid"),
		From:       form.Get("From"),
		To:         form.Get("To"),
		Body:       body,
		Intent:     string(intent),
	}
	if err := r.publisher.Publish(ctx, events.SubjectSMSInbound, msg); err != nil {
		r.logger.Warn("failed to publish inbound sms", zap.String("message_sid", msg.MessageSID), zap.Error(err))
	}

	r.count(string(intent))
	r.logger.Info("sms received", zap.String("message_sid", msg.MessageSID), zap.String("intent", string(intent)))

	return reply, nil
}

func replyFor(intent SMSIntent) string {
	switch intent {
	case IntentStop:
		return ReplyStop
	case IntentHelp:
		return ReplyHelp
	default:
		return ReplyOther
	}
}

func (r *TwilioReceiver) count(outcome string) {
	r.metrics.WebhookEvents.WithLabelValues(string(models.ProviderTwilio), outcome).Inc()
}
