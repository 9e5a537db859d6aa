package service

import (
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SenderService delivers notifications over email (SendGrid) and SMS
// (Twilio). It sits behind the queue consumer; the request path never
// waits on it.
type SenderService struct {
	sendgridKey   string
	emailFrom     string
	emailFromName string

	twilio     *twilio.RestClient
	twilioFrom string
}

func NewSenderService(sendgridKey, emailFrom, emailFromName, twilioSID, twilioToken, twilioFrom string) *SenderService {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: twilioSID,
		Password: twilioToken,
	})
	return &SenderService{
		sendgridKey:   sendgridKey,
		emailFrom:     emailFrom,
		emailFromName: emailFromName,
		twilio:        client,
		twilioFrom:    twilioFrom,
	}
}

func (s *SenderService) SendEmail(to, name, subject, body string) error {
	if s.sendgridKey == "" {
		return fmt.Errorf("sendgrid not configured")
	}
	from := sgmail.NewEmail(s.emailFromName, s.emailFrom)
	toEmail := sgmail.NewEmail(name, to)
	message := sgmail.NewSingleEmail(from, subject, toEmail, body, "")
	client := sendgrid.NewSendClient(s.sendgridKey)
	resp, err := client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid rejected email: status %d", resp.StatusCode)
	}
	return nil
}

func (s *SenderService) SendSMS(to, body string) error {
	if s.twilioFrom == "" {
		return fmt.Errorf("twilio not configured")
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.twilioFrom)
	params.SetBody(body)

	if _, err := s.twilio.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	return nil
}
