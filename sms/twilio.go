// Package sms delivers proximity alert texts and runs phone verification
// through Twilio Verify.
package sms

import (
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
)

// Sender sends a single text message.
type Sender interface {
	Send(to, body string) error
}

// Verifier starts and checks phone number verification.
type Verifier interface {
	StartVerification(phone string) error
	CheckVerification(phone, code string) (bool, error)
}

// TwilioClient implements Sender and Verifier against the Twilio REST API.
type TwilioClient struct {
	client    *twilio.RestClient
	from      string
	verifySID string
}

func NewTwilioClient(accountSID, authToken, from, verifySID string) *TwilioClient {
	return &TwilioClient{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		from:      from,
		verifySID: verifySID,
	}
}

func (t *TwilioClient) Send(to, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)

	if _, err := t.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send SMS to %s: %w", to, err)
	}
	return nil
}

func (t *TwilioClient) StartVerification(phone string) error {
	params := &verify.CreateVerificationParams{}
	params.SetTo(phone)
	params.SetChannel("sms")

	if _, err := t.client.VerifyV2.CreateVerification(t.verifySID, params); err != nil {
		return fmt.Errorf("failed to start verification for %s: %w", phone, err)
	}
	return nil
}

func (t *TwilioClient) CheckVerification(phone, code string) (bool, error) {
	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(phone)
	params.SetCode(code)

	resp, err := t.client.VerifyV2.CreateVerificationCheck(t.verifySID, params)
	if err != nil {
		return false, fmt.Errorf("failed to check verification for %s: %w", phone, err)
	}
	return resp.Status != nil && *resp.Status == "approved", nil
}
