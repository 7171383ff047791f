// Package provider wraps AWS SES v2 behind a capability object bound to one
// tenant's credentials. All SDK specifics, including error classification
// and DKIM record formatting, stay inside this package.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/ignite/sendrelay/internal/domain"
	"github.com/ignite/sendrelay/internal/pkg/logger"
)

// callTimeout bounds every provider API call. A timeout is reported as a
// generic provider error, never dropped.
const callTimeout = 30 * time.Second

// maxBatchSize is the per-call ceiling for SendTemplatedBatch.
const maxBatchSize = 50

// Credentials holds one tenant's decrypted SES credentials.
type Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Region          string `json:"region"`
}

// sesAPI is the subset of the SES v2 client this adapter calls. It exists so
// tests can substitute a fake without the network.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, in *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
	GetEmailIdentity(ctx context.Context, in *sesv2.GetEmailIdentityInput, optFns ...func(*sesv2.Options)) (*sesv2.GetEmailIdentityOutput, error)
	CreateEmailIdentity(ctx context.Context, in *sesv2.CreateEmailIdentityInput, optFns ...func(*sesv2.Options)) (*sesv2.CreateEmailIdentityOutput, error)
}

// SES is the provider adapter. One instance per tenant request; it carries no
// global state beyond the SDK client.
type SES struct {
	client sesAPI
	region string
	log    *logger.Logger
}

// New builds an adapter from decrypted tenant credentials. Missing
// credentials are terminal for the calling request, not retried.
func New(ctx context.Context, creds Credentials, log *logger.Logger) (*SES, error) {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, ErrCredentialsMissing
	}
	if creds.Region == "" {
		creds.Region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(creds.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialsInvalid, err)
	}

	return &SES{
		client: sesv2.NewFromConfig(awsCfg),
		region: creds.Region,
		log:    log,
	}, nil
}

// Message is one outbound email, fully rendered and instrumented.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
	SendID  string
}

// SendMessage dispatches one message and returns the provider message id.
// The sender identity is checked proactively so an unverified identity fails
// with ErrSenderNotVerified before the send call, not as a provider
// rejection afterward.
func (s *SES) SendMessage(ctx context.Context, msg Message) (string, error) {
	if err := s.ValidateSenderIdentity(ctx, msg.From); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	if msg.SendID != "" {
		input.EmailTags = []types.MessageTag{
			{Name: aws.String("send_id"), Value: aws.String(msg.SendID)},
		}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", classifySendError(err)
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}

	s.log.Debug("ses send accepted", "to", logger.RedactEmail(msg.To), "message_id", messageID)
	return messageID, nil
}

// BatchItemResult is the outcome for one message of a batch.
type BatchItemResult struct {
	To        string
	MessageID string
	Err       error
}

// SendTemplatedBatch dispatches up to maxBatchSize messages. SES lacks true
// bulk send, so messages go out individually in sequence; one rejection
// never aborts the rest.
func (s *SES) SendTemplatedBatch(ctx context.Context, messages []Message) ([]BatchItemResult, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	if len(messages) > maxBatchSize {
		return nil, fmt.Errorf("batch size %d exceeds max %d", len(messages), maxBatchSize)
	}

	results := make([]BatchItemResult, len(messages))
	for i, msg := range messages {
		id, err := s.SendMessage(ctx, msg)
		results[i] = BatchItemResult{To: msg.To, MessageID: id, Err: err}
	}
	return results, nil
}

// Quota is the account-level sending allowance.
type Quota struct {
	Max24HourSend   float64 `json:"max_24_hour_send"`
	MaxSendRate     float64 `json:"max_send_rate"`
	SentLast24Hours float64 `json:"sent_last_24_hours"`
	SendingEnabled  bool    `json:"sending_enabled"`
}

// GetQuota fetches the account sending quota.
func (s *SES) GetQuota(ctx context.Context) (*Quota, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out, err := s.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return nil, providerErr("get account", err)
	}

	q := &Quota{SendingEnabled: out.SendingEnabled}
	if out.SendQuota != nil {
		q.Max24HourSend = out.SendQuota.Max24HourSend
		q.MaxSendRate = out.SendQuota.MaxSendRate
		q.SentLast24Hours = out.SendQuota.SentLast24Hours
	}
	return q, nil
}

// ValidateSenderIdentity passes when the exact address, its domain, or any
// parent domain is verified. Domain-level verification authorizes any local
// part and any subdomain, so all must be checked before rejecting.
func (s *SES) ValidateSenderIdentity(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	ok, err := s.identityVerified(ctx, address)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// Walk from the full domain up to its registrable parent. A verified
	// example.com identity authorizes a@sub.example.com.
	dom := domain.EmailDomain(address)
	for dom != "" && strings.Contains(dom, ".") {
		ok, err = s.identityVerified(ctx, dom)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if i := strings.Index(dom, "."); i >= 0 {
			dom = dom[i+1:]
		} else {
			break
		}
	}

	return fmt.Errorf("%w: %s", ErrSenderNotVerified, address)
}

// identityVerified looks up one identity. An unknown identity is simply
// unverified, not an error.
func (s *SES) identityVerified(ctx context.Context, identity string) (bool, error) {
	out, err := s.client.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{
		EmailIdentity: aws.String(identity),
	})
	if err != nil {
		var nf *types.NotFoundException
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, providerErr("get identity", err)
	}
	return out.VerifiedForSendingStatus, nil
}

// VerifyDomain registers a domain identity with the provider and returns the
// DKIM tokens the tenant must publish. Re-registering an existing identity
// falls back to fetching its current tokens.
func (s *SES) VerifyDomain(ctx context.Context, dom string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out, err := s.client.CreateEmailIdentity(ctx, &sesv2.CreateEmailIdentityInput{
		EmailIdentity: aws.String(dom),
	})
	if err != nil {
		var already *types.AlreadyExistsException
		if errors.As(err, &already) {
			return s.DKIMTokens(ctx, dom)
		}
		return nil, providerErr("create identity", err)
	}

	if out.DkimAttributes == nil {
		return nil, nil
	}
	return out.DkimAttributes.Tokens, nil
}

// DKIMTokens fetches the DKIM tokens for an already-registered domain.
func (s *SES) DKIMTokens(ctx context.Context, dom string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out, err := s.client.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{
		EmailIdentity: aws.String(dom),
	})
	if err != nil {
		return nil, providerErr("get identity", err)
	}
	if out.DkimAttributes == nil {
		return nil, nil
	}
	return out.DkimAttributes.Tokens, nil
}

// classifySendError folds an SDK send failure into the adapter taxonomy.
func classifySendError(err error) error {
	var limit *types.LimitExceededException
	var tooMany *types.TooManyRequestsException
	var paused *types.SendingPausedException
	if errors.As(err, &limit) || errors.As(err, &tooMany) || errors.As(err, &paused) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}

	var notVerified *types.MailFromDomainNotVerifiedException
	if errors.As(err, &notVerified) {
		return fmt.Errorf("%w: %v", ErrSenderNotVerified, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException":
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
	}

	return providerErr("send", err)
}
