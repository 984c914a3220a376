// Package notify alerts operators when a new lead arrives.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	awsclients "leadflow/internal/common/aws"
	"leadflow/internal/common/config"
	"leadflow/internal/common/logger"
	"leadflow/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

var ErrNotificationSendFailed = errors.New("NOTIFICATION_SEND_FAILED")

type Notifier struct {
	cfg       config.NotificationConfig
	sesClient awsclients.SESService
	snsClient awsclients.SNSService
	loc       *time.Location
	logger    logger.Logger
}

// New builds a notifier backed by SES and SNS in the configured region.
func New(ctx context.Context, cfg config.NotificationConfig, loc *time.Location, log logger.Logger) (*Notifier, error) {
	awsCfg, err := awsclients.LoadConfig(ctx, cfg.AWS.Region)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewWithClients(cfg, awsclients.NewSESClient(awsCfg), awsclients.NewSNSClient(awsCfg), loc, log), nil
}

func NewWithClients(cfg config.NotificationConfig, sesClient awsclients.SESService, snsClient awsclients.SNSService, loc *time.Location, log logger.Logger) *Notifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{
		cfg:       cfg,
		sesClient: sesClient,
		snsClient: snsClient,
		loc:       loc,
		logger:    log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
}

// LeadCreated emails and texts every configured operator. It tries all
// recipients and reports the failures together.
func (n *Notifier) LeadCreated(ctx context.Context, lead models.Lead) error {
	var errs []error

	if n.cfg.Email.Enabled {
		subject := fmt.Sprintf("[신규 상담 신청] %s", lead.ApplicantName)
		body := n.emailBody(lead)
		for _, to := range n.cfg.Email.Recipients {
			if err := n.sendEmail(ctx, to, subject, body); err != nil {
				n.logger.Error("email send failed", map[string]interface{}{
					"error":  err,
					"leadId": lead.ID,
				})
				errs = append(errs, fmt.Errorf("email %s: %w", to, err))
			}
		}
	}

	if n.cfg.SMS.Enabled {
		msg := n.smsBody(lead)
		for _, to := range n.cfg.SMS.PhoneNumbers {
			if err := n.sendSMS(ctx, to, msg); err != nil {
				n.logger.Error("SMS send failed", map[string]interface{}{
					"error":  err,
					"leadId": lead.ID,
				})
				errs = append(errs, fmt.Errorf("sms %s: %w", to, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrNotificationSendFailed, errors.Join(errs...))
	}
	n.logger.Info("operators notified", map[string]interface{}{"leadId": lead.ID})
	return nil
}

func (n *Notifier) emailBody(lead models.Lead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "이름: %s\n", lead.ApplicantName)
	fmt.Fprintf(&b, "연락처: %s\n", lead.Phone)
	if lead.Email != "" {
		fmt.Fprintf(&b, "이메일: %s\n", lead.Email)
	}
	if lead.PregnancyWeeks != nil {
		fmt.Fprintf(&b, "임신 주수: %d주\n", *lead.PregnancyWeeks)
	}
	if lead.DueDate != "" {
		fmt.Fprintf(&b, "출산 예정일: %s\n", lead.DueDate)
	}
	fmt.Fprintf(&b, "희망 보험료: %s\n", lead.Budget.Label())
	if lead.AdditionalInfo != "" {
		fmt.Fprintf(&b, "문의 내용: %s\n", lead.AdditionalInfo)
	}
	fmt.Fprintf(&b, "신청일: %s\n", lead.CreatedAt.In(n.loc).Format("2006-01-02 15:04"))
	return b.String()
}

func (n *Notifier) smsBody(lead models.Lead) string {
	return fmt.Sprintf("[신규 상담] %s %s", lead.ApplicantName, lead.Phone)
}

func (n *Notifier) sendEmail(ctx context.Context, to, subject, body string) error {
	_, err := n.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(n.cfg.Email.FromEmail),
	})
	return err
}

func (n *Notifier) sendSMS(ctx context.Context, to, message string) error {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	}
	if n.cfg.SMS.SenderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(n.cfg.SMS.SenderID),
			},
		}
	}
	_, err := n.snsClient.Publish(ctx, input)
	return err
}
