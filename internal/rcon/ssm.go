package rcon

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

const shellDocument = "AWS-RunShellScript"

// SSMClient is the subset of the SSM API used to run console commands.
type SSMClient interface {
	SendCommand(ctx context.Context, params *ssm.SendCommandInput, optFns ...func(*ssm.Options)) (*ssm.SendCommandOutput, error)
	GetCommandInvocation(ctx context.Context, params *ssm.GetCommandInvocationInput, optFns ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error)
}

// SSMService runs shell commands on one instance through Systems Manager.
type SSMService struct {
	client     SSMClient
	instanceID string
	timeout    time.Duration
}

// NewSSMService creates a CommandService for instanceID. timeout bounds the
// remote execution of each command.
func NewSSMService(client SSMClient, instanceID string, timeout time.Duration) *SSMService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SSMService{client: client, instanceID: instanceID, timeout: timeout}
}

func (s *SSMService) Submit(ctx context.Context, commandLine string) (string, error) {
	out, err := s.client.SendCommand(ctx, &ssm.SendCommandInput{
		DocumentName: aws.String(shellDocument),
		InstanceIds:  []string{s.instanceID},
		Parameters: map[string][]string{
			"commands": {commandLine},
		},
		TimeoutSeconds: aws.Int32(int32(s.timeout / time.Second)),
		Comment:        aws.String("blockhaven console command"),
	})
	if err != nil {
		return "", err
	}
	if out.Command == nil {
		return "", nil
	}
	return aws.ToString(out.Command.CommandId), nil
}

func (s *SSMService) Poll(ctx context.Context, invocationID string) (*Invocation, error) {
	out, err := s.client.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(invocationID),
		InstanceId: aws.String(s.instanceID),
	})
	if err != nil {
		var notYet *ssmtypes.InvocationDoesNotExist
		if errors.As(err, &notYet) {
			return nil, ErrInvocationNotFound
		}
		return nil, err
	}

	return &Invocation{
		Status:        mapStatus(out.Status),
		StatusDetails: aws.ToString(out.StatusDetails),
		Stdout:        aws.ToString(out.StandardOutputContent),
		Stderr:        aws.ToString(out.StandardErrorContent),
	}, nil
}

func mapStatus(s ssmtypes.CommandInvocationStatus) Status {
	switch s {
	case ssmtypes.CommandInvocationStatusPending, ssmtypes.CommandInvocationStatusDelayed:
		return StatusPending
	case ssmtypes.CommandInvocationStatusInProgress:
		return StatusInProgress
	case ssmtypes.CommandInvocationStatusSuccess:
		return StatusSuccess
	case ssmtypes.CommandInvocationStatusFailed:
		return StatusFailed
	case ssmtypes.CommandInvocationStatusTimedOut:
		return StatusTimedOut
	case ssmtypes.CommandInvocationStatusCancelled, ssmtypes.CommandInvocationStatusCancelling:
		return StatusCancelled
	default:
		return StatusUnknown
	}
}
