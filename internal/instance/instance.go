package instance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// State is the lifecycle state of the game host.
type State string

const (
	StatePending      State = "pending"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting-down"
	StateTerminated   State = "terminated"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateUnknown      State = "unknown"
)

// ErrInstanceNotFound is returned when the configured instance does not exist.
var ErrInstanceNotFound = errors.New("instance not found")

// Status is a point-in-time description of the game host.
type Status struct {
	InstanceID    string
	State         State
	PublicIP      string
	LaunchTime    *time.Time
	UptimeSeconds *int64
}

// StateChange is the result of a start or stop request.
type StateChange struct {
	PreviousState State
	CurrentState  State
}

// EC2Client is the subset of the EC2 API used to control the game host.
type EC2Client interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
}

// Controller starts, stops and describes one EC2 instance.
type Controller struct {
	client     EC2Client
	instanceID string
	now        func() time.Time
	describe   singleflight.Group
	log        logrus.FieldLogger
}

// NewController creates a Controller for instanceID.
func NewController(client EC2Client, instanceID string, log logrus.FieldLogger) *Controller {
	return &Controller{
		client:     client,
		instanceID: instanceID,
		now:        time.Now,
		log:        log.WithFields(logrus.Fields{"component": "instance", "instance_id": instanceID}),
	}
}

// InstanceID returns the controlled instance id.
func (c *Controller) InstanceID() string {
	return c.instanceID
}

// describeTimeout bounds a shared describe call, which no longer follows any
// single caller's context.
const describeTimeout = 10 * time.Second

// Describe returns the current status. Concurrent callers share one request;
// a caller that gives up does not cancel it for the others.
func (c *Controller) Describe(ctx context.Context) (*Status, error) {
	ch := c.describe.DoChan(c.instanceID, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), describeTimeout)
		defer cancel()
		return c.describeOnce(shared)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		status := *res.Val.(*Status)
		return &status, nil
	}
}

func (c *Controller) describeOnce(ctx context.Context) (*Status, error) {
	out, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{c.instanceID},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("describe instance: %w", err)
	}

	for _, reservation := range out.Reservations {
		if len(reservation.Instances) > 0 {
			return c.toStatus(reservation.Instances[0]), nil
		}
	}
	return nil, ErrInstanceNotFound
}

// isNotFound reports whether EC2 rejected the instance id as unknown.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
		return true
	}
	return false
}

func (c *Controller) toStatus(inst ec2types.Instance) *Status {
	status := &Status{
		InstanceID: aws.ToString(inst.InstanceId),
		State:      StateUnknown,
		PublicIP:   aws.ToString(inst.PublicIpAddress),
		LaunchTime: inst.LaunchTime,
	}
	if status.InstanceID == "" {
		status.InstanceID = c.instanceID
	}
	if inst.State != nil {
		status.State = State(inst.State.Name)
	}
	if status.State == StateRunning && inst.LaunchTime != nil {
		uptime := int64(c.now().Sub(*inst.LaunchTime) / time.Second)
		if uptime < 0 {
			uptime = 0
		}
		status.UptimeSeconds = &uptime
	}
	return status
}

// Start requests the instance to start.
func (c *Controller) Start(ctx context.Context) (*StateChange, error) {
	out, err := c.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{c.instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("start instance: %w", err)
	}
	change := c.stateChange(out.StartingInstances)
	c.log.WithFields(logrus.Fields{
		"previous": change.PreviousState,
		"current":  change.CurrentState,
	}).Info("start requested")
	return change, nil
}

// Stop requests a graceful (non-forced) stop.
func (c *Controller) Stop(ctx context.Context) (*StateChange, error) {
	out, err := c.client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{c.instanceID},
		Force:       aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("stop instance: %w", err)
	}
	change := c.stateChange(out.StoppingInstances)
	c.log.WithFields(logrus.Fields{
		"previous": change.PreviousState,
		"current":  change.CurrentState,
	}).Info("stop requested")
	return change, nil
}

func (c *Controller) stateChange(changes []ec2types.InstanceStateChange) *StateChange {
	change := &StateChange{PreviousState: StateUnknown, CurrentState: StateUnknown}
	for _, sc := range changes {
		if id := aws.ToString(sc.InstanceId); id != "" && id != c.instanceID {
			continue
		}
		if sc.PreviousState != nil {
			change.PreviousState = State(sc.PreviousState.Name)
		}
		if sc.CurrentState != nil {
			change.CurrentState = State(sc.CurrentState.Name)
		}
		break
	}
	return change
}

// StartMessage describes the outcome of a start request for operators.
func StartMessage(change *StateChange) string {
	switch {
	case change.PreviousState == StateRunning:
		return "Server is already running"
	case change.CurrentState == StatePending:
		return "Server is starting. This may take 30-60 seconds."
	default:
		return fmt.Sprintf("Server state changed to %s", change.CurrentState)
	}
}

// StopMessage describes the outcome of a stop request for operators.
func StopMessage(change *StateChange) string {
	switch {
	case change.PreviousState == StateStopped:
		return "Server is already stopped"
	case change.CurrentState == StateStopping:
		return "Server is stopping. World data is being saved."
	default:
		return fmt.Sprintf("Server state changed to %s", change.CurrentState)
	}
}
