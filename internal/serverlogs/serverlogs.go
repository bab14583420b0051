package serverlogs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// Level is the severity inferred from a log line.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelDebug Level = "DEBUG"
)

// Entry is one game-server log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     Level     `json:"level"`
}

// ErrNotConfigured is returned when the log group does not exist.
var ErrNotConfigured = errors.New("log group not configured")

// AllowedCounts are the page sizes accepted by the logs endpoint.
var AllowedCounts = []int{100, 250, 500}

// ValidCount reports whether n is an accepted page size.
func ValidCount(n int) bool {
	for _, c := range AllowedCounts {
		if c == n {
			return true
		}
	}
	return false
}

// CloudWatchClient is the subset of the CloudWatch Logs API used here.
type CloudWatchClient interface {
	DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// CloudWatchSource reads the game server's log stream from CloudWatch Logs.
type CloudWatchSource struct {
	client CloudWatchClient
	group  string
}

func NewCloudWatchSource(client CloudWatchClient, group string) *CloudWatchSource {
	return &CloudWatchSource{client: client, group: group}
}

// Recent returns up to limit entries from the most recently written stream,
// oldest first. An empty group yields an empty slice.
func (s *CloudWatchSource) Recent(ctx context.Context, limit int) ([]Entry, error) {
	streams, err := s.client.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName: aws.String(s.group),
		OrderBy:      cwtypes.OrderByLastEventTime,
		Descending:   aws.Bool(true),
		Limit:        aws.Int32(1),
	})
	if err != nil {
		return nil, s.classify(err)
	}
	if len(streams.LogStreams) == 0 || aws.ToString(streams.LogStreams[0].LogStreamName) == "" {
		return []Entry{}, nil
	}

	events, err := s.client.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(s.group),
		LogStreamName: streams.LogStreams[0].LogStreamName,
		Limit:         aws.Int32(int32(limit)),
		StartFromHead: aws.Bool(false),
	})
	if err != nil {
		return nil, s.classify(err)
	}

	entries := make([]Entry, 0, len(events.Events))
	for _, ev := range events.Events {
		ts := time.Now().UTC()
		if ev.Timestamp != nil {
			ts = time.UnixMilli(*ev.Timestamp).UTC()
		}
		msg := aws.ToString(ev.Message)
		entries = append(entries, Entry{Timestamp: ts, Message: msg, Level: ParseLevel(msg)})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func (s *CloudWatchSource) classify(err error) error {
	var notFound *cwtypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", ErrNotConfigured, s.group)
	}
	return fmt.Errorf("read log group %s: %w", s.group, err)
}

var levelMarkers = []struct {
	level   Level
	markers []string
}{
	{LevelError, []string{"[ERROR]", "ERROR:", " ERROR ", "/ERROR]"}},
	{LevelWarn, []string{"[WARN]", "WARN:", " WARN ", "/WARN]"}},
	{LevelDebug, []string{"[DEBUG]", "DEBUG:", "/DEBUG]"}},
}

// ParseLevel infers the severity of a log line from its markers.
func ParseLevel(message string) Level {
	upper := strings.ToUpper(message)
	for _, lm := range levelMarkers {
		for _, m := range lm.markers {
			if strings.Contains(upper, m) {
				return lm.level
			}
		}
	}
	return LevelInfo
}
