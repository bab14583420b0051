package serverlogs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloudWatch struct {
	streams     *cloudwatchlogs.DescribeLogStreamsOutput
	streamsErr  error
	events      *cloudwatchlogs.GetLogEventsOutput
	eventsErr   error
	eventsInput *cloudwatchlogs.GetLogEventsInput
}

func (f *fakeCloudWatch) DescribeLogStreams(_ context.Context, _ *cloudwatchlogs.DescribeLogStreamsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
	return f.streams, f.streamsErr
}

func (f *fakeCloudWatch) GetLogEvents(_ context.Context, in *cloudwatchlogs.GetLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	f.eventsInput = in
	return f.events, f.eventsErr
}

func event(ms int64, msg string) cwtypes.OutputLogEvent {
	return cwtypes.OutputLogEvent{Timestamp: aws.Int64(ms), Message: aws.String(msg)}
}

func TestRecent_SortsOldestFirst(t *testing.T) {
	client := &fakeCloudWatch{
		streams: &cloudwatchlogs.DescribeLogStreamsOutput{
			LogStreams: []cwtypes.LogStream{{LogStreamName: aws.String("i-1/minecraft")}},
		},
		events: &cloudwatchlogs.GetLogEventsOutput{Events: []cwtypes.OutputLogEvent{
			event(3000, "[Server thread/WARN]: Can't keep up!"),
			event(1000, "[Server thread/INFO]: Starting minecraft server"),
			event(2000, "[Server thread/ERROR]: Encountered an unexpected exception"),
		}},
	}

	entries, err := NewCloudWatchSource(client, "blockhaven-minecraft").Recent(context.Background(), 250)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, time.UnixMilli(1000).UTC(), entries[0].Timestamp)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, LevelError, entries[1].Level)
	assert.Equal(t, LevelWarn, entries[2].Level)

	assert.Equal(t, int32(250), aws.ToInt32(client.eventsInput.Limit))
	assert.False(t, aws.ToBool(client.eventsInput.StartFromHead))
	assert.Equal(t, "i-1/minecraft", aws.ToString(client.eventsInput.LogStreamName))
}

func TestRecent_NoStreams(t *testing.T) {
	client := &fakeCloudWatch{streams: &cloudwatchlogs.DescribeLogStreamsOutput{}}

	entries, err := NewCloudWatchSource(client, "g").Recent(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
}

func TestRecent_GroupMissing(t *testing.T) {
	client := &fakeCloudWatch{streamsErr: fmt.Errorf("api error: %w", &cwtypes.ResourceNotFoundException{})}

	_, err := NewCloudWatchSource(client, "g").Recent(context.Background(), 100)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRecent_OtherError(t *testing.T) {
	client := &fakeCloudWatch{streamsErr: errors.New("AccessDeniedException")}

	_, err := NewCloudWatchSource(client, "g").Recent(context.Background(), 100)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConfigured)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"[ERROR] disk full":                     LevelError,
		"error: something":                      LevelError,
		"java.io ERROR trace":                   LevelError,
		"[12:00:00] [Server thread/WARN]: lag":  LevelWarn,
		"[WARN] low memory":                     LevelWarn,
		"DEBUG: tick":                           LevelDebug,
		"[12:00:00] [Server thread/INFO]: Done": LevelInfo,
		"Player joined the game":                LevelInfo,
		"ERRORS counted":                        LevelInfo,
	}
	for msg, want := range tests {
		assert.Equal(t, want, ParseLevel(msg), msg)
	}
}

func TestValidCount(t *testing.T) {
	for _, n := range []int{100, 250, 500} {
		assert.True(t, ValidCount(n))
	}
	for _, n := range []int{0, 99, 101, 1000, -1} {
		assert.False(t, ValidCount(n))
	}
}
