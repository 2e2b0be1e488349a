package geolocation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recording = `
# walk into the open
{"latitude": -16.4677, "longitude": -54.6368, "accuracy": 40, "delayMs": 1000}
{"latitude": -16.4678, "longitude": -54.6369, "accuracy": 25, "delayMs": 1000}

{"latitude": -16.4679, "longitude": -54.6367, "accuracy": 12, "delayMs": 1000}
`

func TestReadRecording(t *testing.T) {
	recs, err := ReadRecording(strings.NewReader(recording))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 12.0, recs[2].Accuracy)
	assert.Equal(t, 1000, recs[0].DelayMs)

	_, err = ReadRecording(strings.NewReader("{\"latitude\": 1}\nnot json\n"))
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "line 2")
	}
}

func TestReplayAcquisition(t *testing.T) {
	recs, err := ReadRecording(strings.NewReader(recording))
	require.NoError(t, err)

	a := NewAcquirer(NewReplayPositioner(recs, 1000))
	sub, err := a.Start(context.Background(), QuickConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := sub.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, o.Status)
	assert.InDelta(t, (40+25+12)/3.0, o.Fix.Accuracy, 1e-9)
}

func TestReplayErrorFails(t *testing.T) {
	recs := []Recorded{
		{Latitude: 1, Longitude: 1, Accuracy: 30},
		{Error: &RecordedError{Code: "position-unavailable", Message: "no satellites"}},
	}
	sub, err := NewAcquirer(NewReplayPositioner(recs, 0)).Start(context.Background(), QuickConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = sub.Wait(ctx)
	var aerr *AcquisitionError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, ReasonPositionUnavailable, aerr.Reason)
	assert.Equal(t, "no satellites", aerr.Detail)
}

func TestParseErrorCode(t *testing.T) {
	assert.Equal(t, CodePermissionDenied, ParseErrorCode("1"))
	assert.Equal(t, CodePositionUnavailable, ParseErrorCode("POSITION_UNAVAILABLE"))
	assert.Equal(t, CodeTimeout, ParseErrorCode("timeout"))
	assert.Equal(t, CodeOther, ParseErrorCode("weird"))
}
