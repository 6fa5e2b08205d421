package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_QueuedWithCancelChannel(t *testing.T) {
	j := New("j1", OpCompress, nil, Input{Source: SourceURL, URL: "https://example.com/in.mp4"}, "sess-1")

	assert.Equal(t, StatusQueued, j.Status())
	assert.Zero(t, j.Progress())
	assert.Nil(t, j.Upload)
	select {
	case <-j.CancelSignal():
		t.Fatal("cancel signal should not be closed yet")
	default:
	}
}

func TestNew_UploadSourceGetsRendezvousChannel(t *testing.T) {
	j := New("j2", OpConvert, nil, Input{Source: SourceUpload, Filename: "clip.mov"}, "sess-1")
	require.NotNil(t, j.Upload)
	assert.Equal(t, 1, cap(j.Upload))
}

func TestTransition_ValidChain(t *testing.T) {
	j := New("j3", OpSpeed, nil, Input{Source: SourceURL}, "sess-1")

	assert.True(t, j.Transition(StatusDownloading))
	assert.Equal(t, StatusDownloading, j.Status())
	assert.False(t, j.StartedAt().IsZero())

	assert.True(t, j.Transition(StatusProcessing))
	assert.True(t, j.Transition(StatusUploading))
	assert.True(t, j.Transition(StatusCompleted))
	assert.Equal(t, StatusCompleted, j.Status())
	assert.False(t, j.FinishedAt().IsZero())
}

func TestTransition_RejectsSkippedStep(t *testing.T) {
	j := New("j4", OpSpeed, nil, Input{Source: SourceURL}, "sess-1")

	assert.False(t, j.Transition(StatusProcessing))
	assert.Equal(t, StatusQueued, j.Status())
}

func TestTransition_RejectsAnyEdgeOnceTerminal(t *testing.T) {
	j := New("j5", OpSpeed, nil, Input{Source: SourceURL}, "sess-1")
	j.Fail(&JobError{Code: "X", Message: "boom"})

	assert.True(t, j.Status().IsTerminal())
	assert.False(t, j.Transition(StatusDownloading))
	assert.False(t, j.Transition(StatusCancelled))
}

func TestTransition_CancelAndFailAcceptedFromAnyNonTerminalStatus(t *testing.T) {
	j := New("j6", OpSpeed, nil, Input{Source: SourceURL}, "sess-1")
	require.True(t, j.Transition(StatusDownloading))
	require.True(t, j.Transition(StatusProcessing))

	assert.True(t, j.Transition(StatusCancelled))
	assert.Equal(t, StatusCancelled, j.Status())

	f := New("j6f", OpSpeed, nil, Input{Source: SourceURL}, "sess-1")
	require.True(t, f.Transition(StatusDownloading))
	assert.True(t, f.Transition(StatusFailed))
	assert.Equal(t, StatusFailed, f.Status())
}

func TestFail_RecordsErrorAndTransitions(t *testing.T) {
	j := New("j7", OpSpeed, nil, Input{Source: SourceURL}, "sess-1")
	jobErr := &JobError{Code: "FFMPEG_ERROR", Message: "encoder exited"}

	j.Fail(jobErr)

	assert.Equal(t, StatusFailed, j.Status())
	assert.Equal(t, jobErr, j.Err())
}

func TestCancel_IsIdempotentAndOneShot(t *testing.T) {
	j := New("j8", OpSpeed, nil, Input{Source: SourceURL}, "sess-1")

	assert.False(t, j.WasCancelled())
	j.Cancel()
	assert.True(t, j.WasCancelled())

	assert.NotPanics(t, func() {
		j.Cancel()
		j.Cancel()
	})

	select {
	case <-j.CancelSignal():
	default:
		t.Fatal("cancel signal should be closed")
	}
}

func TestSetProgress_ClampsToValidRange(t *testing.T) {
	j := New("j9", OpSpeed, nil, Input{Source: SourceURL}, "sess-1")

	j.SetProgress(-10)
	assert.Equal(t, 0, j.Progress())

	j.SetProgress(150)
	assert.Equal(t, 100, j.Progress())
}

func TestSetProgress_NeverRegresses(t *testing.T) {
	j := New("j10", OpSpeed, nil, Input{Source: SourceURL}, "sess-1")

	j.SetProgress(40)
	j.SetProgress(25)
	assert.Equal(t, 40, j.Progress())

	j.SetProgress(90)
	assert.Equal(t, 90, j.Progress())
}

func TestSnap_ReflectsCurrentState(t *testing.T) {
	j := New("j11", OpGif, nil, Input{Source: SourceURL}, "sess-1")
	j.SetProgress(33)
	require.True(t, j.Transition(StatusDownloading))

	snap := j.Snap()
	assert.Equal(t, "j11", snap.ID)
	assert.Equal(t, OpGif, snap.Operation)
	assert.Equal(t, StatusDownloading, snap.Status)
	assert.Equal(t, 33, snap.Percent)
	assert.Nil(t, snap.Err)
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	nonTerminal := []Status{StatusQueued, StatusDownloading, StatusProcessing, StatusUploading}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}
