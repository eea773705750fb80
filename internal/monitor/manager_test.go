package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *fakeSource) {
	t.Helper()

	source := &fakeSource{frame: []byte("frame-1")}
	liveAnalyzer := &fakeAnalyzer{
		replies: []string{`{"eyesClosed":true,"confidence":90}`},
		errs:    []error{nil},
	}
	live, _ := newTestLoop(source, liveAnalyzer)

	uploadAnalyzer := &fakeAnalyzer{
		replies: []string{`{"lookingAway":true,"confidence":75}`},
		errs:    []error{nil},
	}
	upload, _ := newTestUploadAnalyzer(uploadAnalyzer, &fakeExtractor{}, nil)

	return NewManager(live, upload), source
}

func TestManager_UploadStopsLiveMonitoring(t *testing.T) {
	m, source := newTestManager(t)

	require.NoError(t, m.StartMonitoring(context.Background()))
	require.True(t, m.Monitoring())

	result, err := m.AnalyzeUpload(context.Background(), testPNG(t, 32, 32), "image/png")
	require.NoError(t, err)

	assert.False(t, m.Monitoring(), "upload analysis must stop the live loop")
	assert.True(t, source.wasReleased())
	assert.True(t, result.IsDistracted)
}

func TestManager_CurrentResultPrefersLive(t *testing.T) {
	m, _ := newTestManager(t)

	// An upload result is current while nothing else is running.
	_, err := m.AnalyzeUpload(context.Background(), testPNG(t, 32, 32), "image/png")
	require.NoError(t, err)
	require.NotNil(t, m.CurrentResult())
	assert.True(t, m.CurrentResult().IsDistracted)

	// Starting live monitoring clears it; once the loop produces a result,
	// that one wins.
	require.NoError(t, m.StartMonitoring(context.Background()))
	defer m.StopMonitoring()

	require.Eventually(t, func() bool {
		r := m.CurrentResult()
		return r != nil && r.IsSleepy
	}, time.Second, time.Millisecond)
}

func TestManager_StartMonitoringClearsUploadResult(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.AnalyzeUpload(context.Background(), testPNG(t, 32, 32), "image/png")
	require.NoError(t, err)
	require.NotNil(t, m.CurrentResult())

	require.NoError(t, m.StartMonitoring(context.Background()))
	m.StopMonitoring()

	assert.Nil(t, m.CurrentResult())
}

func TestManager_FailedUploadKeepsNoResult(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.AnalyzeUpload(context.Background(), []byte("junk"), "application/zip")
	require.Error(t, err)
	assert.Nil(t, m.CurrentResult())
}
