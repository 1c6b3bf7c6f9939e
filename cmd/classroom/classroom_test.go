package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zenro-academy/liveclass/config"
	"github.com/zenro-academy/liveclass/internal/classroom"
	"github.com/zenro-academy/liveclass/internal/rtc"
	"github.com/zenro-academy/liveclass/internal/signaling"
	"github.com/zenro-academy/liveclass/internal/summaries"
	"github.com/zenro-academy/liveclass/pkg/queue"
)

type echoSummarizer struct{}

func (echoSummarizer) Summarize(_ context.Context, transcript string) string {
	return "summary:\n" + transcript
}

type stubQueue struct{ got queue.SummaryPayload }

func (q *stubQueue) EnqueueSummary(_ context.Context, p queue.SummaryPayload) (string, error) {
	q.got = p
	return "job-42", nil
}

func snapshot() classroom.Snapshot {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return classroom.Snapshot{
		Topic: "Fractions",
		Chat: []classroom.ChatEntry{
			{Author: classroom.SystemAuthor, Text: "Class has started.", Timestamp: at},
			{Author: "Sensei", Text: "halves and quarters", Timestamp: at},
		},
	}
}

func summaryServer(t *testing.T, q summaries.Enqueuer) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/summaries", summaries.NewHandler(echoSummarizer{}, q, nil, nil).Create)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscript(t *testing.T) {
	assert.Equal(t, "SYSTEM: Class has started.\nSensei: halves and quarters\n", transcript(snapshot().Chat))
}

func TestRequestSummaryInline(t *testing.T) {
	srv := summaryServer(t, nil)

	msg, err := requestSummary(context.Background(), srv.URL+"/summaries", "math", snapshot())
	require.NoError(t, err)
	assert.Contains(t, msg, "Sensei: halves and quarters")
}

func TestRequestSummaryQueued(t *testing.T) {
	q := &stubQueue{}
	srv := summaryServer(t, q)

	msg, err := requestSummary(context.Background(), srv.URL+"/summaries", "math", snapshot())
	require.NoError(t, err)
	assert.Equal(t, "summary scheduled: job-42", msg)
	assert.Equal(t, "math", q.got.Room)
	assert.Equal(t, "Fractions", q.got.Topic)
}

func TestRequestSummaryRejected(t *testing.T) {
	srv := summaryServer(t, nil)

	_, err := requestSummary(context.Background(), srv.URL+"/summaries", "", snapshot())
	assert.Error(t, err)

	_, err = requestSummary(context.Background(), srv.URL+"/missing", "math", snapshot())
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := parseKind("Audio")
	require.NoError(t, err)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, k)

	k, err = parseKind("cam")
	require.NoError(t, err)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, k)

	_, err = parseKind("screen")
	assert.Error(t, err)
}

func TestConsolePrintsChanges(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf)

	snap := snapshot()
	snap.IsLive = true
	snap.ViewerCount = 2
	c.show(snap)
	c.show(snap)

	snap.Chat = append(snap.Chat, classroom.ChatEntry{Author: "Student", Text: "hi", Timestamp: snap.Chat[0].Timestamp})
	c.show(snap)

	snap.IsLive = false
	c.show(snap)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "* LIVE: Fractions"))
	assert.Equal(t, 1, strings.Count(out, "* viewers: 2"))
	assert.Equal(t, 1, strings.Count(out, "Sensei: halves and quarters"))
	assert.Contains(t, out, "Student: hi")
	assert.True(t, strings.HasSuffix(out, "* class is offline\n"))
}

func TestReadLinesSkipsBlank(t *testing.T) {
	var got []string
	for line := range readLines(context.Background(), strings.NewReader("hello\n\n  /end  \n")) {
		got = append(got, line)
	}
	assert.Equal(t, []string{"hello", "/end"}, got)
}

func TestReceiveStatsReport(t *testing.T) {
	r := newReceiveStats(context.Background(), nil)
	assert.Empty(t, r.report())
}

type trackless struct{}

func (trackless) Acquire(context.Context) (*rtc.LocalMedia, error) {
	return rtc.NewLocalMedia(), nil
}

type statusLog struct {
	mu       sync.Mutex
	statuses []signaling.StatusPayload
}

func (l *statusLog) handle(env signaling.Envelope) {
	var st signaling.StatusPayload
	if env.Decode(&st) != nil {
		return
	}
	l.mu.Lock()
	l.statuses = append(l.statuses, st)
	l.mu.Unlock()
}

func (l *statusLog) last() (signaling.StatusPayload, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.statuses) == 0 {
		return signaling.StatusPayload{}, false
	}
	return l.statuses[len(l.statuses)-1], true
}

func TestHostClassEndsOnInterrupt(t *testing.T) {
	bus := signaling.NewMemoryBus()

	watcher := signaling.NewClient(bus.Connect(), nil)
	var log statusLog
	watcher.On(signaling.KindSessionStatus, log.handle)
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() { _ = watcher.Run(watchCtx) }()
	defer watcher.Close()

	host := signaling.NewClient(bus.Connect(), nil)
	defer host.Close()

	stdin, stdinW := io.Pipe()
	defer stdinW.Close()
	ctx, interrupt := context.WithCancel(context.Background())
	defer interrupt()
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetIn(stdin)
	cmd.SetOut(io.Discard)

	opts := &options{cfg: &config.Config{}, log: zap.NewNop(), room: "math"}
	done := make(chan error, 1)
	go func() { done <- hostClass(cmd, opts, &broadcastOptions{topic: "Fractions", name: "Sensei"}, host, trackless{}) }()

	require.Eventually(t, func() bool {
		st, ok := log.last()
		return ok && st.IsLive && st.Topic == "Fractions"
	}, 2*time.Second, 5*time.Millisecond)

	interrupt()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("class kept running after interrupt")
	}

	require.Eventually(t, func() bool {
		st, ok := log.last()
		return ok && !st.IsLive
	}, 2*time.Second, 5*time.Millisecond)
}
