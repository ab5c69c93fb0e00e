// ABOUTME: Tests for the lifecycle controller's focus/app-state rules
// ABOUTME: Uses a recording target to check resume/background calls and read receipts

package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/2389/convo-sync/internal/convo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTarget struct {
	mu        sync.Mutex
	calls     []string
	seq       int64
	bgErr     error
	resumeErr error
}

func (r *recordingTarget) ConvoID() string { return "c1" }

func (r *recordingTarget) LatestSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (r *recordingTarget) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "resume")
	return r.resumeErr
}

func (r *recordingTarget) Background() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "background")
	return r.bgErr
}

func (r *recordingTarget) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type emptyClient struct{}

func (emptyClient) FetchHistory(context.Context, string, string) (*convo.Page, error) {
	return &convo.Page{}, nil
}

func (emptyClient) FetchSince(context.Context, string, int64) ([]convo.Item, error) {
	return nil, nil
}

func (emptyClient) SendMessage(context.Context, string, string, string) (*convo.Item, error) {
	return nil, nil
}

// historyClient serves a fixed number of messages, changeable between loads.
type historyClient struct {
	emptyClient
	mu sync.Mutex
	n  int64
}

func (h *historyClient) setCount(n int64) {
	h.mu.Lock()
	h.n = n
	h.mu.Unlock()
}

func (h *historyClient) FetchHistory(context.Context, string, string) (*convo.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	page := &convo.Page{}
	for seq := int64(1); seq <= h.n; seq++ {
		page.Items = append(page.Items, convo.Item{
			Kind:   convo.ItemMessage,
			ID:     fmt.Sprintf("m%d", seq),
			Seq:    seq,
			Sender: "bob",
			Body:   "hi",
		})
	}
	return page, nil
}

type recordingReceipts struct {
	mu    sync.Mutex
	marks []int64
}

func (r *recordingReceipts) MarkRead(convoID string, upTo int64) {
	r.mu.Lock()
	r.marks = append(r.marks, upTo)
	r.mu.Unlock()
}

func (r *recordingReceipts) Marks() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.marks...)
}

func (r *recordingReceipts) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.marks)
}

func TestFocusResumesAndMarksRead(t *testing.T) {
	target := &recordingTarget{seq: 7}
	rr := &recordingReceipts{}
	c := New(target, rr, WithSettle(0))

	c.SetScreenFocused(true)

	assert.Equal(t, []string{"resume"}, target.Calls())
	assert.Equal(t, []int64{7}, rr.marks)
	assert.True(t, c.Focused())
}

func TestBlurBackgroundsAndMarksRead(t *testing.T) {
	target := &recordingTarget{}
	rr := &recordingReceipts{}
	c := New(target, rr, WithSettle(0))

	c.SetScreenFocused(true)
	c.SetScreenFocused(false)
	c.SetScreenFocused(false)

	assert.Equal(t, []string{"resume", "background"}, target.Calls())
	assert.Equal(t, 2, rr.Count())
}

func TestAppStateWhileFocused(t *testing.T) {
	target := &recordingTarget{}
	rr := &recordingReceipts{}
	c := New(target, rr, WithSettle(0))

	c.SetScreenFocused(true)
	c.SetAppState("background")
	c.SetAppState("inactive")
	c.SetAppState(AppStateActive)

	assert.Equal(t, []string{"resume", "background", "resume"}, target.Calls())
	assert.Equal(t, 3, rr.Count())
}

func TestAppFlipsWhileUnfocusedAreIgnored(t *testing.T) {
	target := &recordingTarget{}
	rr := &recordingReceipts{}
	c := New(target, rr, WithSettle(0))

	c.SetScreenFocused(true)
	c.SetScreenFocused(false)
	c.SetAppForeground(false)
	c.SetAppForeground(true)
	c.SetAppState("background")
	c.SetAppState("active")

	assert.Equal(t, []string{"resume", "background"}, target.Calls())
	assert.Equal(t, 2, rr.Count())
}

func TestFocusWhileAppBackgroundedDoesNotResume(t *testing.T) {
	target := &recordingTarget{}
	c := New(target, nil, WithSettle(0), WithForeground(false))

	c.SetScreenFocused(true)
	assert.Empty(t, target.Calls())

	c.SetAppForeground(true)
	assert.Equal(t, []string{"resume"}, target.Calls())
}

func TestSettleCancelsBackgroundOnQuickResume(t *testing.T) {
	target := &recordingTarget{}
	rr := &recordingReceipts{}
	c := New(target, rr, WithSettle(40*time.Millisecond))
	defer c.Close()

	c.SetScreenFocused(true)
	c.SetScreenFocused(false)
	c.SetScreenFocused(true)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []string{"resume", "resume"}, target.Calls())
	assert.Equal(t, 3, rr.Count(), "receipts fire at every trigger regardless of settle")
}

func TestSettleAppliesBackgroundAfterDwell(t *testing.T) {
	target := &recordingTarget{}
	c := New(target, nil, WithSettle(10*time.Millisecond))
	defer c.Close()

	c.SetScreenFocused(true)
	c.SetScreenFocused(false)
	assert.Equal(t, []string{"resume"}, target.Calls())

	require.Eventually(t, func() bool {
		return len(target.Calls()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "background", target.Calls()[1])
}

func TestCloseDropsPendingBackground(t *testing.T) {
	target := &recordingTarget{}
	c := New(target, nil, WithSettle(10*time.Millisecond))

	c.SetScreenFocused(true)
	c.SetScreenFocused(false)
	c.Close()
	c.SetScreenFocused(true)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{"resume"}, target.Calls())
}

func TestBackgroundInvalidStateIsTolerated(t *testing.T) {
	target := &recordingTarget{bgErr: &convo.StateError{Op: "background", Status: convo.StatusUninitialized}}
	c := New(target, nil, WithSettle(0))

	assert.NotPanics(t, func() {
		c.SetScreenFocused(true)
		c.SetScreenFocused(false)
	})
	assert.Equal(t, []string{"resume", "background"}, target.Calls())
}

func TestDrivesRealAgent(t *testing.T) {
	agent := convo.New(convo.Params{ConvoID: "c1", Client: emptyClient{}},
		convo.WithConfig(convo.Config{PollInterval: time.Hour, SuspendAfter: time.Hour}))
	defer agent.Destroy()

	c := New(agent, nil, WithSettle(0))
	c.SetScreenFocused(true)
	require.Eventually(t, func() bool {
		return agent.Snapshot().Status == convo.StatusReady
	}, time.Second, 5*time.Millisecond)

	c.SetAppState("background")
	assert.Equal(t, convo.StatusBackgrounded, agent.Snapshot().Status)

	c.SetAppState("active")
	assert.Equal(t, convo.StatusReady, agent.Snapshot().Status)
}

func TestFocusMarksReadOnceHistoryLoads(t *testing.T) {
	client := &historyClient{n: 3}
	agent := convo.New(convo.Params{ConvoID: "c1", Client: client},
		convo.WithConfig(convo.Config{PollInterval: time.Hour, SuspendAfter: time.Hour}))
	defer agent.Destroy()

	rr := &recordingReceipts{}
	c := New(agent, rr, WithSettle(0))
	defer c.Close()

	c.SetScreenFocused(true)

	require.Eventually(t, func() bool {
		marks := rr.Marks()
		return len(marks) > 0 && marks[len(marks)-1] == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, convo.StatusReady, agent.Snapshot().Status)
}

func TestResumeFromSuspendedMarksReadAfterResync(t *testing.T) {
	client := &historyClient{n: 2}
	agent := convo.New(convo.Params{ConvoID: "c1", Client: client},
		convo.WithConfig(convo.Config{PollInterval: time.Hour, SuspendAfter: time.Hour}))
	defer agent.Destroy()

	rr := &recordingReceipts{}
	c := New(agent, rr, WithSettle(0))
	defer c.Close()

	c.SetScreenFocused(true)
	require.Eventually(t, func() bool {
		marks := rr.Marks()
		return len(marks) > 0 && marks[len(marks)-1] == 2
	}, time.Second, 5*time.Millisecond)

	c.SetScreenFocused(false)
	require.NoError(t, agent.Suspend())
	client.setCount(5)

	c.SetScreenFocused(true)
	require.Eventually(t, func() bool {
		marks := rr.Marks()
		return marks[len(marks)-1] == 5
	}, time.Second, 5*time.Millisecond)
}

func TestNoFollowUpReceiptAfterBlur(t *testing.T) {
	release := make(chan struct{})
	client := &blockingClient{release: release}
	agent := convo.New(convo.Params{ConvoID: "c1", Client: client},
		convo.WithConfig(convo.Config{PollInterval: time.Hour, SuspendAfter: time.Hour}))
	defer agent.Destroy()

	rr := &recordingReceipts{}
	c := New(agent, rr, WithSettle(0))
	defer c.Close()

	c.SetScreenFocused(true)
	c.SetScreenFocused(false)
	close(release)

	require.Eventually(t, func() bool {
		return agent.Snapshot().Status == convo.StatusBackgrounded
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []int64{0, 0}, rr.Marks())
}

// blockingClient holds the first history load until release is closed.
type blockingClient struct {
	emptyClient
	release chan struct{}
}

func (b *blockingClient) FetchHistory(ctx context.Context, _ string, _ string) (*convo.Page, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &convo.Page{Items: []convo.Item{{Kind: convo.ItemMessage, ID: "m1", Seq: 1, Sender: "bob", Body: "hi"}}}, nil
}
