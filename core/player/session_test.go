package player

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"melodify/model"
)

// fakeNode 记录所有下发指令的假节点
type fakeNode struct {
	mu       sync.Mutex
	name     string
	plays    []model.Track
	stops    int
	pauses   []bool
	volumes  []int
	destroys int
	voices   []model.VoiceUpdate
	playErr  error
}

func newFakeNode(name string) *fakeNode { return &fakeNode{name: name} }

func (f *fakeNode) Name() string { return f.name }
func (f *fakeNode) Online() bool { return true }

func (f *fakeNode) Play(ctx context.Context, guildID string, track model.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.plays = append(f.plays, track)
	return nil
}

func (f *fakeNode) Stop(ctx context.Context, guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeNode) Pause(ctx context.Context, guildID string, paused bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses = append(f.pauses, paused)
	return nil
}

func (f *fakeNode) SetVolume(ctx context.Context, guildID string, volume int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, volume)
	return nil
}

func (f *fakeNode) SetFilters(ctx context.Context, guildID string, filters json.RawMessage) error {
	return nil
}

func (f *fakeNode) UpdateVoice(ctx context.Context, guildID string, voice model.VoiceUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voices = append(f.voices, voice)
	return nil
}

func (f *fakeNode) DestroyPlayer(ctx context.Context, guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys++
	return nil
}

func (f *fakeNode) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays)
}

func (f *fakeNode) lastPlay() model.Track {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays[len(f.plays)-1]
}

// notifyRecorder 收集会话通知
type notifyRecorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *notifyRecorder) record(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *notifyRecorder) kinds() []NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationKind, 0, len(r.items))
	for _, n := range r.items {
		out = append(out, n.Kind)
	}
	return out
}

type sessionHarness struct {
	sess      *Session
	node      *fakeNode
	notes     *notifyRecorder
	destroyed *counter
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func newHarness(t *testing.T, cfg SessionConfig) *sessionHarness {
	t.Helper()
	if cfg.DefaultVolume == 0 {
		cfg.DefaultVolume = 80
	}
	node := newFakeNode("alpha")
	notes := &notifyRecorder{}
	destroyed := &counter{}
	sess := NewSession("guild1", "text1", "voice1", node, cfg, notes.record,
		func(string) { destroyed.inc() })
	return &sessionHarness{sess: sess, node: node, notes: notes, destroyed: destroyed}
}

func TestEnqueueStartsImmediatelyWhenIdle(t *testing.T) {
	h := newHarness(t, SessionConfig{})

	started, _, err := h.sess.Enqueue(context.Background(), track("one"))
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, 1, h.node.playCount())
	assert.Equal(t, "one", h.sess.Current().Title)
	assert.Equal(t, 0, h.sess.QueueLen())
}

func TestEnqueueQueuesBehindCurrent(t *testing.T) {
	h := newHarness(t, SessionConfig{})

	_, _, err := h.sess.Enqueue(context.Background(), track("one"))
	require.NoError(t, err)

	started, position, err := h.sess.Enqueue(context.Background(), track("two"))
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, 1, position)
	assert.Equal(t, 1, h.node.playCount(), "no extra play command while something is current")
}

func TestEnqueueReportsFirstBatchPosition(t *testing.T) {
	h := newHarness(t, SessionConfig{})

	_, _, err := h.sess.Enqueue(context.Background(), track("one"))
	require.NoError(t, err)
	_, _, err = h.sess.Enqueue(context.Background(), track("two"))
	require.NoError(t, err)

	// 多曲入队报告的是本批第一首的位置，而不是队尾
	_, position, err := h.sess.Enqueue(context.Background(), track("three"), track("four"))
	require.NoError(t, err)
	assert.Equal(t, 2, position)
	assert.Equal(t, []string{"two", "three", "four"}, queueTitles(h.sess))
}

func TestTrackStartNotifiesOnce(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"))

	h.sess.HandleTrackStart("enc:one")
	h.sess.HandleTrackStart("enc:one") // 重复投递

	assert.Equal(t, []NotificationKind{NotifyTrackStart}, h.notes.kinds())
}

func TestTrackEndAdvancesQueue(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"), track("two"))
	h.sess.HandleTrackStart("enc:one")

	h.sess.HandleTrackEnd("enc:one", "finished")

	assert.Equal(t, 2, h.node.playCount())
	assert.Equal(t, "two", h.sess.Current().Title)
}

func TestTrackEndStaleEncodedIgnored(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"), track("two"))
	h.sess.HandleTrackStart("enc:one")
	h.sess.HandleTrackEnd("enc:one", "finished")

	// 前一首的迟到结束事件不得再推进一次
	h.sess.HandleTrackEnd("enc:one", "finished")

	assert.Equal(t, "two", h.sess.Current().Title)
	assert.Equal(t, 2, h.node.playCount())
}

func TestDuplicateTrackEndLoopTrackIgnored(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"), track("two"))
	require.NoError(t, h.sess.SetLoop(model.LoopTrack))

	h.sess.HandleTrackStart("enc:one")
	h.sess.HandleTrackEnd("enc:one", "finished")
	require.Equal(t, 2, h.node.playCount())

	// 单曲循环让新旧曲目同码，重复的结束事件穿过同一性检查也不得再推进
	h.sess.HandleTrackEnd("enc:one", "finished")

	assert.Equal(t, 2, h.node.playCount(), "duplicate end must not restart the track on the node")
	assert.Equal(t, "one", h.sess.Current().Title)
	assert.Equal(t, []string{"two"}, queueTitles(h.sess))
}

func TestDuplicateTrackEndLoopQueueIgnored(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"))
	require.NoError(t, h.sess.SetLoop(model.LoopQueue))

	h.sess.HandleTrackStart("enc:one")
	h.sess.HandleTrackEnd("enc:one", "finished")
	require.Equal(t, 2, h.node.playCount())

	h.sess.HandleTrackEnd("enc:one", "finished")

	assert.Equal(t, 2, h.node.playCount())
	assert.Equal(t, "one", h.sess.Current().Title)
	assert.Empty(t, queueTitles(h.sess))

	// 新一轮播放确认后的结束事件才是真的
	h.sess.HandleTrackStart("enc:one")
	h.sess.HandleTrackEnd("enc:one", "finished")
	assert.Equal(t, 3, h.node.playCount())
}

func TestLoopTrackReplaysSame(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"), track("two"))
	require.NoError(t, h.sess.SetLoop(model.LoopTrack))

	h.sess.HandleTrackStart("enc:one")
	h.sess.HandleTrackEnd("enc:one", "finished")

	assert.Equal(t, "one", h.sess.Current().Title, "track loop replays the finished track")
	assert.Equal(t, []string{"two"}, queueTitles(h.sess))
}

func TestLoopQueueRotates(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"), track("two"))
	require.NoError(t, h.sess.SetLoop(model.LoopQueue))

	h.sess.HandleTrackStart("enc:one")
	h.sess.HandleTrackEnd("enc:one", "finished")

	assert.Equal(t, "two", h.sess.Current().Title)
	assert.Equal(t, []string{"one"}, queueTitles(h.sess), "finished track went to the tail")
}

func TestLoopQueueSingleTrackRepeats(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"))
	require.NoError(t, h.sess.SetLoop(model.LoopQueue))

	// 队列为空时队列循环把当前曲目补回队尾并立刻再次提升
	h.sess.HandleTrackStart("enc:one")
	h.sess.HandleTrackEnd("enc:one", "finished")

	assert.Equal(t, "one", h.sess.Current().Title)
	assert.Empty(t, queueTitles(h.sess))
	assert.Equal(t, 2, h.node.playCount())
	assert.True(t, h.sess.Playing())
}

func TestLoopNotAppliedOnStop(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"), track("two"))
	require.NoError(t, h.sess.SetLoop(model.LoopTrack))

	// stopped 结束（比如跳歌）不结算循环
	h.sess.HandleTrackEnd("enc:one", "stopped")

	assert.Equal(t, "two", h.sess.Current().Title)
	assert.Empty(t, queueTitles(h.sess))
}

func TestTrackEndReplacedDoesNotAdvance(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"), track("two"))

	h.sess.HandleTrackEnd("enc:one", "replaced")

	assert.Nil(t, h.sess.Current())
	assert.Equal(t, 1, h.node.playCount(), "replaced means the next play was already issued elsewhere")
}

func TestSkipNothingPlaying(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	err := h.sess.Skip(context.Background())
	assert.ErrorIs(t, err, ErrNothingPlaying)
}

func TestSkipStopsCurrentTrack(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"), track("two"))

	require.NoError(t, h.sess.Skip(context.Background()))
	assert.Equal(t, 1, h.node.stops, "skip is delegated to the node stop command")

	// 节点随后回报 stopped，推进到下一首
	h.sess.HandleTrackEnd("enc:one", "stopped")
	assert.Equal(t, "two", h.sess.Current().Title)
}

func TestPauseRedundancy(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"))

	assert.ErrorIs(t, h.sess.Pause(context.Background(), false), ErrNotPaused)

	require.NoError(t, h.sess.Pause(context.Background(), true))
	assert.True(t, h.sess.Paused())
	assert.False(t, h.sess.Playing())

	assert.ErrorIs(t, h.sess.Pause(context.Background(), true), ErrAlreadyPaused)

	require.NoError(t, h.sess.Pause(context.Background(), false))
	assert.True(t, h.sess.Playing())
	assert.Equal(t, []bool{true, false}, h.node.pauses)
}

func TestVolumeRangeRejected(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"))

	assert.ErrorIs(t, h.sess.SetVolume(context.Background(), -1), ErrVolumeRange)
	assert.ErrorIs(t, h.sess.SetVolume(context.Background(), 151), ErrVolumeRange)
	assert.Empty(t, h.node.volumes, "rejected volume never reaches the node")
	assert.Equal(t, 80, h.sess.Volume())

	require.NoError(t, h.sess.SetVolume(context.Background(), 150))
	assert.Equal(t, 150, h.sess.Volume())
}

func TestShuffleTooShort(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"), track("two"))

	assert.ErrorIs(t, h.sess.Shuffle(), ErrQueueTooShort, "one queued track is not enough")

	h.sess.Enqueue(context.Background(), track("three"))
	assert.NoError(t, h.sess.Shuffle())
}

func TestIdleTimeoutDestroysOnce(t *testing.T) {
	h := newHarness(t, SessionConfig{IdleTimeout: 20 * time.Millisecond})
	h.sess.Enqueue(context.Background(), track("one"))

	h.sess.HandleTrackStart("enc:one")
	h.sess.HandleTrackEnd("enc:one", "finished")
	assert.Contains(t, h.notes.kinds(), NotifyQueueEnd)

	time.Sleep(80 * time.Millisecond)
	assert.True(t, h.sess.Destroyed())
	assert.Equal(t, 1, h.destroyed.get())
	assert.Equal(t, 1, h.node.destroys)
}

func TestEnqueueCancelsIdleTimer(t *testing.T) {
	h := newHarness(t, SessionConfig{IdleTimeout: 30 * time.Millisecond})
	h.sess.Enqueue(context.Background(), track("one"))
	h.sess.HandleTrackStart("enc:one")
	h.sess.HandleTrackEnd("enc:one", "finished")

	_, _, err := h.sess.Enqueue(context.Background(), track("two"))
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.False(t, h.sess.Destroyed(), "new enqueue during the idle window keeps the session alive")
	assert.Equal(t, "two", h.sess.Current().Title)
}

func TestPlayerErrorAutoSkips(t *testing.T) {
	h := newHarness(t, SessionConfig{AutoSkipDelay: 10 * time.Millisecond})
	h.sess.Enqueue(context.Background(), track("one"), track("two"), track("three"))

	h.sess.HandlePlayerError("decoder blew up")
	assert.Contains(t, h.notes.kinds(), NotifyPlayerError)
	assert.Nil(t, h.sess.Current(), "failed track is consumed immediately")

	time.Sleep(50 * time.Millisecond)
	require.NotNil(t, h.sess.Current())
	assert.Equal(t, "two", h.sess.Current().Title)
	assert.Equal(t, []string{"three"}, queueTitles(h.sess))

	// 节点随后补发的 loadFailed 结束事件是同一故障的余波，不得再推进
	h.sess.HandleTrackEnd("enc:one", "loadFailed")
	assert.Equal(t, "two", h.sess.Current().Title)
}

func TestPlayerErrorEmptyQueueDrains(t *testing.T) {
	h := newHarness(t, SessionConfig{AutoSkipDelay: 5 * time.Millisecond, IdleTimeout: time.Minute})
	h.sess.Enqueue(context.Background(), track("one"))

	h.sess.HandlePlayerError("boom")

	assert.Contains(t, h.notes.kinds(), NotifyQueueEnd)
	assert.False(t, h.sess.Destroyed(), "drain waits for the idle timeout, it does not destroy")
}

func TestStopDestroysSession(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"), track("two"))

	require.NoError(t, h.sess.Stop(context.Background()))
	assert.True(t, h.sess.Destroyed())
	assert.Equal(t, 1, h.node.destroys)
	assert.Equal(t, 1, h.destroyed.get())

	assert.ErrorIs(t, h.sess.Stop(context.Background()), ErrSessionDestroyed)
	_, _, err := h.sess.Enqueue(context.Background(), track("three"))
	assert.ErrorIs(t, err, ErrSessionDestroyed)
}

func TestPlayFailureRollsBack(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.node.playErr = errors.New("node rejected")

	started, _, err := h.sess.Enqueue(context.Background(), track("one"))
	assert.Error(t, err)
	assert.False(t, started)
	assert.Nil(t, h.sess.Current())
	assert.Equal(t, []string{"one"}, queueTitles(h.sess), "failed promote leaves the track queued")
}

func TestVoiceCredentialsPushedWhenComplete(t *testing.T) {
	h := newHarness(t, SessionConfig{})

	h.sess.UpdateVoiceServer("tok", "endpoint.example")
	assert.Empty(t, h.node.voices, "partial credentials are held back")

	h.sess.UpdateVoiceState("sess-id")
	require.Len(t, h.node.voices, 1)
	assert.Equal(t, model.VoiceUpdate{Token: "tok", Endpoint: "endpoint.example", SessionID: "sess-id"}, h.node.voices[0])
}

func TestRebindRestartsCurrentTrack(t *testing.T) {
	h := newHarness(t, SessionConfig{})
	h.sess.Enqueue(context.Background(), track("one"), track("two"))
	h.sess.UpdateVoiceServer("tok", "ep")
	h.sess.UpdateVoiceState("sid")

	replacement := newFakeNode("beta")
	require.NoError(t, h.sess.Rebind(context.Background(), replacement))

	assert.Equal(t, "beta", h.sess.NodeName())
	assert.Equal(t, 1, replacement.playCount(), "current track restarts on the new node")
	assert.Equal(t, "one", replacement.lastPlay().Title)
	assert.Len(t, replacement.voices, 1, "voice credentials are re-sent")
	assert.Equal(t, []string{"two"}, queueTitles(h.sess))
}

func queueTitles(s *Session) []string {
	tracks := s.QueueTracks()
	if len(tracks) == 0 {
		return nil
	}
	out := make([]string, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.Title)
	}
	return out
}
