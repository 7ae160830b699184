package player

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"melodify/model"
)

// fakeSource 按序返回预置节点的选点源
type fakeSource struct {
	mu    sync.Mutex
	nodes []*fakeNode
	err   error
}

func (s *fakeSource) Select(ctx context.Context) (NodeClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	node := s.nodes[0]
	if len(s.nodes) > 1 {
		s.nodes = s.nodes[1:]
	}
	return node, nil
}

func newTestManager(source *fakeSource, moveOnDisconnect bool) *Manager {
	return NewManager(source, Config{
		DefaultVolume:    80,
		MoveOnDisconnect: moveOnDisconnect,
	})
}

func playReq(tracks ...model.Track) PlayRequest {
	return PlayRequest{
		GuildID:        "guild1",
		TextChannelID:  "text1",
		VoiceChannelID: "voice1",
		Tracks:         tracks,
	}
}

func TestPlayCreatesSession(t *testing.T) {
	source := &fakeSource{nodes: []*fakeNode{newFakeNode("alpha")}}
	m := newTestManager(source, false)

	res, err := m.Play(context.Background(), playReq(track("one")))
	require.NoError(t, err)
	assert.True(t, res.Started)
	assert.Equal(t, "alpha", res.Node)
	assert.Equal(t, 1, m.SessionCount())
	require.NotNil(t, m.Session("guild1"))
}

func TestPlayReusesSession(t *testing.T) {
	source := &fakeSource{nodes: []*fakeNode{newFakeNode("alpha"), newFakeNode("beta")}}
	m := newTestManager(source, false)

	_, err := m.Play(context.Background(), playReq(track("one")))
	require.NoError(t, err)

	res, err := m.Play(context.Background(), playReq(track("two")))
	require.NoError(t, err)
	assert.False(t, res.Started)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, "alpha", res.Node, "second play lands on the existing session's node")
	assert.Equal(t, 1, m.SessionCount())
}

func TestPlayEmptyRequest(t *testing.T) {
	m := newTestManager(&fakeSource{nodes: []*fakeNode{newFakeNode("alpha")}}, false)
	_, err := m.Play(context.Background(), playReq())
	assert.Error(t, err)
	assert.Equal(t, 0, m.SessionCount())
}

func TestPlayNoNodeAvailable(t *testing.T) {
	wantErr := errors.New("no audio node available")
	m := newTestManager(&fakeSource{err: wantErr}, false)

	_, err := m.Play(context.Background(), playReq(track("one")))
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, m.SessionCount(), "failed selection must not leave a session behind")
}

func TestCommandsWithoutSession(t *testing.T) {
	m := newTestManager(&fakeSource{nodes: []*fakeNode{newFakeNode("alpha")}}, false)
	ctx := context.Background()

	assert.ErrorIs(t, m.Skip(ctx, "nope"), ErrNoSession)
	assert.ErrorIs(t, m.Stop(ctx, "nope"), ErrNoSession)
	assert.ErrorIs(t, m.Pause(ctx, "nope", true), ErrNoSession)
	assert.ErrorIs(t, m.SetVolume(ctx, "nope", 50), ErrNoSession)
	assert.ErrorIs(t, m.SetLoop("nope", model.LoopTrack), ErrNoSession)
	assert.ErrorIs(t, m.Shuffle("nope"), ErrNoSession)
	_, err := m.Remove("nope", 0)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStopRemovesSession(t *testing.T) {
	source := &fakeSource{nodes: []*fakeNode{newFakeNode("alpha")}}
	m := newTestManager(source, false)

	_, err := m.Play(context.Background(), playReq(track("one")))
	require.NoError(t, err)

	require.NoError(t, m.Stop(context.Background(), "guild1"))
	assert.Equal(t, 0, m.SessionCount(), "destroyed session is dropped from the registry")
	assert.ErrorIs(t, m.Skip(context.Background(), "guild1"), ErrNoSession)
}

func TestTrackEventsRoutedByGuild(t *testing.T) {
	source := &fakeSource{nodes: []*fakeNode{newFakeNode("alpha")}}
	m := newTestManager(source, false)

	_, err := m.Play(context.Background(), playReq(track("one"), track("two")))
	require.NoError(t, err)
	m.OnTrackStart("alpha", "guild1", "enc:one")

	m.OnTrackEnd("alpha", "other-guild", "enc:one", "finished")
	assert.Equal(t, "one", m.Session("guild1").Current().Title, "events for other guilds are ignored")

	m.OnTrackEnd("alpha", "guild1", "enc:one", "finished")
	assert.Equal(t, "two", m.Session("guild1").Current().Title)
}

func TestNodeDisconnectDestroysSessions(t *testing.T) {
	source := &fakeSource{nodes: []*fakeNode{newFakeNode("alpha")}}
	m := newTestManager(source, false)

	_, err := m.Play(context.Background(), playReq(track("one")))
	require.NoError(t, err)

	m.OnNodeDisconnect("alpha", "reconnect attempts exhausted")

	assert.Equal(t, 0, m.SessionCount())

	select {
	case n := <-m.Notifications():
		assert.Equal(t, NotifySessionEnd, n.Kind)
		assert.Equal(t, "guild1", n.GuildID)
	default:
		t.Fatal("expected a session end notification")
	}
}

func TestNodeDisconnectMovesSessions(t *testing.T) {
	alpha := newFakeNode("alpha")
	beta := newFakeNode("beta")
	source := &fakeSource{nodes: []*fakeNode{alpha, beta}}
	m := newTestManager(source, true)

	_, err := m.Play(context.Background(), playReq(track("one"), track("two")))
	require.NoError(t, err)
	require.Equal(t, "alpha", m.Session("guild1").NodeName())

	m.OnNodeDisconnect("alpha", "reconnect attempts exhausted")

	sess := m.Session("guild1")
	require.NotNil(t, sess, "session survives the disconnect")
	assert.Equal(t, "beta", sess.NodeName())
	assert.Equal(t, 1, beta.playCount(), "current track restarted on the new node")
	assert.Equal(t, "one", beta.lastPlay().Title)
}

func TestNodeDisconnectOtherNodeUntouched(t *testing.T) {
	source := &fakeSource{nodes: []*fakeNode{newFakeNode("alpha")}}
	m := newTestManager(source, false)

	_, err := m.Play(context.Background(), playReq(track("one")))
	require.NoError(t, err)

	m.OnNodeDisconnect("beta", "reconnect attempts exhausted")
	assert.Equal(t, 1, m.SessionCount(), "sessions on other nodes are unaffected")
}

func TestVoiceUpdatesForwarded(t *testing.T) {
	alpha := newFakeNode("alpha")
	source := &fakeSource{nodes: []*fakeNode{alpha}}
	m := newTestManager(source, false)

	_, err := m.Play(context.Background(), playReq(track("one")))
	require.NoError(t, err)

	m.UpdateVoiceServer("guild1", "tok", "ep")
	m.UpdateVoiceState("guild1", "sid")

	require.Len(t, alpha.voices, 1)
	assert.Equal(t, "sid", alpha.voices[0].SessionID)

	// 无会话的 guild 的语音事件被安静丢弃
	m.UpdateVoiceServer("ghost", "tok", "ep")
	m.UpdateVoiceState("ghost", "sid")
}
