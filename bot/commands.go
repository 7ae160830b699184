package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"melodify/core/lavalink"
	"melodify/core/player"
	"melodify/core/search"
	"melodify/logger"
	"melodify/model"
)

// onMessageCreate 前缀命令分发入口
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if !strings.HasPrefix(m.Content, b.prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(m.Content, b.prefix))
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]

	ctx := context.Background()

	switch command {
	case "play", "p":
		b.cmdPlay(ctx, m, args)
	case "skip", "s":
		b.cmdSkip(ctx, m)
	case "stop", "dc", "leave":
		b.cmdStop(ctx, m)
	case "pause":
		b.cmdPause(ctx, m, true)
	case "resume":
		b.cmdPause(ctx, m, false)
	case "queue", "q":
		b.cmdQueue(m)
	case "np", "nowplaying":
		b.cmdNowPlaying(m)
	case "vol", "volume":
		b.cmdVolume(ctx, m, args)
	case "shuffle":
		b.cmdShuffle(m)
	case "loop":
		b.cmdLoop(m, args)
	case "remove", "rm":
		b.cmdRemove(m, args)
	case "nodes":
		b.cmdNodes(m)
	case "setnode", "node":
		b.cmdSetNode(m, args)
	case "ping":
		b.cmdPing(m)
	case "help":
		b.cmdHelp(m)
	}
}

// ========== 播放 ==========

func (b *Bot) cmdPlay(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.reply(m.ChannelID, "Usage: "+b.prefix+"play <url or search terms>")
		return
	}

	vs, err := b.session.State.VoiceState(m.GuildID, m.Author.ID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		b.reply(m.ChannelID, "❌ You need to be in a voice channel first.")
		return
	}

	query := strings.Join(args, " ")
	result, err := b.resolver.Resolve(ctx, query)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrNoMatches):
			b.reply(m.ChannelID, "❌ No results found for: "+query)
		case errors.Is(err, lavalink.ErrNoNodeAvailable):
			b.reply(m.ChannelID, "⏳ No audio node is available right now, please try again shortly.")
		default:
			logger.Error("track resolve failed",
				logger.String("query", query),
				logger.ErrorField(err))
			b.reply(m.ChannelID, "❌ Failed to load that track.")
		}
		return
	}

	requester := model.Requester{ID: m.Author.ID, Name: m.Author.Username}
	for i := range result.Tracks {
		result.Tracks[i].Requester = requester
	}

	if err := b.joinVoice(m.GuildID, vs.ChannelID); err != nil {
		logger.Error("failed to join voice channel",
			logger.String("guild", m.GuildID),
			logger.ErrorField(err))
		b.reply(m.ChannelID, "❌ Could not join your voice channel.")
		return
	}

	res, err := b.manager.Play(ctx, player.PlayRequest{
		GuildID:        m.GuildID,
		TextChannelID:  m.ChannelID,
		VoiceChannelID: vs.ChannelID,
		Tracks:         result.Tracks,
		PlaylistName:   result.PlaylistName,
	})
	if err != nil {
		if errors.Is(err, lavalink.ErrNoNodeAvailable) {
			b.reply(m.ChannelID, "⏳ No audio node is available right now, please try again shortly.")
			return
		}
		logger.Error("play request failed",
			logger.String("guild", m.GuildID),
			logger.ErrorField(err))
		b.reply(m.ChannelID, "❌ Failed to start playback.")
		return
	}

	switch {
	case result.Playlist:
		name := result.PlaylistName
		if name == "" {
			name = "playlist"
		}
		b.reply(m.ChannelID, fmt.Sprintf("📃 Queued **%d** tracks from **%s**", res.Count, name))
	case res.Started:
		// 开始播放的回显由 TrackStart 通知负责，避免重复刷屏
	default:
		b.reply(m.ChannelID, fmt.Sprintf("➕ Queued **%s** (position %d)", res.Track.Title, res.Position))
	}
}

// ========== 播放控制 ==========

func (b *Bot) cmdSkip(ctx context.Context, m *discordgo.MessageCreate) {
	if err := b.manager.Skip(ctx, m.GuildID); err != nil {
		b.replyCommandError(m.ChannelID, err)
		return
	}
	b.reply(m.ChannelID, "⏭️ Skipped.")
}

func (b *Bot) cmdStop(ctx context.Context, m *discordgo.MessageCreate) {
	if err := b.manager.Stop(ctx, m.GuildID); err != nil {
		b.replyCommandError(m.ChannelID, err)
		return
	}
	b.leaveVoice(m.GuildID)
	b.reply(m.ChannelID, "⏹️ Stopped and left the voice channel.")
}

func (b *Bot) cmdPause(ctx context.Context, m *discordgo.MessageCreate, paused bool) {
	if err := b.manager.Pause(ctx, m.GuildID, paused); err != nil {
		b.replyCommandError(m.ChannelID, err)
		return
	}
	if paused {
		b.reply(m.ChannelID, "⏸️ Paused.")
	} else {
		b.reply(m.ChannelID, "▶️ Resumed.")
	}
}

func (b *Bot) cmdVolume(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	sess := b.manager.Session(m.GuildID)
	if sess == nil {
		b.replyCommandError(m.ChannelID, player.ErrNoSession)
		return
	}

	if len(args) == 0 {
		b.reply(m.ChannelID, fmt.Sprintf("🔊 Volume: **%d**", sess.Volume()))
		return
	}

	vol, err := strconv.Atoi(args[0])
	if err != nil {
		b.reply(m.ChannelID, "Usage: "+b.prefix+"volume <0-150>")
		return
	}
	if err := b.manager.SetVolume(ctx, m.GuildID, vol); err != nil {
		b.replyCommandError(m.ChannelID, err)
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("🔊 Volume set to **%d**", vol))
}

func (b *Bot) cmdShuffle(m *discordgo.MessageCreate) {
	if err := b.manager.Shuffle(m.GuildID); err != nil {
		b.replyCommandError(m.ChannelID, err)
		return
	}
	b.reply(m.ChannelID, "🔀 Queue shuffled.")
}

func (b *Bot) cmdLoop(m *discordgo.MessageCreate, args []string) {
	sess := b.manager.Session(m.GuildID)
	if sess == nil {
		b.replyCommandError(m.ChannelID, player.ErrNoSession)
		return
	}

	if len(args) == 0 {
		b.reply(m.ChannelID, fmt.Sprintf("🔁 Loop mode: **%s**", sess.Loop()))
		return
	}

	mode, err := model.ParseLoopMode(args[0])
	if err != nil {
		b.reply(m.ChannelID, "Usage: "+b.prefix+"loop <off|track|queue>")
		return
	}
	if err := b.manager.SetLoop(m.GuildID, mode); err != nil {
		b.replyCommandError(m.ChannelID, err)
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("🔁 Loop mode set to **%s**", mode))
}

func (b *Bot) cmdRemove(m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.reply(m.ChannelID, "Usage: "+b.prefix+"remove <queue position>")
		return
	}
	pos, err := strconv.Atoi(args[0])
	if err != nil || pos < 1 {
		b.reply(m.ChannelID, "Usage: "+b.prefix+"remove <queue position>")
		return
	}

	track, err := b.manager.Remove(m.GuildID, pos-1)
	if err != nil {
		b.replyCommandError(m.ChannelID, err)
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("🗑️ Removed **%s** from the queue", track.Title))
}

// ========== 状态查询 ==========

func (b *Bot) cmdQueue(m *discordgo.MessageCreate) {
	sess := b.manager.Session(m.GuildID)
	if sess == nil {
		b.replyCommandError(m.ChannelID, player.ErrNoSession)
		return
	}

	var sb strings.Builder
	if current := sess.Current(); current != nil {
		fmt.Fprintf(&sb, "**Now playing:** %s [%s]\n\n", current.Title, formatDuration(current))
	}

	tracks := sess.QueueTracks()
	if len(tracks) == 0 {
		sb.WriteString("The queue is empty.")
	} else {
		const maxShown = 10
		for i, t := range tracks {
			if i >= maxShown {
				fmt.Fprintf(&sb, "...and %d more", len(tracks)-maxShown)
				break
			}
			fmt.Fprintf(&sb, "`%d.` %s [%s] — requested by %s\n",
				i+1, t.Title, formatDuration(&t), t.Requester.Name)
		}
	}

	b.sendEmbed(m.ChannelID, &discordgo.MessageEmbed{
		Title:       "🎵 Queue",
		Description: sb.String(),
		Color:       0x1db954,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%d tracks | loop: %s | node: %s",
				len(tracks), sess.Loop(), sess.NodeName()),
		},
	})
}

func (b *Bot) cmdNowPlaying(m *discordgo.MessageCreate) {
	sess := b.manager.Session(m.GuildID)
	if sess == nil {
		b.replyCommandError(m.ChannelID, player.ErrNoSession)
		return
	}
	current := sess.Current()
	if current == nil {
		b.replyCommandError(m.ChannelID, player.ErrNothingPlaying)
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       "🎶 Now Playing",
		Description: fmt.Sprintf("**[%s](%s)**\nby %s", current.Title, current.URI, current.Author),
		Color:       0x1db954,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: formatDuration(current), Inline: true},
			{Name: "Volume", Value: strconv.Itoa(sess.Volume()), Inline: true},
			{Name: "Requested by", Value: current.Requester.Name, Inline: true},
		},
	}
	if current.ArtworkURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: current.ArtworkURL}
	}
	b.sendEmbed(m.ChannelID, embed)
}

func (b *Bot) cmdNodes(m *discordgo.MessageCreate) {
	statuses := b.registry.ListNodes()
	preference := b.registry.Preference()

	var sb strings.Builder
	for _, st := range statuses {
		marker := "🔴"
		if st.Online {
			marker = "🟢"
		}
		fmt.Fprintf(&sb, "%s **%s** — %s", marker, st.Name, st.State)
		if st.Stats != nil {
			fmt.Fprintf(&sb, " | players: %d/%d", st.Stats.PlayingPlayers, st.Stats.Players)
		}
		if strings.EqualFold(st.Name, preference) {
			sb.WriteString(" ⭐")
		}
		sb.WriteString("\n")
	}

	b.sendEmbed(m.ChannelID, &discordgo.MessageEmbed{
		Title:       "🖥️ Audio Nodes",
		Description: sb.String(),
		Color:       0x5865f2,
		Footer:      &discordgo.MessageEmbedFooter{Text: "preference: " + preference},
	})
}

func (b *Bot) cmdSetNode(m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.reply(m.ChannelID, "Usage: "+b.prefix+"setnode <name|auto>")
		return
	}

	online, err := b.registry.SetPreference(args[0])
	if err != nil {
		b.reply(m.ChannelID, "❌ "+err.Error())
		return
	}

	name := b.registry.Preference()
	if online {
		b.reply(m.ChannelID, fmt.Sprintf("✅ Node preference set to **%s**", name))
	} else {
		b.reply(m.ChannelID, fmt.Sprintf("⚠️ Node preference set to **%s**, but it is offline; falling back to priority order until it recovers", name))
	}
}

func (b *Bot) cmdPing(m *discordgo.MessageCreate) {
	online, total := b.registry.OnlineCount()
	b.reply(m.ChannelID, fmt.Sprintf("🏓 Pong! Gateway latency: %dms | nodes online: %d/%d",
		b.session.HeartbeatLatency().Milliseconds(), online, total))
}

func (b *Bot) cmdHelp(m *discordgo.MessageCreate) {
	p := b.prefix
	b.sendEmbed(m.ChannelID, &discordgo.MessageEmbed{
		Title: "📖 Commands",
		Color: 0x5865f2,
		Description: strings.Join([]string{
			"`" + p + "play <url|search>` — play a track or queue it",
			"`" + p + "skip` — skip the current track",
			"`" + p + "stop` — stop and leave the voice channel",
			"`" + p + "pause` / `" + p + "resume` — pause or resume playback",
			"`" + p + "queue` — show the queue",
			"`" + p + "np` — show the current track",
			"`" + p + "volume [0-150]` — show or set the volume",
			"`" + p + "shuffle` — shuffle the queue",
			"`" + p + "loop <off|track|queue>` — set the loop mode",
			"`" + p + "remove <n>` — remove a queued track",
			"`" + p + "nodes` — show audio node status",
			"`" + p + "setnode <name|auto>` — set the preferred node",
			"`" + p + "ping` — latency and node summary",
		}, "\n"),
	})
}

// ========== 辅助 ==========

// replyCommandError 把核心的校验错误翻译成用户提示
func (b *Bot) replyCommandError(channelID string, err error) {
	switch {
	case errors.Is(err, player.ErrNoSession), errors.Is(err, player.ErrSessionDestroyed):
		b.reply(channelID, "❌ Nothing is playing in this server.")
	case errors.Is(err, player.ErrNothingPlaying):
		b.reply(channelID, "❌ Nothing is playing right now.")
	case errors.Is(err, player.ErrAlreadyPaused):
		b.reply(channelID, "❌ Playback is already paused.")
	case errors.Is(err, player.ErrNotPaused):
		b.reply(channelID, "❌ Playback is not paused.")
	case errors.Is(err, player.ErrVolumeRange):
		b.reply(channelID, "❌ Volume must be between 0 and 150.")
	case errors.Is(err, player.ErrQueueTooShort):
		b.reply(channelID, "❌ Need at least 2 queued tracks to shuffle.")
	default:
		logger.Error("command failed", logger.ErrorField(err))
		b.reply(channelID, "❌ Something went wrong, please try again.")
	}
}

func (b *Bot) sendEmbed(channelID string, embed *discordgo.MessageEmbed) {
	if _, err := b.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		logger.Warn("failed to send embed",
			logger.String("channel", channelID),
			logger.ErrorField(err))
	}
}

// formatDuration 毫秒时长转 mm:ss / hh:mm:ss，直播显示 LIVE
func formatDuration(t *model.Track) string {
	if t.IsStream() {
		return "LIVE"
	}
	total := t.Duration / 1000
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
