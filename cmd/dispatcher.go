package cmd

import (
	"context"
	"strings"
	"sync"

	"github.com/adolfousier/opencrab/agent"
	"github.com/adolfousier/opencrab/channel"
	"github.com/adolfousier/opencrab/logger"
)

// Dispatcher routes channel messages to agent sessions. Each session runs
// at most one tool loop at a time; messages arriving while a loop is
// running are queued in the session's mailbox and injected by the loop at
// the next iteration boundary.
type Dispatcher struct {
	channels *channel.Manager
	rt       *runtime

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	svc     *agent.Service
	mailbox *agent.Mailbox
	busy    bool
}

// NewDispatcher creates a dispatcher over the channel manager.
func NewDispatcher(channels *channel.Manager, rt *runtime) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		rt:       rt,
		sessions: make(map[string]*sessionState),
	}
}

// Run starts a goroutine per channel that reads messages and dispatches
// them to sessions. Blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.channels.Each(func(ch channel.Channel) {
		go d.processChannel(ctx, ch)
	})
	<-ctx.Done()
}

func (d *Dispatcher) processChannel(ctx context.Context, ch channel.Channel) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch.Messages():
			if !ok {
				return
			}
			d.dispatch(ctx, ch, msg)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ch channel.Channel, msg *channel.Message) {
	logger.Debug("dispatching message",
		"channel", ch.Name(),
		"channelID", msg.ChannelID,
		"user", msg.Username,
		"text", truncate(msg.Text, 50),
	)

	sessionKey := d.route(msg)
	text := d.preprocessMessage(msg)

	d.mu.Lock()
	state, ok := d.sessions[sessionKey]
	if !ok {
		state = d.newSessionState(ch, msg)
		d.sessions[sessionKey] = state
	}
	if state.busy {
		// A loop is running for this session. Queue the message; the loop
		// picks it up between tool iterations.
		state.mailbox.Offer(text)
		d.mu.Unlock()
		logger.Info("message queued for running session", "session", sessionKey)
		return
	}
	state.busy = true
	d.mu.Unlock()

	go d.runSession(ctx, ch, msg, sessionKey, state, text)
}

func (d *Dispatcher) runSession(ctx context.Context, ch channel.Channel, msg *channel.Message, sessionKey string, state *sessionState, text string) {
	for {
		resp, err := state.svc.SendMessageWithTools(ctx, sessionKey, text)
		if err != nil {
			logger.Error("agent run failed", "session", sessionKey, "err", err)
			d.reply(ctx, ch, msg, "Error: "+err.Error())
		} else {
			logger.Info("agent run finished",
				"session", sessionKey,
				"inputTokens", resp.Usage.InputTokens,
				"outputTokens", resp.Usage.OutputTokens,
				"contextTokens", resp.ContextTokens,
				"cost", resp.Cost,
			)
			d.reply(ctx, ch, msg, resp.Content)
		}

		// A message that arrived after the loop's final poll starts a
		// fresh run so it is never silently dropped.
		d.mu.Lock()
		leftover, pending := state.mailbox.Poll()
		if !pending {
			state.busy = false
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
		text = leftover
	}
}

// newSessionState builds the per-session service with its mailbox wired
// as the loop's injection source. Serve mode has no terminal to prompt
// on, so unapproved tools are denied unless auto-approve is configured.
func (d *Dispatcher) newSessionState(ch channel.Channel, msg *channel.Message) *sessionState {
	mailbox := agent.NewMailbox()
	channelName := ch.Name()
	replyTo := replyTarget(msg)

	svc := d.rt.newService(
		agent.WithQueuePoll(mailbox.PollFunc()),
		agent.WithProgress(func(sessionKey string, ev agent.ProgressEvent) {
			d.forwardProgress(channelName, replyTo, sessionKey, ev)
		}),
	)
	return &sessionState{svc: svc, mailbox: mailbox}
}

// forwardProgress relays notable progress events back to the channel.
func (d *Dispatcher) forwardProgress(channelName, replyTo, sessionKey string, ev agent.ProgressEvent) {
	var text string
	switch ev.Kind {
	case agent.ProgressIntermediateText:
		text = ev.Text
	case agent.ProgressRestartReady:
		text = "Restart ready: " + ev.Status
	default:
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := d.channels.SendTo(context.Background(), channelName, text, replyTo); err != nil {
		logger.Warn("progress delivery failed", "session", sessionKey, "channel", channelName, "err", err)
	}
}

func (d *Dispatcher) reply(ctx context.Context, ch channel.Channel, msg *channel.Message, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := ch.Send(ctx, &channel.Response{Text: text, ReplyTo: replyTarget(msg)}); err != nil {
		logger.Error("response delivery failed", "channel", ch.Name(), "err", err)
	}
}

// replyTarget picks the destination for responses to a message.
func replyTarget(msg *channel.Message) string {
	if chatID := strings.TrimSpace(msg.Metadata["chat_id"]); chatID != "" {
		return chatID
	}
	return strings.TrimSpace(msg.ReplyTo)
}

// route determines the session key for a message. Direct chats share one
// session per user across chats; group chats get a shared session.
func (d *Dispatcher) route(msg *channel.Message) string {
	if msg == nil || msg.ChannelID == "cli:local" {
		return "cli"
	}

	prefix, _, found := strings.Cut(msg.ChannelID, ":")
	if !found {
		return msg.ChannelID
	}

	chatType := strings.TrimSpace(msg.Metadata["chat_type"])
	if chatType == "group" || chatType == "supergroup" {
		return msg.ChannelID // shared session for the group
	}
	if userID := strings.TrimSpace(msg.UserID); userID != "" {
		return prefix + ":" + userID
	}
	return msg.ChannelID
}

// preprocessMessage prepends media summary and sender name to the user
// message.
func (d *Dispatcher) preprocessMessage(msg *channel.Message) string {
	text := msg.Text
	if summary := msg.Metadata["media_summary"]; summary != "" {
		text = summary + "\n\n" + text
	}

	// For group chats, prepend sender name so the agent can distinguish
	// speakers.
	chatType := strings.TrimSpace(msg.Metadata["chat_type"])
	if chatType == "group" || chatType == "supergroup" {
		if sender := strings.TrimSpace(msg.Username); sender != "" {
			text = "[" + sender + "]: " + text
		}
	}

	return text
}
