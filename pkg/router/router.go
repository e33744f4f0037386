// Package router is the conversation engine: it classifies each inbound
// gateway event, decides the response path (draw command vs. conversational
// reply with memory), orchestrates the capability clients and the history
// store, and emits outbound actions.
//
// Routing is stateless per event. Concurrent exchanges on the same
// conversation key race on the read-modify-write of history; the last writer
// wins. That is a deliberate property of the design, not a bug.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/ZXZCAT/bot-worker/pkg/config"
	"github.com/ZXZCAT/bot-worker/pkg/history"
	"github.com/ZXZCAT/bot-worker/pkg/logger"
	"github.com/ZXZCAT/bot-worker/pkg/onebot"
)

const (
	drawPromptNotice  = "请告诉我你想画什么，例如：画 一只可爱的猫咪"
	drawWorkingNotice = "🎨 正在为你绘图，请稍候..."
	drawFailedNotice  = "绘图失败了，请稍后再试 😢"
)

// Capabilities is the inference backend boundary. Both calls absorb their own
// failures and never return errors.
type Capabilities interface {
	ChatComplete(ctx context.Context, turns []history.Turn) string
	GenerateImage(ctx context.Context, prompt string) (string, bool)
}

// Sender delivers outbound actions back to the gateway.
type Sender interface {
	Send(ctx context.Context, action *onebot.Action) error
}

type Router struct {
	selfID       string
	drawPrefix   string
	bareTrigger  string
	maxExchanges int
	ttl          time.Duration
	store        history.Store
	ai           Capabilities
}

func New(cfg *config.Config, store history.Store, ai Capabilities) *Router {
	return &Router{
		selfID:       cfg.Bot.SelfID,
		drawPrefix:   cfg.Bot.DrawPrefix,
		bareTrigger:  strings.TrimSpace(cfg.Bot.DrawPrefix),
		maxExchanges: cfg.History.MaxExchanges,
		ttl:          time.Duration(cfg.History.TTLHours) * time.Hour,
		store:        store,
		ai:           ai,
	}
}

// HandleFrame processes one inbound frame to completion. Malformed frames
// and filtered events are dropped silently; every other outcome produces at
// least one outbound action through sender. Nothing escapes as a panic or
// error: the transport shell runs one of these per frame, concurrently.
func (r *Router) HandleFrame(ctx context.Context, data []byte, sender Sender) {
	evt, err := onebot.ParseEvent(data)
	if err != nil {
		logger.DebugCF("router", "Dropping non-parseable frame", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if !evt.IsMessage() {
		logger.DebugCF("router", "Ignoring non-message event", map[string]any{
			"post_type":       evt.PostType,
			"meta_event_type": evt.MetaEventType,
		})
		return
	}

	userID := onebot.RawID(evt.UserID)
	groupID := onebot.RawID(evt.GroupID)
	isGroup := evt.IsGroup()

	// Group messages respond only when the bot itself is mentioned.
	if isGroup {
		selfID := evt.ResolveSelfID(r.selfID)
		if !evt.MentionsSelf(selfID) {
			logger.DebugCF("router", "Group message without mention, ignoring", map[string]any{
				"group": groupID,
				"self":  selfID,
			})
			return
		}
	}

	text := evt.PlainText()
	if text == "" {
		return
	}

	logger.InfoCF("router", "Routing message", map[string]any{
		"scope":  scopeTag(isGroup),
		"sender": userID,
		"length": len(text),
	})

	// Text extraction trims, so a draw trigger with nothing after it arrives
	// as the bare token.
	if text == r.bareTrigger {
		r.reply(ctx, sender, isGroup, userID, groupID, onebot.TextMessage(drawPromptNotice))
		return
	}

	if strings.HasPrefix(text, r.drawPrefix) {
		r.handleDraw(ctx, sender, isGroup, userID, groupID, text)
		return
	}

	r.handleChat(ctx, sender, isGroup, userID, groupID, text)
}

func (r *Router) handleDraw(ctx context.Context, sender Sender, isGroup bool, userID, groupID, text string) {
	prompt := strings.TrimSpace(strings.TrimPrefix(text, r.drawPrefix))
	if prompt == "" {
		r.reply(ctx, sender, isGroup, userID, groupID, onebot.TextMessage(drawPromptNotice))
		return
	}

	r.reply(ctx, sender, isGroup, userID, groupID, onebot.TextMessage(drawWorkingNotice))

	b64, ok := r.ai.GenerateImage(ctx, prompt)
	if !ok {
		r.reply(ctx, sender, isGroup, userID, groupID, onebot.TextMessage(drawFailedNotice))
		return
	}

	r.reply(ctx, sender, isGroup, userID, groupID, onebot.ImageMessage(b64))
}

func (r *Router) handleChat(ctx context.Context, sender Sender, isGroup bool, userID, groupID, text string) {
	key := history.PrivateKey(userID)
	if isGroup {
		key = history.GroupKey(groupID)
	}

	turns, err := r.store.Get(ctx, key)
	if err != nil {
		// Treat an unreadable store as an empty history, best effort.
		logger.WarnCF("router", "History read failed, continuing without", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
		turns = nil
	}

	turns = append(turns, history.Turn{Role: history.RoleUser, Content: text})

	reply := r.ai.ChatComplete(ctx, turns)

	turns = append(turns, history.Turn{Role: history.RoleAssistant, Content: reply})
	turns = history.Truncate(turns, r.maxExchanges)

	if err := r.store.Put(ctx, key, turns, r.ttl); err != nil {
		logger.WarnCF("router", "History write failed", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}

	r.reply(ctx, sender, isGroup, userID, groupID, onebot.TextMessage(reply))
}

func (r *Router) reply(ctx context.Context, sender Sender, isGroup bool, userID, groupID string, message []onebot.OutSegment) {
	var action *onebot.Action
	if isGroup {
		action = onebot.SendGroup(groupID, message)
	} else {
		action = onebot.SendPrivate(userID, message)
	}

	if err := sender.Send(ctx, action); err != nil {
		logger.ErrorCF("router", "Failed to send action", map[string]any{
			"action": action.Action,
			"echo":   action.Echo,
			"error":  err.Error(),
		})
	}
}

func scopeTag(isGroup bool) string {
	if isGroup {
		return "group"
	}
	return "private"
}
