package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxMessagesQueued = 3
	discordMaxChars          = 1000
	discordSendInterval      = 10 * time.Second
)

// discordNoticeKinds are the events operators get pinged about.
var discordNoticeKinds = map[string]bool{
	eventPoolFailover:    true,
	eventPrimaryRestored: true,
	eventAlgoSwitch:      true,
	eventWatchdogRestart: true,
}

type discordSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// discordNotifier batches operator notices into at most three pending
// messages and sends one every ten seconds.
type discordNotifier struct {
	dg        discordSender
	session   *discordgo.Session
	channelID string
	prefix    string

	mu         sync.Mutex
	queue      []string
	dropped    int
	lastDropAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newDiscordNotifier(token, channelID string) (*discordNotifier, error) {
	dg, err := discordgo.New("Bot " + strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	n := newDiscordNotifierWithSender(dg, channelID)
	n.session = dg
	return n, nil
}

func newDiscordNotifierWithSender(sender discordSender, channelID string) *discordNotifier {
	return &discordNotifier{
		dg:        sender,
		channelID: strings.TrimSpace(channelID),
		prefix:    "[" + poolSoftwareName + "] ",
	}
}

func (n *discordNotifier) start(ctx context.Context) {
	if n == nil {
		return
	}
	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.sendLoop(ctx)
	}()
}

func (n *discordNotifier) Name() string { return "discord" }

func (n *discordNotifier) Handle(_ context.Context, ev proxyEvent) error {
	if n == nil || !discordNoticeKinds[ev.Kind] {
		return nil
	}
	n.enqueueNotice(ev.Message)
	return nil
}

func (n *discordNotifier) Close() error {
	if n == nil {
		return nil
	}
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	if n.session != nil {
		return n.session.Close()
	}
	return nil
}

// enqueueNotice appends msg to the last pending message when it still fits,
// otherwise starts a new one. Beyond the queue limit notices are dropped and
// counted.
func (n *discordNotifier) enqueueNotice(msg string) {
	line := strings.TrimSpace(msg)
	if line == "" {
		return
	}
	line = n.prefix + line
	if len(line) > discordMaxChars {
		line = line[:discordMaxChars]
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if last := len(n.queue) - 1; last >= 0 {
		if merged := n.queue[last] + "\n" + line; len(merged) <= discordMaxChars {
			n.queue[last] = merged
			return
		}
	}
	if len(n.queue) >= discordMaxMessagesQueued {
		n.dropped++
		return
	}
	n.queue = append(n.queue, line)
}

func (n *discordNotifier) sendLoop(ctx context.Context) {
	ticker := time.NewTicker(discordSendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sendNextQueuedMessage()
		}
	}
}

func (n *discordNotifier) sendNextQueuedMessage() {
	if n == nil || n.dg == nil || n.channelID == "" {
		return
	}
	// Peek the next message; only pop it after a successful send.
	n.mu.Lock()
	if len(n.queue) == 0 {
		n.mu.Unlock()
		return
	}
	msg := n.queue[0]
	n.mu.Unlock()

	_, err := n.dg.ChannelMessageSendComplex(n.channelID, &discordgo.MessageSend{
		Content:         msg,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err != nil {
		logger.Warn("discord notify send failed", "error", err)
		if isDiscordPermanentError(err) {
			n.pop()
		}
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) > 0 {
		n.queue = n.queue[1:]
	}
	if n.dropped > 0 {
		now := time.Now()
		if n.lastDropAt.IsZero() || now.Sub(n.lastDropAt) >= time.Minute {
			dropped := n.dropped
			n.dropped = 0
			n.lastDropAt = now
			if len(n.queue) < discordMaxMessagesQueued {
				n.queue = append(n.queue, n.prefix+fmt.Sprintf("Notification backlog full; dropped %d updates to stay within rate limits.", dropped))
			}
		}
	}
}

func (n *discordNotifier) pop() {
	n.mu.Lock()
	if len(n.queue) > 0 {
		n.queue = n.queue[1:]
	}
	n.mu.Unlock()
}

func (n *discordNotifier) pending() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.queue...)
}

func isDiscordPermanentError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, discordgo.ErrUnauthorized) {
		return true
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return false
}
