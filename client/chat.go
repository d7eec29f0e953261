package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/logan496/elearning-chat/internal/db"
	"github.com/logan496/elearning-chat/internal/models"
	"github.com/logan496/elearning-chat/internal/protocol"
)

const (
	defaultSendTimeout   = 12 * time.Second
	defaultSweepInterval = 2 * time.Second
	generalDisplayName   = "General"
	cacheRestoreLimit    = 50
)

// Config configures a Chat client.
type Config struct {
	// ServerURL is the platform base URL, e.g. https://chat.example.com.
	// The socket lives at <ServerURL>/chat, the history API under /api.
	ServerURL string
	// Token is the bearer credential for both the socket and history API.
	Token string
	// Self is the authenticated user; used to route echoes of own sends.
	Self models.User

	// CachePath enables the local sqlite cache when non-empty.
	CachePath string
	// SendTimeout bounds how long a send may stay pending before it is
	// marked failed. Zero means the default.
	SendTimeout time.Duration
	// SweepInterval is how often timed-out sends are collected.
	SweepInterval time.Duration

	// History overrides the REST history client; nil uses ServerURL.
	History History
	// Registry enables metrics when non-nil.
	Registry prometheus.Registerer

	Logger zerolog.Logger
}

// Chat is the synchronization core: it keeps a local view of every
// conversation in step with the server, sending optimistically and
// reconciling echoes, live arrivals and history into one list per
// conversation.
type Chat struct {
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics

	session *Session
	pending *PendingTracker
	recon   *Reconciler
	dir     *Directory
	view    *ViewSelector
	history History
	cache   *db.Cache

	seedMu sync.Mutex
	seeded map[models.ConversationKey]bool

	cbMu         sync.RWMutex
	onMessage    func(key models.ConversationKey, msg models.Message, live bool)
	onHistory    func(key models.ConversationKey, msgs []models.Message)
	onUpdate     func()
	onSendFailed func(key models.ConversationKey, tempID string)

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a chat client. Start connects it.
func New(cfg Config) (*Chat, error) {
	if cfg.Self.ID == 0 {
		return nil, fmt.Errorf("config needs the authenticated user")
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("config needs the server URL")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	log := cfg.Logger.With().Str("component", "chat").Logger()

	var metrics *Metrics
	if cfg.Registry != nil {
		metrics = NewMetrics(cfg.Registry)
	}

	history := cfg.History
	if history == nil {
		history = NewRESTHistory(cfg.ServerURL, cfg.Token)
	}

	var cache *db.Cache
	if cfg.CachePath != "" {
		var err error
		cache, err = db.Open(cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
	}

	pending := NewPendingTracker()
	c := &Chat{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		pending: pending,
		recon:   NewReconciler(pending, log),
		dir:     NewDirectory(),
		history: history,
		cache:   cache,
		seeded:  make(map[models.ConversationKey]bool),
		done:    make(chan struct{}),
	}
	c.view = NewViewSelector(c.dir)
	c.session = NewSession(SessionConfig{
		URL:     strings.TrimSuffix(cfg.ServerURL, "/") + "/chat",
		Token:   cfg.Token,
		Logger:  cfg.Logger,
		Metrics: metrics,
	})
	return c, nil
}

// SetMessageHandler registers the callback for reconciled messages. live is
// true when the message belongs to the active conversation and should render
// in the visible pane; otherwise only the sidebar changed.
func (c *Chat) SetMessageHandler(fn func(key models.ConversationKey, msg models.Message, live bool)) {
	c.cbMu.Lock()
	c.onMessage = fn
	c.cbMu.Unlock()
}

// SetHistoryHandler registers the callback for a freshly seeded conversation.
func (c *Chat) SetHistoryHandler(fn func(key models.ConversationKey, msgs []models.Message)) {
	c.cbMu.Lock()
	c.onHistory = fn
	c.cbMu.Unlock()
}

// SetUpdateHandler registers the callback for sidebar changes.
func (c *Chat) SetUpdateHandler(fn func()) {
	c.cbMu.Lock()
	c.onUpdate = fn
	c.cbMu.Unlock()
}

// SetSendFailedHandler registers the callback for sends that timed out.
func (c *Chat) SetSendFailedHandler(fn func(key models.ConversationKey, tempID string)) {
	c.cbMu.Lock()
	c.onSendFailed = fn
	c.cbMu.Unlock()
}

// SetStateHandler registers the connection-state observer.
func (c *Chat) SetStateHandler(fn func(ConnState)) {
	c.session.OnStateChange(fn)
}

// Start restores the cached directory, connects the socket and loads the
// conversation list. Conversation-list or cache failures are logged, not
// fatal: the client still works with what the live socket delivers.
func (c *Chat) Start(ctx context.Context) error {
	c.dir.Ensure(models.GeneralKey, DisplayInfo{DisplayName: generalDisplayName})

	if c.cache != nil {
		cached, err := c.cache.Conversations()
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to restore cached conversations")
		}
		for _, conv := range cached {
			c.dir.Install(conv)
		}
	}

	c.session.On(protocol.EventGeneralNew, c.handleGeneral)
	c.session.On(protocol.EventDirectNew, c.handleDirect)
	c.session.On(protocol.EventDirectSent, c.handleDirect)
	c.session.Connect(ctx)

	conversations, err := c.history.Conversations(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to load conversation list")
	}
	for _, conv := range conversations {
		c.dir.Install(conv)
		c.persistConversation(conv.Key)
	}
	c.fireUpdate()

	go c.sweepLoop()
	return nil
}

// Close shuts the client down.
func (c *Chat) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.session.Close()
		if c.cache != nil {
			err = c.cache.Close()
		}
	})
	return err
}

// State returns the socket connection state.
func (c *Chat) State() ConnState {
	return c.session.State()
}

// Conversations returns the sidebar in display order.
func (c *Chat) Conversations() []models.Conversation {
	return c.dir.List()
}

// Messages returns a conversation's messages in display order.
func (c *Chat) Messages(key models.ConversationKey) []models.Message {
	return c.recon.Messages(key)
}

// Active returns the visible conversation key, if any.
func (c *Chat) Active() (models.ConversationKey, bool) {
	return c.view.Active()
}

// SendGeneral sends a message to the shared room and returns the optimistic
// placeholder already appended to the room's list. Content validity (non-empty
// after trimming) is the caller's responsibility.
func (c *Chat) SendGeneral(content string) models.Message {
	msg, tempID := c.stagePending(models.GeneralKey, content)
	c.session.Emit(protocol.EventSendGeneral, protocol.GeneralSend{
		Content: content,
		TempID:  tempID,
	})
	return msg
}

// SendDirect sends a one-to-one message, lazily creating the conversation on
// first contact, and returns the optimistic placeholder.
func (c *Chat) SendDirect(recipient models.User, content string) models.Message {
	key := models.UserKey(recipient.ID)
	c.dir.Ensure(key, DisplayInfo{DisplayName: recipient.Username, Avatar: recipient.Avatar})

	msg, tempID := c.stagePending(key, content)
	c.session.Emit(protocol.EventSendDirect, protocol.DirectSend{
		RecipientID: recipient.ID,
		Content:     content,
		TempID:      tempID,
	})
	return msg
}

func (c *Chat) stagePending(key models.ConversationKey, content string) (models.Message, string) {
	now := time.Now()
	tempID := c.pending.Begin(key, now)
	msg := models.Message{
		TempID:       tempID,
		Conversation: key,
		Sender:       c.cfg.Self,
		Content:      content,
		SentAt:       now, // provisional; the server stamp wins on confirmation
		State:        models.StatePending,
	}
	c.recon.AppendLocal(key, msg)
	c.dir.ApplyPreview(key, msg, false)
	c.fireMessage(key, msg, c.view.IsActive(key))
	c.fireUpdate()
	return msg, tempID
}

// Open makes key the visible conversation, clears its unread counter and, on
// first open, seeds its list from history in the background.
func (c *Chat) Open(ctx context.Context, key models.ConversationKey) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if _, ok := c.dir.Get(key); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, key)
	}
	c.view.SetActive(key)
	c.persistConversation(key)
	c.fireUpdate()

	c.seedMu.Lock()
	alreadySeeded := c.seeded[key]
	c.seedMu.Unlock()
	if !alreadySeeded {
		c.restoreFromCache(key)
		go c.seedHistory(ctx, key)
	}
	return nil
}

// restoreFromCache pre-fills a never-seeded pane with the cached backlog so a
// restart shows recent messages before (or without) the network. The fresh
// history supersedes it when the fetch resolves.
func (c *Chat) restoreFromCache(key models.ConversationKey) {
	if c.cache == nil {
		return
	}
	cached, err := c.cache.RecentMessages(key, cacheRestoreLimit)
	if err != nil {
		c.log.Warn().Err(err).Str("conversation", string(key)).
			Msg("failed to restore cached messages")
		return
	}
	if len(cached) == 0 {
		return
	}
	c.recon.Seed(key, cached)
	c.cbMu.RLock()
	onHistory := c.onHistory
	c.cbMu.RUnlock()
	if onHistory != nil {
		onHistory(key, c.recon.Messages(key))
	}
}

// StartDirect ensures the conversation with user exists and opens it: the
// programmatic "start new chat" transition.
func (c *Chat) StartDirect(ctx context.Context, user models.User) error {
	key := models.UserKey(user.ID)
	c.dir.Ensure(key, DisplayInfo{DisplayName: user.Username, Avatar: user.Avatar})
	return c.Open(ctx, key)
}

// seedHistory fetches a conversation's history once. A fetch that resolves
// after the user has moved to a different conversation is discarded: the
// guard compares the key against the active one at resolution time, so a slow
// response cannot clobber the pane the user is actually looking at.
func (c *Chat) seedHistory(ctx context.Context, key models.ConversationKey) {
	var (
		msgs []models.Message
		err  error
	)
	if key.IsGeneral() {
		msgs, err = c.history.General(ctx)
	} else {
		userID, ok := key.UserID()
		if !ok {
			return
		}
		msgs, err = c.history.Direct(ctx, userID)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("conversation", string(key)).
			Msg("failed to load history")
		return
	}

	if !c.view.IsActive(key) {
		c.log.Debug().Str("conversation", string(key)).
			Msg("discarding stale history response")
		return
	}

	c.recon.Seed(key, msgs)
	c.seedMu.Lock()
	c.seeded[key] = true
	c.seedMu.Unlock()
	c.refreshCache(key, msgs)

	c.cbMu.RLock()
	onHistory := c.onHistory
	c.cbMu.RUnlock()
	if onHistory != nil {
		onHistory(key, c.recon.Messages(key))
	}
}

// refreshCache replaces a conversation's cached backlog with the freshly
// fetched history, dropping rows the server no longer returns.
func (c *Chat) refreshCache(key models.ConversationKey, msgs []models.Message) {
	if c.cache == nil {
		return
	}
	if err := c.cache.ClearMessages(key); err != nil {
		c.log.Warn().Err(err).Str("conversation", string(key)).
			Msg("failed to clear cached messages")
		return
	}
	for _, msg := range msgs {
		if !msg.Confirmed() {
			continue
		}
		if err := c.cache.SaveMessage(msg); err != nil {
			c.log.Warn().Err(err).Str("conversation", string(key)).
				Msg("failed to cache message")
			return
		}
	}
}

func (c *Chat) handleGeneral(data []byte) {
	inbound, ok := c.decode(data)
	if !ok {
		return
	}
	c.ingest(inbound.ToModel(models.GeneralKey), *inbound.Sender)
}

func (c *Chat) handleDirect(data []byte) {
	inbound, ok := c.decode(data)
	if !ok {
		return
	}
	key, ok := DirectKey(c.cfg.Self.ID, *inbound.Sender, inbound.Recipient)
	if !ok {
		c.metrics.malformed()
		c.log.Warn().Msg("dropping own direct echo without recipient")
		return
	}

	counterpart := *inbound.Sender
	if inbound.Recipient != nil && inbound.Sender.ID == c.cfg.Self.ID {
		counterpart = *inbound.Recipient
	}
	c.ingest(inbound.ToModel(key), counterpart)
}

func (c *Chat) decode(data []byte) (*protocol.InboundMessage, bool) {
	var inbound protocol.InboundMessage
	if err := json.Unmarshal(data, &inbound); err != nil {
		c.metrics.malformed()
		c.log.Warn().Err(err).Msg("dropping undecodable message frame")
		return nil, false
	}
	if err := inbound.Validate(); err != nil {
		c.metrics.malformed()
		c.log.Warn().Err(err).Msg("dropping malformed message frame")
		return nil, false
	}
	return &inbound, true
}

// ingest runs one inbound message through the reconciler and fans the outcome
// out to the directory, the cache and the registered callbacks.
func (c *Chat) ingest(msg models.Message, counterpart models.User) {
	key := msg.Conversation
	if !key.IsGeneral() {
		c.dir.Ensure(key, DisplayInfo{
			DisplayName: counterpart.Username,
			Avatar:      counterpart.Avatar,
		})
	}

	key, action := c.recon.Ingest(msg)
	msg.Conversation = key
	c.metrics.reconciled(action)
	if action == ActionDuplicate {
		c.log.Debug().Str("conversation", string(key)).Int64("id", msg.ID).
			Msg("ignoring duplicate echo")
		return
	}

	countUnread := action == ActionAppended &&
		msg.Sender.ID != c.cfg.Self.ID &&
		!c.view.IsActive(key)
	c.dir.ApplyPreview(key, msg, countUnread)

	if c.cache != nil {
		if err := c.cache.SaveMessage(msg); err != nil {
			c.log.Warn().Err(err).Msg("failed to cache message")
		}
	}
	c.persistConversation(key)

	c.fireMessage(key, msg, c.view.Route(key) == RouteLive)
	c.fireUpdate()
}

func (c *Chat) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			for _, exp := range c.pending.SweepTimeouts(now, c.cfg.SendTimeout) {
				c.recon.MarkFailed(exp.Conversation, exp.TempID)
				c.log.Warn().
					Str("conversation", string(exp.Conversation)).
					Str("temp_id", exp.TempID).
					Time("submitted_at", exp.SubmittedAt).
					Msg("send confirmation timed out")
				c.cbMu.RLock()
				onSendFailed := c.onSendFailed
				c.cbMu.RUnlock()
				if onSendFailed != nil {
					onSendFailed(exp.Conversation, exp.TempID)
				}
				c.fireUpdate()
			}

		case <-c.done:
			return
		}
	}
}

func (c *Chat) persistConversation(key models.ConversationKey) {
	if c.cache == nil {
		return
	}
	conv, ok := c.dir.Get(key)
	if !ok {
		return
	}
	if err := c.cache.UpsertConversation(conv); err != nil {
		c.log.Warn().Err(err).Str("conversation", string(key)).
			Msg("failed to cache conversation")
	}
}

func (c *Chat) fireMessage(key models.ConversationKey, msg models.Message, live bool) {
	c.cbMu.RLock()
	onMessage := c.onMessage
	c.cbMu.RUnlock()
	if onMessage != nil {
		onMessage(key, msg, live)
	}
}

func (c *Chat) fireUpdate() {
	c.cbMu.RLock()
	onUpdate := c.onUpdate
	c.cbMu.RUnlock()
	if onUpdate != nil {
		onUpdate()
	}
}
