// Package chat owns the message exchange: optimistic sends over REST with
// pending/acknowledged/failed bookkeeping, and inbound deliveries from the
// broker folded into the local store. Chats and contacts are created on
// first message exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Kronh4rd/kolibri/internal/rest"
	"github.com/Kronh4rd/kolibri/internal/store"
	"github.com/Kronh4rd/kolibri/pkg/crypto"
	"github.com/Kronh4rd/kolibri/pkg/domain"
)

// timestampLayout produces strings that sort lexically in send order, the
// sole per-chat ordering key.
const timestampLayout = "2006-01-02 15:04:05.000"

var (
	ErrNoSession   = errors.New("no active session")
	ErrChatUnknown = errors.New("chat does not exist")
)

// Manager drives the send and receive paths for chat messages.
type Manager struct {
	client *rest.Client
	store  store.Store
	now    func() time.Time
}

// NewManager wires a manager to the backend client and local store.
func NewManager(client *rest.Client, st store.Store) *Manager {
	return &Manager{client: client, store: st, now: time.Now}
}

// SendText sends a text message into an existing chat. The local copy is
// committed as pending before the request leaves the device, so a transport
// failure can never lose it; it is then either acknowledged with the
// server-assigned mid or marked failed and left eligible for Resend.
func (m *Manager) SendText(ctx context.Context, chatUID, text string) (string, error) {
	cur, ok, err := m.store.CurrentUser()
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return "", ErrNoSession
	}
	chat, ok, err := m.store.GetChat(chatUID)
	if err != nil {
		return "", fmt.Errorf("read chat: %w", err)
	}
	if !ok {
		return "", ErrChatUnknown
	}

	localMID := "local-" + uuid.NewString()
	timestamp := m.now().UTC().Format(timestampLayout)

	// The local copy keeps the plaintext; only the wire copy is encrypted
	// for the counterpart.
	msg := domain.Message{
		MID:       localMID,
		ChatUID:   chatUID,
		From:      cur.UID,
		To:        chat.ContactUID,
		Type:      domain.MessageText,
		Timestamp: timestamp,
		Content:   text,
		Status:    domain.StatusPending,
	}
	if err := m.store.SaveMessage(msg); err != nil {
		return "", fmt.Errorf("commit pending message: %w", err)
	}
	chat.LastMessage = text
	chat.LastActive = timestamp
	if err := m.store.SaveChat(chat); err != nil {
		return "", fmt.Errorf("update chat summary: %w", err)
	}

	return localMID, m.transmit(ctx, cur, chat, msg)
}

// Resend retries a failed message under its existing placeholder id.
func (m *Manager) Resend(ctx context.Context, localMID string) error {
	cur, ok, err := m.store.CurrentUser()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return ErrNoSession
	}
	msg, ok, err := m.store.GetMessage(localMID)
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}
	if !ok {
		return fmt.Errorf("message %s not found", localMID)
	}
	if msg.Status == domain.StatusAcknowledged {
		return nil
	}
	chat, ok, err := m.store.GetChat(msg.ChatUID)
	if err != nil {
		return fmt.Errorf("read chat: %w", err)
	}
	if !ok {
		return ErrChatUnknown
	}
	return m.transmit(ctx, cur, chat, msg)
}

func (m *Manager) transmit(ctx context.Context, cur domain.User, chat domain.Chat, msg domain.Message) error {
	content := msg.Content
	if chat.PublicKey != "" {
		encrypted, err := crypto.EncryptMessage(chat.PublicKey, msg.Content)
		if err != nil {
			return fmt.Errorf("encrypt for counterpart: %w", err)
		}
		content = encrypted
	}
	dto := rest.MessageDTO{
		MID:       msg.MID,
		From:      msg.From,
		To:        msg.To,
		Type:      msg.Type,
		Timestamp: msg.Timestamp,
		Content:   content,
	}

	serverMID, err := m.client.SendMessage(ctx, cur.AccessToken, dto)
	if err != nil {
		if statusErr := m.store.SetMessageStatus(msg.MID, domain.StatusFailed); statusErr != nil {
			slog.Warn("marking message failed", "mid", msg.MID, "err", statusErr)
		}
		return err
	}
	if err := m.store.AckMessage(msg.MID, serverMID); err != nil {
		return fmt.Errorf("acknowledge message: %w", err)
	}
	return nil
}

// HandleInbound folds a broker delivery into the local store. The mid is
// the dedup key: redeliveries are dropped. A message from an unknown
// counterpart creates the contact and chat first.
func (m *Manager) HandleInbound(ctx context.Context, dto rest.MessageDTO) error {
	cur, ok, err := m.store.CurrentUser()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return ErrNoSession
	}

	if _, exists, err := m.store.GetMessage(dto.MID); err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	} else if exists {
		slog.Debug("dropping redelivered message", "mid", dto.MID)
		return nil
	}

	counterpart := dto.From
	if counterpart == cur.UID {
		counterpart = dto.To
	}

	chat, ok, err := m.store.GetChatByContact(counterpart)
	if err != nil {
		return fmt.Errorf("chat lookup: %w", err)
	}
	if !ok {
		chat, err = m.createChat(ctx, cur, counterpart)
		if err != nil {
			return err
		}
	}

	content := dto.Content
	if dto.From != cur.UID && dto.Type == domain.MessageText && cur.PrivateKey != "" {
		if plaintext, err := crypto.DecryptMessage(cur.PrivateKey, dto.Content); err == nil {
			content = plaintext
		}
	}

	msg := domain.Message{
		MID:       dto.MID,
		ChatUID:   chat.UID,
		From:      dto.From,
		To:        dto.To,
		Type:      dto.Type,
		Timestamp: dto.Timestamp,
		Content:   content,
		Status:    domain.StatusAcknowledged,
	}
	if err := m.store.SaveMessage(msg); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}

	if dto.Type != domain.MessageSystem {
		chat.LastMessage = content
		chat.LastActive = dto.Timestamp
		if err := m.store.SaveChat(chat); err != nil {
			return fmt.Errorf("update chat summary: %w", err)
		}
	}
	return nil
}

// StartChat explicitly opens a chat with a counterpart before any message
// was exchanged.
func (m *Manager) StartChat(ctx context.Context, contactUID string) (domain.Chat, error) {
	cur, ok, err := m.store.CurrentUser()
	if err != nil {
		return domain.Chat{}, fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return domain.Chat{}, ErrNoSession
	}
	if chat, ok, err := m.store.GetChatByContact(contactUID); err != nil {
		return domain.Chat{}, fmt.Errorf("chat lookup: %w", err)
	} else if ok {
		return chat, nil
	}
	return m.createChat(ctx, cur, contactUID)
}

func (m *Manager) createChat(ctx context.Context, cur domain.User, contactUID string) (domain.Chat, error) {
	counterpart, err := m.client.GetUser(ctx, cur.AccessToken, contactUID)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("fetch counterpart: %w", err)
	}
	publicKey, err := m.client.GetPublicKey(ctx, cur.AccessToken, contactUID)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("fetch counterpart key: %w", err)
	}

	if err := m.store.SaveContact(domain.Contact{UID: contactUID, PublicKey: publicKey}); err != nil {
		return domain.Chat{}, fmt.Errorf("commit contact: %w", err)
	}
	chat := domain.Chat{
		UID:          uuid.NewString(),
		ContactUID:   contactUID,
		Username:     counterpart.Username,
		ProfilePicTn: counterpart.ProfilePicTn,
		PublicKey:    publicKey,
	}
	if err := m.store.SaveChat(chat); err != nil {
		return domain.Chat{}, fmt.Errorf("commit chat: %w", err)
	}
	slog.Info("chat created", "chat", chat.UID, "contact", contactUID)
	return chat, nil
}
