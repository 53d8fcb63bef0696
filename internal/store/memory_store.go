package store

import (
	"sort"
	"sync"

	"github.com/Kronh4rd/kolibri/pkg/domain"
)

// MemoryStore keeps all entities in-process. Used by tests and as an
// ephemeral mode when no database path is configured.
type MemoryStore struct {
	userNotifier
	mu       sync.RWMutex
	user     *domain.User
	contacts map[string]domain.Contact
	chats    map[string]domain.Chat
	messages map[string]domain.Message // key: mid
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts: make(map[string]domain.Contact),
		chats:    make(map[string]domain.Chat),
		messages: make(map[string]domain.Message),
	}
}

func (m *MemoryStore) SaveUser(user domain.User) error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	user.Password = ""
	m.mu.Lock()
	copied := user
	m.user = &copied
	m.mu.Unlock()

	notified := user
	for _, fn := range m.userNotifier.snapshot() {
		fn(&notified)
	}
	return nil
}

func (m *MemoryStore) CurrentUser() (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return domain.User{}, false, nil
	}
	return *m.user, true, nil
}

func (m *MemoryStore) DeleteUser() error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	m.user = nil
	m.mu.Unlock()

	for _, fn := range m.userNotifier.snapshot() {
		fn(nil)
	}
	return nil
}

func (m *MemoryStore) SaveContact(contact domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[contact.UID] = contact
	return nil
}

func (m *MemoryStore) GetContact(uid string) (domain.Contact, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[uid]
	return c, ok, nil
}

func (m *MemoryStore) ListContacts() ([]domain.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *MemoryStore) DeleteContact(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contacts, uid)
	return nil
}

func (m *MemoryStore) SaveChat(chat domain.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[chat.UID] = chat
	return nil
}

func (m *MemoryStore) GetChat(uid string) (domain.Chat, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[uid]
	return c, ok, nil
}

func (m *MemoryStore) GetChatByContact(contactUID string) (domain.Chat, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.chats {
		if c.ContactUID == contactUID {
			return c, true, nil
		}
	}
	return domain.Chat{}, false, nil
}

func (m *MemoryStore) ListChats() ([]domain.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Chat, 0, len(m.chats))
	for _, c := range m.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive > out[j].LastActive })
	return out, nil
}

func (m *MemoryStore) DeleteChat(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, uid)
	for mid, msg := range m.messages {
		if msg.ChatUID == uid {
			delete(m.messages, mid)
		}
	}
	return nil
}

func (m *MemoryStore) SaveMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.MID] = msg
	return nil
}

func (m *MemoryStore) GetMessage(mid string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[mid]
	return msg, ok, nil
}

func (m *MemoryStore) ListMessages(chatUID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Message, 0)
	for _, msg := range m.messages {
		if msg.ChatUID == chatUID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (m *MemoryStore) AckMessage(localMID, serverMID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[localMID]
	if !ok {
		return nil
	}
	delete(m.messages, localMID)
	msg.MID = serverMID
	msg.Status = domain.StatusAcknowledged
	m.messages[serverMID] = msg
	return nil
}

func (m *MemoryStore) SetMessageStatus(mid string, status domain.MessageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[mid]; ok {
		msg.Status = status
		m.messages[mid] = msg
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
