// Package store is the device-local mirror of server state and the single
// source of truth the UI reads from. All writes are upserts keyed by the
// server-issued uid/mid; the current-user slot is the only globally shared
// mutable state and every mutation of it goes through SaveUser/DeleteUser,
// which notify registered listeners synchronously after the commit.
package store

import "github.com/Kronh4rd/kolibri/pkg/domain"

// UserListener observes the current-user slot. A nil user means the device
// was logged out or the account deleted.
type UserListener func(*domain.User)

// Store defines persistence for the session user, contacts, chats and
// messages.
type Store interface {
	// current user slot
	SaveUser(user domain.User) error
	CurrentUser() (domain.User, bool, error)
	DeleteUser() error
	OnUserChanged(fn UserListener)

	// contacts
	SaveContact(contact domain.Contact) error
	GetContact(uid string) (domain.Contact, bool, error)
	ListContacts() ([]domain.Contact, error)
	DeleteContact(uid string) error

	// chats
	SaveChat(chat domain.Chat) error
	GetChat(uid string) (domain.Chat, bool, error)
	GetChatByContact(contactUID string) (domain.Chat, bool, error)
	ListChats() ([]domain.Chat, error)
	DeleteChat(uid string) error

	// messages
	SaveMessage(msg domain.Message) error
	GetMessage(mid string) (domain.Message, bool, error)
	ListMessages(chatUID string) ([]domain.Message, error)
	AckMessage(localMID, serverMID string) error
	SetMessageStatus(mid string, status domain.MessageStatus) error

	Close() error
}
