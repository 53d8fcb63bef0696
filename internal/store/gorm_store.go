package store

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Kronh4rd/kolibri/pkg/crypto"
	"github.com/Kronh4rd/kolibri/pkg/domain"
)

// GormStore implements Store on a device-local sqlite database. The private
// key is sealed with the per-install device secret before it touches disk.
type GormStore struct {
	userNotifier
	db     *gorm.DB
	secret string
}

// NewGormStore opens (or creates) the database at path and runs migrations.
func NewGormStore(path, deviceSecret string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&userModel{}, &contactModel{}, &chatModel{}, &messageModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db, secret: deviceSecret}, nil
}

// SaveUser upserts the current-user row and notifies listeners. The store
// keeps at most one user row: a save under a new uid replaces any previous
// owner in the same transaction.
func (s *GormStore) SaveUser(user domain.User) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	model, err := s.userToModel(user)
	if err != nil {
		return err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("uid <> ?", user.UID).Delete(&userModel{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uid"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "email", "profile_pic_tn", "access_token", "private_key"}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	notified := user
	notified.Password = ""
	for _, fn := range s.userNotifier.snapshot() {
		fn(&notified)
	}
	return nil
}

// CurrentUser returns the device owner's row, if a session exists.
func (s *GormStore) CurrentUser() (domain.User, bool, error) {
	var model userModel
	if err := s.db.First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	user, err := s.userFromModel(model)
	if err != nil {
		return domain.User{}, false, err
	}
	return user, true, nil
}

// DeleteUser clears the session slot and notifies listeners with the
// logged-out sentinel.
func (s *GormStore) DeleteUser() error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := s.db.Where("1 = 1").Delete(&userModel{}).Error; err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	for _, fn := range s.userNotifier.snapshot() {
		fn(nil)
	}
	return nil
}

func (s *GormStore) SaveContact(contact domain.Contact) error {
	model := contactModel{UID: contact.UID, PublicKey: contact.PublicKey}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"public_key"}),
	}).Create(&model).Error; err != nil {
		return fmt.Errorf("save contact: %w", err)
	}
	return nil
}

func (s *GormStore) GetContact(uid string) (domain.Contact, bool, error) {
	var model contactModel
	if err := s.db.First(&model, "uid = ?", uid).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Contact{}, false, nil
		}
		return domain.Contact{}, false, err
	}
	return domain.Contact{UID: model.UID, PublicKey: model.PublicKey}, true, nil
}

func (s *GormStore) ListContacts() ([]domain.Contact, error) {
	var models []contactModel
	if err := s.db.Order("uid ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Contact, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Contact{UID: m.UID, PublicKey: m.PublicKey})
	}
	return out, nil
}

func (s *GormStore) DeleteContact(uid string) error {
	return s.db.Delete(&contactModel{}, "uid = ?", uid).Error
}

func (s *GormStore) SaveChat(chat domain.Chat) error {
	model := chatToModel(chat)
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"contact_uid", "username", "profile_pic_tn", "public_key", "last_message", "last_active"}),
	}).Create(&model).Error; err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

func (s *GormStore) GetChat(uid string) (domain.Chat, bool, error) {
	var model chatModel
	if err := s.db.First(&model, "uid = ?", uid).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Chat{}, false, nil
		}
		return domain.Chat{}, false, err
	}
	return chatFromModel(model), true, nil
}

// GetChatByContact finds the one chat per counterpart, if it exists.
func (s *GormStore) GetChatByContact(contactUID string) (domain.Chat, bool, error) {
	var model chatModel
	if err := s.db.First(&model, "contact_uid = ?", contactUID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Chat{}, false, nil
		}
		return domain.Chat{}, false, err
	}
	return chatFromModel(model), true, nil
}

func (s *GormStore) ListChats() ([]domain.Chat, error) {
	var models []chatModel
	if err := s.db.Order("last_active DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Chat, 0, len(models))
	for _, m := range models {
		out = append(out, chatFromModel(m))
	}
	return out, nil
}

// DeleteChat removes the chat and its messages.
func (s *GormStore) DeleteChat(uid string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&messageModel{}, "chat_uid = ?", uid).Error; err != nil {
			return err
		}
		return tx.Delete(&chatModel{}, "uid = ?", uid).Error
	})
}

// SaveMessage upserts by mid. Rows are append-only apart from the ack
// transition handled by AckMessage.
func (s *GormStore) SaveMessage(msg domain.Message) error {
	model := messageToModel(msg)
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mid"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "status"}),
	}).Create(&model).Error; err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *GormStore) GetMessage(mid string) (domain.Message, bool, error) {
	var model messageModel
	if err := s.db.First(&model, "mid = ?", mid).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// ListMessages returns a chat's messages strictly ordered by timestamp.
func (s *GormStore) ListMessages(chatUID string) ([]domain.Message, error) {
	var models []messageModel
	if err := s.db.Where("chat_uid = ?", chatUID).Order("timestamp ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(models))
	for _, m := range models {
		out = append(out, messageFromModel(m))
	}
	return out, nil
}

// AckMessage replaces a pending message's placeholder id with the
// server-assigned mid and marks it acknowledged.
func (s *GormStore) AckMessage(localMID, serverMID string) error {
	return s.db.Model(&messageModel{}).
		Where("mid = ?", localMID).
		Updates(map[string]any{
			"mid":    serverMID,
			"status": string(domain.StatusAcknowledged),
		}).Error
}

func (s *GormStore) SetMessageStatus(mid string, status domain.MessageStatus) error {
	return s.db.Model(&messageModel{}).
		Where("mid = ?", mid).
		Update("status", string(status)).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) userToModel(user domain.User) (userModel, error) {
	model := userModel{
		UID:          user.UID,
		Username:     user.Username,
		Email:        user.Email,
		ProfilePicTn: user.ProfilePicTn,
		AccessToken:  user.AccessToken,
	}
	if user.PrivateKey != "" {
		sealed, err := crypto.Seal(s.secret, []byte(user.PrivateKey))
		if err != nil {
			return userModel{}, fmt.Errorf("seal private key: %w", err)
		}
		model.PrivateKey = sealed
	}
	return model, nil
}

func (s *GormStore) userFromModel(model userModel) (domain.User, error) {
	user := domain.User{
		UID:          model.UID,
		Username:     model.Username,
		Email:        model.Email,
		ProfilePicTn: model.ProfilePicTn,
		AccessToken:  model.AccessToken,
	}
	if len(model.PrivateKey) > 0 {
		opened, err := crypto.Open(s.secret, model.PrivateKey)
		if err != nil {
			return domain.User{}, fmt.Errorf("open private key: %w", err)
		}
		user.PrivateKey = string(opened)
	}
	return user, nil
}

func chatToModel(chat domain.Chat) chatModel {
	return chatModel{
		UID:          chat.UID,
		ContactUID:   chat.ContactUID,
		Username:     chat.Username,
		ProfilePicTn: chat.ProfilePicTn,
		PublicKey:    chat.PublicKey,
		LastMessage:  chat.LastMessage,
		LastActive:   chat.LastActive,
	}
}

func chatFromModel(model chatModel) domain.Chat {
	return domain.Chat{
		UID:          model.UID,
		ContactUID:   model.ContactUID,
		Username:     model.Username,
		ProfilePicTn: model.ProfilePicTn,
		PublicKey:    model.PublicKey,
		LastMessage:  model.LastMessage,
		LastActive:   model.LastActive,
	}
}

func messageToModel(msg domain.Message) messageModel {
	return messageModel{
		MID:       msg.MID,
		ChatUID:   msg.ChatUID,
		FromUID:   msg.From,
		ToUID:     msg.To,
		Type:      string(msg.Type),
		Timestamp: msg.Timestamp,
		Content:   msg.Content,
		Status:    string(msg.Status),
	}
}

func messageFromModel(model messageModel) domain.Message {
	return domain.Message{
		MID:       model.MID,
		ChatUID:   model.ChatUID,
		From:      model.FromUID,
		To:        model.ToUID,
		Type:      domain.MessageType(model.Type),
		Timestamp: model.Timestamp,
		Content:   model.Content,
		Status:    domain.MessageStatus(model.Status),
	}
}
