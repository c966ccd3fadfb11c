package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"messageai/pkg/domain"
)

const migrateLockID int64 = 48215521

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent service replicas do not race each other.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrateLockID).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		if err := tx.AutoMigrate(&UserModel{}, &ChatModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// SaveUser inserts or replaces a user record.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Save(&model).Error
}

// HasUserEmail reports whether the email is registered.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	err := s.db.Where("email = ?", email).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUsersByIDs returns the users that exist among the given IDs.
func (s *GormStore) GetUsersByIDs(ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []UserModel
	if err := s.db.Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(models))
	for _, m := range models {
		users = append(users, userFromModel(m))
	}
	return users, nil
}

// SearchUsers matches display name or email, name matches first.
func (s *GormStore) SearchUsers(query string, limit int) ([]domain.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(query) + "%"
	var models []UserModel
	err := s.db.
		Where("LOWER(display_name) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern).
		Order(gorm.Expr("CASE WHEN LOWER(display_name) LIKE ? THEN 0 ELSE 1 END, display_name", pattern)).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(models))
	for _, m := range models {
		users = append(users, userFromModel(m))
	}
	return users, nil
}

// UserCount returns the number of registered users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveChat inserts or replaces a chat record.
func (s *GormStore) SaveChat(c domain.Chat) error {
	model, err := chatToModel(c)
	if err != nil {
		return err
	}
	return s.db.Save(&model).Error
}

// GetChat returns a chat by ID.
func (s *GormStore) GetChat(id string) (domain.Chat, bool, error) {
	var model ChatModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Chat{}, false, nil
	}
	if err != nil {
		return domain.Chat{}, false, err
	}
	return chatFromModel(model), true, nil
}

// ListChatsByParticipant returns chats containing the user, most recently
// updated first.
func (s *GormStore) ListChatsByParticipant(userID string) ([]domain.Chat, error) {
	var models []ChatModel
	err := s.db.
		Where("participants @> ?", fmt.Sprintf(`[%q]`, userID)).
		Order("updated_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	chats := make([]domain.Chat, 0, len(models))
	for _, m := range models {
		chats = append(chats, chatFromModel(m))
	}
	return chats, nil
}

// SaveMessage inserts or replaces a message record.
func (s *GormStore) SaveMessage(msg domain.Message) error {
	model, err := messageToModel(msg)
	if err != nil {
		return err
	}
	return s.db.Save(&model).Error
}

// GetMessage returns a message by ID.
func (s *GormStore) GetMessage(id string) (domain.Message, bool, error) {
	var model MessageModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// ListMessages returns the most recent messages of a chat in chronological
// order.
func (s *GormStore) ListMessages(chatID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []MessageModel
	err := s.db.
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, len(models))
	for i, m := range models {
		msgs[len(models)-1-i] = messageFromModel(m)
	}
	return msgs, nil
}

// LastMessage returns the newest message of a chat.
func (s *GormStore) LastMessage(chatID string) (domain.Message, bool, error) {
	var model MessageModel
	err := s.db.
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// UpdateMessageStatus applies a delivery-status transition when allowed.
func (s *GormStore) UpdateMessageStatus(id string, to domain.DeliveryStatus) (domain.Message, bool, error) {
	var result domain.Message
	applied := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model MessageModel
		if err := tx.Clauses(forUpdate()).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		msg := messageFromModel(model)
		if !msg.Status.CanTransition(to) {
			result = msg
			return nil
		}
		msg.Status = to
		msg.UpdatedAt = time.Now().UTC()
		updated, err := messageToModel(msg)
		if err != nil {
			return err
		}
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		result = msg
		applied = true
		return nil
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	return result, applied, nil
}

// SetReaction toggles the user in the emoji's reactor set.
func (s *GormStore) SetReaction(messageID, emoji, userID string, add bool) (domain.Message, error) {
	var result domain.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model MessageModel
		if err := tx.Clauses(forUpdate()).First(&model, "id = ?", messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		msg := messageFromModel(model)
		msg.Reactions = toggleReaction(msg.Reactions, emoji, userID, add)
		msg.UpdatedAt = time.Now().UTC()
		updated, err := messageToModel(msg)
		if err != nil {
			return err
		}
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		result = msg
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	return result, nil
}

// MarkChatRead records the user's read position over the whole chat.
func (s *GormStore) MarkChatRead(chatID, userID string) (int, error) {
	newlyRead := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var models []MessageModel
		if err := tx.Clauses(forUpdate()).
			Where("chat_id = ? AND sender_id <> ?", chatID, userID).
			Find(&models).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, model := range models {
			msg := messageFromModel(model)
			changed := false
			if !msg.ReadByUser(userID) {
				msg.ReadBy = append(msg.ReadBy, userID)
				newlyRead++
				changed = true
			}
			if msg.Status.CanTransition(domain.StatusRead) && msg.Status != domain.StatusFailed {
				msg.Status = domain.StatusRead
				changed = true
			}
			if !changed {
				continue
			}
			msg.UpdatedAt = now
			updated, err := messageToModel(msg)
			if err != nil {
				return err
			}
			if err := tx.Save(&updated).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newlyRead, nil
}

// CountUnread counts messages in the chat not sent by and not yet read by
// the user.
func (s *GormStore) CountUnread(chatID, userID string) (int, error) {
	var count int64
	err := s.db.Model(&MessageModel{}).
		Where("chat_id = ? AND sender_id <> ?", chatID, userID).
		Where("NOT (read_by @> ?)", fmt.Sprintf(`[%q]`, userID)).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func forUpdate() clause.Expression {
	return clause.Locking{Strength: "UPDATE"}
}

func toggleReaction(reactions map[string][]string, emoji, userID string, add bool) map[string][]string {
	if reactions == nil {
		reactions = make(map[string][]string)
	}
	current := reactions[emoji]
	filtered := make([]string, 0, len(current))
	for _, id := range current {
		if id != userID {
			filtered = append(filtered, id)
		}
	}
	if add {
		filtered = append(filtered, userID)
	}
	if len(filtered) == 0 {
		delete(reactions, emoji)
	} else {
		reactions[emoji] = filtered
	}
	return reactions
}
