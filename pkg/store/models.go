package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"messageai/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID              string `gorm:"primaryKey"`
	Email           string `gorm:"uniqueIndex;not null"`
	DisplayName     string `gorm:"not null"`
	ProfileImageURL string
	IsOnline        bool
	PasswordHash    string
	Role            string    `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time
}

type ChatModel struct {
	ID            string         `gorm:"primaryKey"`
	Participants  datatypes.JSON `gorm:"type:jsonb;not null"`
	IsGroup       bool           `gorm:"not null"`
	GroupName     string
	GroupImageURL string
	CreatedBy     string         `gorm:"not null;index"`
	AdminIDs      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

type MessageModel struct {
	ID        string `gorm:"primaryKey"`
	ChatID    string `gorm:"not null;index:idx_message_chat_created,priority:1"`
	SenderID  string `gorm:"not null;index"`
	Content   string `gorm:"type:text;not null"`
	Type      string `gorm:"not null"`
	Status    string `gorm:"not null;index"`
	Reactions datatypes.JSON `gorm:"type:jsonb"`
	ReadBy    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index:idx_message_chat_created,priority:2"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:              u.ID,
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		ProfileImageURL: u.ProfileImageURL,
		IsOnline:        u.IsOnline,
		PasswordHash:    u.PasswordHash,
		Role:            string(u.Role),
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:              m.ID,
		Email:           m.Email,
		DisplayName:     m.DisplayName,
		ProfileImageURL: m.ProfileImageURL,
		IsOnline:        m.IsOnline,
		PasswordHash:    m.PasswordHash,
		Role:            domain.UserRole(m.Role),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func chatToModel(c domain.Chat) (ChatModel, error) {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return ChatModel{}, err
	}
	admins, err := json.Marshal(c.AdminIDs)
	if err != nil {
		return ChatModel{}, err
	}
	return ChatModel{
		ID:            c.ID,
		Participants:  participants,
		IsGroup:       c.IsGroup,
		GroupName:     c.GroupName,
		GroupImageURL: c.GroupImageURL,
		CreatedBy:     c.CreatedBy,
		AdminIDs:      admins,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}, nil
}

func chatFromModel(m ChatModel) domain.Chat {
	chat := domain.Chat{
		ID:            m.ID,
		IsGroup:       m.IsGroup,
		GroupName:     m.GroupName,
		GroupImageURL: m.GroupImageURL,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	_ = json.Unmarshal(m.Participants, &chat.Participants)
	_ = json.Unmarshal(m.AdminIDs, &chat.AdminIDs)
	return chat
}

func messageToModel(msg domain.Message) (MessageModel, error) {
	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return MessageModel{}, err
	}
	readBy, err := json.Marshal(msg.ReadBy)
	if err != nil {
		return MessageModel{}, err
	}
	return MessageModel{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Type:      string(msg.Type),
		Status:    string(msg.Status),
		Reactions: reactions,
		ReadBy:    readBy,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}, nil
}

func messageFromModel(m MessageModel) domain.Message {
	msg := domain.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      domain.MessageType(m.Type),
		Status:    domain.DeliveryStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	_ = json.Unmarshal(m.Reactions, &msg.Reactions)
	_ = json.Unmarshal(m.ReadBy, &msg.ReadBy)
	return msg
}
