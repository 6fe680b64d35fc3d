package gormstore

import (
	"time"

	"github.com/umar/roomrelay/internal/models"
)

type userRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Nickname     string    `gorm:"type:varchar(50);not null"`
	ProfileImage *string   `gorm:"column:profile_image_url;type:varchar(512)"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (userRecord) TableName() string { return "users" }

func (r userRecord) model() *models.User {
	return &models.User{
		ID:              r.ID,
		Email:           r.Email,
		Nickname:        r.Nickname,
		ProfileImageURL: r.ProfileImage,
		PasswordHash:    r.PasswordHash,
		CreatedAt:       r.CreatedAt,
	}
}

type roomRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Name      *string   `gorm:"type:varchar(100)"`
	Kind      string    `gorm:"column:type;type:varchar(10);not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (roomRecord) TableName() string { return "rooms" }

func (r roomRecord) model() models.Room {
	return models.Room{
		ID:        r.ID,
		Name:      r.Name,
		Kind:      models.RoomKind(r.Kind),
		CreatedAt: r.CreatedAt,
	}
}

type memberRecord struct {
	RoomID   int64     `gorm:"primaryKey;autoIncrement:false"`
	UserID   int64     `gorm:"primaryKey;autoIncrement:false;index"`
	JoinedAt time.Time `gorm:"not null"`
}

func (memberRecord) TableName() string { return "room_members" }

type messageRecord struct {
	ID       int64     `gorm:"primaryKey;autoIncrement;index:idx_messages_room_id_id,priority:2"`
	RoomID   int64     `gorm:"not null;index:idx_messages_room_id_id,priority:1"`
	SenderID *int64    `gorm:"index"`
	Content  string    `gorm:"type:text;not null"`
	Type     string    `gorm:"type:varchar(10);not null"`
	SentAt   time.Time `gorm:"not null"`
}

func (messageRecord) TableName() string { return "messages" }

type messageRow struct {
	messageRecord
	SenderNickname *string
}

func (r messageRow) model() models.Message {
	return models.Message{
		ID:             r.ID,
		RoomID:         r.RoomID,
		SenderID:       r.SenderID,
		SenderNickname: r.SenderNickname,
		Content:        r.Content,
		Type:           models.MessageType(r.Type),
		SentAt:         r.SentAt,
	}
}
