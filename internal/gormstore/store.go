// Package gormstore implements the user, room, membership and message stores
// on gorm, for MySQL and SQLite deployments.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/umar/roomrelay/internal/apperror"
	"github.com/umar/roomrelay/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

// Open connects with the named driver ("mysql" or "sqlite") and migrates the
// schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql.DB error: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	s := New(db)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&userRecord{}, &roomRecord{}, &memberRecord{}, &messageRecord{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	rec := userRecord{
		Email:        u.Email,
		Nickname:     u.Nickname,
		PasswordHash: u.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isDuplicate(err) {
			return apperror.ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	u.ID = rec.ID
	u.CreatedAt = rec.CreatedAt
	return nil
}

// isDuplicate also matches raw driver text for dialects without a translator.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	var rec userRecord
	err := s.db.WithContext(ctx).Where(query, arg).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return rec.model(), nil
}

func (s *Store) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	return s.getUser(ctx, "id = ?", userID)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "email = ?", email)
}

// UpdateProfile writes u's nickname and profile image.
func (s *Store) UpdateProfile(ctx context.Context, u *models.User) error {
	res := s.db.WithContext(ctx).Model(&userRecord{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{"nickname": u.Nickname, "profile_image_url": u.ProfileImageURL})
	if res.Error != nil {
		return fmt.Errorf("failed to update profile: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// mysql reports zero affected rows when nothing changed
	var n int64
	if err := s.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", u.ID).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n == 0 {
		return apperror.ErrUserNotFound
	}
	return nil
}

func (s *Store) GetRoomByID(ctx context.Context, roomID int64) (*models.Room, error) {
	var rec roomRecord
	err := s.db.WithContext(ctx).First(&rec, roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	room := rec.model()
	return &room, nil
}

func (s *Store) CreateRoom(ctx context.Context, room *models.Room, memberIDs []int64) error {
	now := time.Now().UTC()
	rec := roomRecord{Name: room.Name, Kind: string(room.Kind), CreatedAt: now}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		for _, id := range memberIDs {
			m := memberRecord{RoomID: rec.ID, UserID: id, JoinedAt: now}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}

	room.ID = rec.ID
	room.CreatedAt = rec.CreatedAt
	return nil
}

func (s *Store) IsRoomMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&memberRecord{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return n > 0, nil
}

func (s *Store) AddRoomMember(ctx context.Context, roomID, userID int64) (bool, error) {
	m := memberRecord{RoomID: roomID, UserID: userID, JoinedAt: time.Now().UTC()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return false, fmt.Errorf("failed to add room member: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) RemoveRoomMember(ctx context.Context, roomID, userID int64) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&memberRecord{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to remove room member: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListRoomMemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&memberRecord{}).
		Where("room_id = ?", roomID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list room members: %w", err)
	}
	return ids, nil
}

func (s *Store) CountMembersByRoom(ctx context.Context, roomIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(roomIDs))
	if len(roomIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		RoomID int64
		N      int
	}
	err := s.db.WithContext(ctx).Model(&memberRecord{}).
		Select("room_id, COUNT(*) AS n").
		Where("room_id IN ?", roomIDs).
		Group("room_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count room members: %w", err)
	}
	for _, r := range rows {
		counts[r.RoomID] = r.N
	}
	return counts, nil
}

func (s *Store) CountRoomMembers(ctx context.Context, roomID int64) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&memberRecord{}).Where("room_id = ?", roomID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count room members: %w", err)
	}
	return int(n), nil
}

func (s *Store) ListRoomsForUser(ctx context.Context, userID int64) ([]models.Room, error) {
	var recs []roomRecord
	err := s.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Order("rooms.id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	rooms := make([]models.Room, len(recs))
	for i, r := range recs {
		rooms[i] = r.model()
	}
	return rooms, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) error {
	rec := messageRecord{
		RoomID:   msg.RoomID,
		SenderID: msg.SenderID,
		Content:  msg.Content,
		Type:     string(msg.Type),
		SentAt:   time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	msg.ID = rec.ID
	msg.SentAt = rec.SentAt
	return nil
}

func (s *Store) ListMessages(ctx context.Context, roomID, before int64, limit int) ([]models.Message, error) {
	q := s.db.WithContext(ctx).
		Table("messages").
		Select("messages.*, users.nickname AS sender_nickname").
		Joins("LEFT JOIN users ON users.id = messages.sender_id").
		Where("messages.room_id = ?", roomID)
	if before > 0 {
		q = q.Where("messages.id < ?", before)
	}

	var rows []messageRow
	if err := q.Order("messages.id DESC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	msgs := make([]models.Message, len(rows))
	for i, r := range rows {
		msgs[i] = r.model()
	}
	return msgs, nil
}
