package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/umar/roomrelay/internal/apperror"
	"github.com/umar/roomrelay/internal/models"
)

const uniqueViolation = "23505"

func InitDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Store implements the user, room, membership and message stores on
// PostgreSQL. Lookups return (nil, nil) when nothing matches.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (email, nickname, password_hash) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		u.Email, u.Nickname, u.PasswordHash,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperror.ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, nickname, profile_image_url, password_hash, created_at FROM users WHERE `+where,
		arg,
	).Scan(&u.ID, &u.Email, &u.Nickname, &u.ProfileImageURL, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, "id = $1", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "email = $1", email)
}

func (s *Store) UpdateProfile(ctx context.Context, u *models.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET nickname = $1, profile_image_url = $2 WHERE id = $3`,
		u.Nickname, u.ProfileImageURL, u.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n == 0 {
		return apperror.ErrUserNotFound
	}
	return nil
}

// --- Rooms ---

func (s *Store) GetRoomByID(ctx context.Context, id int64) (*models.Room, error) {
	var r models.Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, created_at FROM rooms WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.Name, &r.Kind, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &r, nil
}

func (s *Store) CreateRoom(ctx context.Context, room *models.Room, memberIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO rooms (name, type) VALUES ($1, $2) RETURNING id, created_at`,
		room.Name, room.Kind,
	).Scan(&room.ID, &room.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}

	for _, userID := range memberIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			room.ID, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to add room member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit room: %w", err)
	}
	return nil
}

func (s *Store) ListRoomsForUser(ctx context.Context, userID int64) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.name, r.type, r.created_at
		 FROM rooms r
		 JOIN room_members rm ON rm.room_id = r.id
		 WHERE rm.user_id = $1
		 ORDER BY r.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get rooms: %w", err)
	}
	defer rows.Close()

	rooms := []models.Room{}
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Kind, &r.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// --- Room Members ---

func (s *Store) AddRoomMember(ctx context.Context, roomID, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roomID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add room member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) RemoveRoomMember(ctx context.Context, roomID, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove room member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) IsRoomMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

func (s *Store) ListRoomMemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY user_id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get room members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CountMembersByRoom(ctx context.Context, roomIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(roomIDs))
	if len(roomIDs) == 0 {
		return counts, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, COUNT(*) FROM room_members WHERE room_id = ANY($1) GROUP BY room_id`,
		pq.Array(roomIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count room members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roomID int64
		var n int
		if err := rows.Scan(&roomID, &n); err != nil {
			return nil, err
		}
		counts[roomID] = n
	}
	return counts, rows.Err()
}

func (s *Store) CountRoomMembers(ctx context.Context, roomID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_members WHERE room_id = $1`,
		roomID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count room members: %w", err)
	}
	return n, nil
}

// --- Messages ---

func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (room_id, sender_id, content, type) VALUES ($1, $2, $3, $4)
		 RETURNING id, sent_at`,
		msg.RoomID, msg.SenderID, msg.Content, msg.Type,
	).Scan(&msg.ID, &msg.SentAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, roomID, before int64, limit int) ([]models.Message, error) {
	var rows *sql.Rows
	var err error

	if before > 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT m.id, m.room_id, m.sender_id, u.nickname, m.content, m.type, m.sent_at
			 FROM messages m
			 LEFT JOIN users u ON u.id = m.sender_id
			 WHERE m.room_id = $1 AND m.id < $2
			 ORDER BY m.id DESC
			 LIMIT $3`,
			roomID, before, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT m.id, m.room_id, m.sender_id, u.nickname, m.content, m.type, m.sent_at
			 FROM messages m
			 LEFT JOIN users u ON u.id = m.sender_id
			 WHERE m.room_id = $1
			 ORDER BY m.id DESC
			 LIMIT $2`,
			roomID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderNickname, &m.Content, &m.Type, &m.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
