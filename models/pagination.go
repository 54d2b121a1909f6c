package models

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/mmdatafocus/lease_backend/config"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type PageInfo struct {
	EndCursor   string `json:"endCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

// EncodeCompositeCursor encodes a (created_at, id) position for keyset paging.
func EncodeCompositeCursor(createdAt time.Time, id string) string {
	cursor := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.StdEncoding.EncodeToString([]byte(cursor))
}

// DecodeCompositeCursor returns ok=false for an empty or malformed cursor.
func DecodeCompositeCursor(cursor string) (time.Time, string, bool) {
	if cursor == "" {
		return time.Time{}, "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", false
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", false
	}
	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", false
	}
	return createdAt, parts[1], true
}

// PageReservations lists reservations newest first, limit rows after the cursor.
func PageReservations(ctx context.Context, status ReservationStatus, after string, limit int) ([]Reservation, *PageInfo, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	db := config.GetDB().WithContext(ctx)
	if status != "" {
		if !status.IsValid() {
			return nil, nil, newValidationError("invalid status", map[string]string{"status": "oneof"})
		}
		db = db.Where("status = ?", status)
	}
	if createdAt, id, ok := DecodeCompositeCursor(after); ok {
		db = db.Where("created_at < ? OR (created_at = ? AND id > ?)", createdAt, createdAt, id)
	}
	var rows []Reservation
	if err := db.Order("created_at DESC, id").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	info := &PageInfo{}
	if len(rows) > limit {
		rows = rows[:limit]
		info.HasNextPage = true
	}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		info.EndCursor = EncodeCompositeCursor(last.CreatedAt, last.ID)
	}
	return rows, info, nil
}
