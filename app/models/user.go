package models

import "time"

// User is the minimal account row wallets and call logs hang off.
// Account management, authentication and session handling live outside
// this service.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(200);uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"type:varchar(100);default:''" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
