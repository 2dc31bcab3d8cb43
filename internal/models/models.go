package models

import (
	"time"
)

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

// MaxDeposit is the cap on a buyer balance, in cents.
const MaxDeposit = 10000

type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string `gorm:"unique;not null"          json:"username"`
	PasswordHash string `gorm:"not null"                 json:"-"`
	Role         string `gorm:"not null"                 json:"role"`
	Deposit      int    `gorm:"not null;default:0"       json:"deposit"`
}

// ActiveSession binds one live token to one user. The uniqueIndex on UserID
// enforces the single-active-session rule even when two logins race.
type ActiveSession struct {
	ID        uint      `gorm:"primaryKey"           json:"id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	Token     string    `gorm:"unique;not null"      json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductName     string    `gorm:"not null"                 json:"product_name"`
	AmountAvailable int       `gorm:"not null"                 json:"amount_available"`
	Cost            int       `gorm:"not null"                 json:"cost"`
	SellerID        uint      `gorm:"index;not null"           json:"seller_id"`
	// Filled from the users table when products are read, never stored.
	SellerUsername string    `gorm:"->;-:migration"           json:"seller_username"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
