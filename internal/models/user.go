package models

import "golang.org/x/crypto/bcrypt"

// User is the minimal account record the realtime subsystem needs: identity
// for hashing, display fields for participant snapshots, and the role used to
// gate admin rooms and endpoints. Account management itself lives elsewhere.
type User struct {
	BaseModel

	Name         string `gorm:"type:varchar(255)" json:"name"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"type:varchar(255)" json:"-"`
	Role         string `gorm:"type:varchar(32);default:'student';index" json:"role"`
}

// SetPassword hashes and stores the plaintext password.
func (u *User) SetPassword(plain string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword reports whether the plaintext matches the stored hash.
func (u *User) CheckPassword(plain string) bool {
	if u == nil || u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plain)) == nil
}

// RoleAdmin grants access to administrative operations and the admin room.
const RoleAdmin = "admin"

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
