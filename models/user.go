package models

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/utils"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Username  string    `gorm:"size:100;not null;uniqueIndex" json:"username"`
	Name      string    `gorm:"size:150;not null" json:"name"`
	Email     *string   `gorm:"size:150;uniqueIndex" json:"email"`
	Phone     string    `gorm:"size:32" json:"phone"`
	Password  string    `gorm:"size:255;not null" json:"password,omitempty"`
	Role      ActorRole `gorm:"size:20;not null" json:"role"`
	IsActive  *bool     `gorm:"not null" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string    `json:"username" validate:"required,max=100"`
	Name     string    `json:"name" validate:"required,max=150"`
	Email    string    `json:"email" validate:"omitempty,email"`
	Phone    string    `json:"phone"`
	Password string    `json:"password" validate:"required,min=8"`
	Role     ActorRole `json:"role" validate:"required"`
}

type LoginInfo struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserId    string    `json:"user_id"`
	Name      string    `json:"name"`
	Role      ActorRole `json:"role"`
}

/*
caches:
	Token:$sessionId -> username
	Tokens:$username -> set of session ids
*/

func (result *User) PrepareGive() {
	result.Password = ""
}

func (user User) Actor() Actor {
	return Actor{
		UserId: user.ID,
		Name:   user.Name,
		Role:   user.Role,
		Phone:  user.Phone,
		Email:  utils.DereferencePtr(user.Email),
	}
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	db := config.GetDB()
	var user User
	err := db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&user).Error
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !utils.DereferencePtr(user.IsActive) {
		return nil, errors.New("user is disabled")
	}

	token, sessionId, err := utils.JwtGenerate(utils.JwtCustomClaim{
		UserId:   user.ID,
		Username: user.Username,
		Name:     user.Name,
		Role:     string(user.Role),
		Phone:    user.Phone,
		Email:    utils.DereferencePtr(user.Email),
	})
	if err != nil {
		return nil, err
	}
	lifespan := utils.TokenLifespan()
	if err := config.AddRedisSet("Tokens:"+user.Username, sessionId); err != nil {
		return nil, err
	}
	if err := config.SetRedisValue("Token:"+sessionId, user.Username, lifespan); err != nil {
		return nil, err
	}
	return &LoginInfo{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(lifespan),
		UserId:    user.ID,
		Name:      user.Name,
		Role:      user.Role,
	}, nil
}

// Logout destroys the current session.
func Logout(ctx context.Context) (bool, error) {
	sessionId, ok := utils.GetSessionIdFromContext(ctx)
	if !ok || sessionId == "" {
		return false, errors.New("session is required")
	}
	if err := config.RemoveRedisKey("Token:" + sessionId); err != nil {
		return false, err
	}
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return false, errors.New("user not found")
	}
	if err := config.RemoveRedisSetMember("Tokens:"+username, sessionId); err != nil {
		return false, err
	}
	return true, nil
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	fields, err := validateInput(input)
	if err != nil {
		return nil, err
	}
	if !input.Role.IsValid() || input.Role == ActorRoleSystem {
		fields["role"] = "oneof tenant owner accounting admin"
	}
	if input.Phone != "" {
		phone, err := utils.NormalizePhoneNumber(input.Phone, config.PhoneRegion())
		if err != nil {
			fields["phone"] = "phone"
		}
		input.Phone = phone
	}
	if len(fields) > 0 {
		return nil, newValidationError("invalid user", fields)
	}

	db := config.GetDB()
	email := strings.ToLower(strings.TrimSpace(input.Email))
	var count int64
	q := db.WithContext(ctx).Model(&User{}).Where("username = ?", input.Username)
	if email != "" {
		q = q.Or("email = ?", email)
	}
	if err := q.Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, conflictError("duplicate username or email")
	}

	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := User{
		ID:       uuid.NewString(),
		Username: html.EscapeString(strings.TrimSpace(input.Username)),
		Name:     strings.TrimSpace(input.Name),
		Phone:    input.Phone,
		Password: string(hashedPassword),
		Role:     input.Role,
		IsActive: utils.NewTrue(),
	}
	if email != "" {
		user.Email = &email
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		if IsDuplicateKeyErr(err) {
			return nil, conflictError("duplicate username or email")
		}
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

// DestroyAllSessions revokes every token issued to the user.
func (user *User) DestroyAllSessions(ctx context.Context) error {
	rdb := config.GetRedisDB()
	if rdb == nil {
		return nil
	}
	sessions, err := rdb.SMembers(ctx, "Tokens:"+user.Username).Result()
	if err != nil {
		return err
	}
	keys := []string{"Tokens:" + user.Username}
	for _, s := range sessions {
		keys = append(keys, "Token:"+s)
	}
	return config.RemoveRedisKey(keys...)
}

func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	if err := config.GetDB().WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, notFound("user", username)
	}
	user.PrepareGive()
	return &user, nil
}
