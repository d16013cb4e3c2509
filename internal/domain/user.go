package domain

import "time"

type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username" validate:"required,min=3,max=30,alphanum"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email" validate:"required,email"`
	Password    string    `json:"password,omitempty"` // Save to DB but omit from responses when empty
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Name is what collaborators see in presence lists.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=30,alphanum"`
	DisplayName string `json:"display_name" validate:"max=100"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type UpdateUserRequest struct {
	Username    string `json:"username" validate:"omitempty,min=3,max=30,alphanum"`
	DisplayName string `json:"display_name" validate:"max=100"`
}
