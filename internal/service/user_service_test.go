package service

import (
	"context"
	"errors"
	"testing"

	"inkdown-collab/internal/domain"
)

func TestUserService_GetByID(t *testing.T) {
	repo := newMockUserRepository()
	repo.Create(context.Background(), &domain.User{ID: "u1", Username: "alice", Password: "hashed"})
	service := NewUserService(repo)

	user, err := service.GetByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if user.Password != "" {
		t.Error("GetByID() returned user with password")
	}

	if _, err := service.GetByID(context.Background(), "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByID() error = %v, want %v", err, ErrUserNotFound)
	}
}

func TestUserService_Update(t *testing.T) {
	tests := []struct {
		name        string
		req         *domain.UpdateUserRequest
		wantErr     error
		wantName    string
		wantDisplay string
	}{
		{"display name only", &domain.UpdateUserRequest{DisplayName: "Alice A."}, nil, "alice", "Alice A."},
		{"new username", &domain.UpdateUserRequest{Username: "alice2"}, nil, "alice2", ""},
		{"same username", &domain.UpdateUserRequest{Username: "alice"}, nil, "alice", ""},
		{"taken username", &domain.UpdateUserRequest{Username: "bob"}, ErrUsernameTaken, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockUserRepository()
			ctx := context.Background()
			repo.Create(ctx, &domain.User{ID: "u1", Username: "alice", Password: "hashed"})
			repo.Create(ctx, &domain.User{ID: "u2", Username: "bob"})
			service := NewUserService(repo)

			user, err := service.Update(ctx, "u1", tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Update() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if user.Username != tt.wantName || user.DisplayName != tt.wantDisplay {
				t.Errorf("Update() = %s/%s, want %s/%s", user.Username, user.DisplayName, tt.wantName, tt.wantDisplay)
			}
		})
	}
}
