package service

import (
	"strings"

	"curbspot/internal/auth"
	"curbspot/internal/db"
	"curbspot/internal/entities"
	apperr "curbspot/internal/errors"
)

type AuthUserStore interface {
	CreateUser(u *db.User) error
	GetUserByEmail(email string) (*db.User, error)
}

type AuthService struct {
	users  AuthUserStore
	tokens *auth.Manager
}

func NewAuthService(users AuthUserStore, tokens *auth.Manager) *AuthService {
	return &AuthService{users: users, tokens: tokens}
}

func (s *AuthService) Register(req entities.RegisterRequest) (*entities.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.New(apperr.KindValidation, "a valid email is required")
	}
	if len(req.Password) < 8 {
		return nil, apperr.New(apperr.KindValidation, "password must be at least 8 characters")
	}
	if req.Role != db.RoleDriver && req.Role != db.RoleHost {
		return nil, apperr.New(apperr.KindValidation, "role must be driver or host")
	}
	if existing, err := s.users.GetUserByEmail(email); err == nil && existing != nil {
		return nil, apperr.New(apperr.KindValidation, "email already registered")
	} else if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "error hashing password", err)
	}
	u := &db.User{
		Email:        email,
		Phone:        strings.TrimSpace(req.Phone),
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Role:         req.Role,
	}
	if err := s.users.CreateUser(u); err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "error issuing token", err)
	}
	return &entities.AuthResponse{Token: token, Role: u.Role}, nil
}

func (s *AuthService) Login(req entities.LoginRequest) (*entities.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	u, err := s.users.GetUserByEmail(email)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.New(apperr.KindUnauthorized, "invalid credentials")
		}
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid credentials")
	}

	token, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "error issuing token", err)
	}
	return &entities.AuthResponse{Token: token, Role: u.Role}, nil
}
