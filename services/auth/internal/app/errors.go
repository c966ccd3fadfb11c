package app

import "errors"

var (
	ErrEmailAndPasswordRequired = errors.New("email and password are required")
	ErrDisplayNameRequired      = errors.New("displayName is required")
	ErrEmailAlreadyExists       = errors.New("email already registered")
	ErrInvalidCredentials       = errors.New("invalid email or password")
	ErrRefreshTokenRequired     = errors.New("refresh token is required")
	ErrInvalidRefreshToken      = errors.New("invalid refresh token")
	ErrUserNotFound             = errors.New("user not found")
)
