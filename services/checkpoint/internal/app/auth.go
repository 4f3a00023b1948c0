package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkpoint/internal/util"
	"checkpoint/pkg/auth"
	"checkpoint/pkg/domain"
	"checkpoint/pkg/store"
)

// Account is an authenticated user with its resolved role.
type Account struct {
	User domain.User
	Role domain.UserRole
}

// AccountView is the wire form returned by login and me.
type AccountView struct {
	ID    string          `json:"id"`
	Email string          `json:"email"`
	Name  string          `json:"name"`
	Role  domain.UserRole `json:"role"`
}

func (a Account) View() AccountView {
	return AccountView{
		ID:    a.User.ID,
		Email: a.User.Email,
		Name:  a.User.DisplayName(),
		Role:  a.Role,
	}
}

// Session is the login response.
type Session struct {
	Token string      `json:"token"`
	User  AccountView `json:"user"`
}

// Login checks credentials and returns the user's bearer token.
func (a *App) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return Session{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	role, err := a.roleFor(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	token, err := a.tokens.IssueToken(ctx, user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, User: Account{User: user, Role: role}.View()}, nil
}

// Authenticate resolves the account behind a bearer token.
func (a *App) Authenticate(ctx context.Context, token string) (Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Account{}, ErrUnauthorized
	}
	uid, ok, err := a.tokens.UserIDByToken(ctx, token)
	if err != nil {
		return Account{}, fmt.Errorf("resolve token: %w", err)
	}
	if !ok {
		return Account{}, ErrUnauthorized
	}
	user, ok, err := a.store.GetUserByID(ctx, uid)
	if err != nil {
		return Account{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return Account{}, ErrUnauthorized
	}
	role, err := a.roleFor(ctx, user.ID)
	if err != nil {
		return Account{}, err
	}
	return Account{User: user, Role: role}, nil
}

// Logout invalidates the token.
func (a *App) Logout(ctx context.Context, token string) error {
	if err := a.tokens.DeleteToken(ctx, token); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// roleFor falls back to the default role when the profile row is missing.
func (a *App) roleFor(ctx context.Context, userID string) (domain.UserRole, error) {
	profile, ok, err := a.store.GetProfile(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("fetch profile: %w", err)
	}
	if !ok {
		return domain.DefaultRole, nil
	}
	if role, ok := domain.ParseUserRole(string(profile.Role)); ok {
		return role, nil
	}
	return domain.DefaultRole, nil
}

// NewAccount describes an account to provision.
type NewAccount struct {
	Username  string
	Email     string
	FirstName string
	Password  string
	Role      domain.UserRole
}

// ProvisionAccount creates an account and its profile. Accounts are never
// created over HTTP.
func (a *App) ProvisionAccount(ctx context.Context, in NewAccount) (Account, error) {
	email := normalizeEmail(in.Email)
	verr := &ValidationError{}
	if email == "" || !strings.Contains(email, "@") {
		verr.add("email", "Enter a valid email address.")
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = email
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		verr.add("password", err.Error())
	}
	role := in.Role
	if role == "" {
		role = domain.DefaultRole
	}
	if _, ok := domain.ParseUserRole(string(role)); !ok {
		verr.add("role", fmt.Sprintf("%q is not a valid choice.", role))
	}
	if !verr.empty() {
		return Account{}, verr
	}

	if _, exists, err := a.store.GetUserByEmail(ctx, email); err != nil {
		return Account{}, fmt.Errorf("check email: %w", err)
	} else if exists {
		return Account{}, ErrAccountExists
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		Email:        email,
		FirstName:    strings.TrimSpace(in.FirstName),
		PasswordHash: hash,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Account{}, ErrAccountExists
		}
		return Account{}, fmt.Errorf("save user: %w", err)
	}
	if err := a.store.SaveProfile(ctx, domain.UserProfile{UserID: user.ID, Role: role}); err != nil {
		return Account{}, fmt.Errorf("save profile: %w", err)
	}
	return Account{User: user, Role: role}, nil
}

// SetRole changes the role of the account registered under email.
func (a *App) SetRole(ctx context.Context, email string, role domain.UserRole) (Account, error) {
	if _, ok := domain.ParseUserRole(string(role)); !ok {
		return Account{}, fieldError("role", fmt.Sprintf("%q is not a valid choice.", role))
	}
	user, ok, err := a.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return Account{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return Account{}, ErrNotFound
	}
	if err := a.store.SaveProfile(ctx, domain.UserProfile{UserID: user.ID, Role: role}); err != nil {
		return Account{}, fmt.Errorf("save profile: %w", err)
	}
	return Account{User: user, Role: role}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
