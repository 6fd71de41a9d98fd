package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/idtoken"

	"spendtrack/internal/core"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid input")
)

// UserStore defines persistence operations for user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user core.User, passwordHash string) (core.User, error)
	GetUserByEmail(ctx context.Context, email string) (core.User, string, error)
	GetUserByID(ctx context.Context, id string) (core.User, error)
	ListUsers(ctx context.Context) ([]core.User, error)
}

// Service implements the identity operations: sign-up, login, Google
// federated login and bearer-token validation.
type Service struct {
	users          UserStore
	jwtSecret      []byte
	tokenTTL       time.Duration
	bcryptCost     int
	googleClientID string
}

func NewService(users UserStore, jwtSecret string, tokenTTL time.Duration, bcryptCost int, googleClientID string) *Service {
	return &Service{
		users:          users,
		jwtSecret:      []byte(jwtSecret),
		tokenTTL:       tokenTTL,
		bcryptCost:     bcryptCost,
		googleClientID: googleClientID,
	}
}

// SignUp creates a new account. It does not log the user in; callers go
// through Login afterwards.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (core.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return core.User{}, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if len(password) < 8 {
		return core.User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}

	if _, _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return core.User{}, ErrDuplicateEmail
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.User{}, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := core.User{
		ID:    uuid.NewString(),
		Email: email,
		Name:  strings.TrimSpace(displayName),
	}
	created, err := s.users.CreateUser(ctx, user, string(hash))
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// Login verifies credentials and returns a signed bearer token with the
// user it identifies.
func (s *Service) Login(ctx context.Context, email, password string) (string, core.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, hash, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", core.User{}, ErrInvalidCredentials
		}
		return "", core.User{}, fmt.Errorf("get user: %w", err)
	}
	if hash == "" {
		// Federated account without a password.
		return "", core.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", core.User{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user)
	if err != nil {
		return "", core.User{}, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

// LoginWithGoogle verifies a Google ID token and logs in the identified
// account, creating it on first sight.
func (s *Service) LoginWithGoogle(ctx context.Context, rawIDToken string) (string, core.User, error) {
	if s.googleClientID == "" {
		return "", core.User{}, fmt.Errorf("%w: google login is not configured", ErrInvalidInput)
	}
	payload, err := idtoken.Validate(ctx, rawIDToken, s.googleClientID)
	if err != nil {
		return "", core.User{}, ErrInvalidCredentials
	}

	email, _ := payload.Claims["email"].(string)
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", core.User{}, ErrInvalidCredentials
	}

	user, _, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, core.ErrNotFound) {
		name, _ := payload.Claims["name"].(string)
		picture, _ := payload.Claims["picture"].(string)
		user, err = s.users.CreateUser(ctx, core.User{
			ID:             uuid.NewString(),
			Email:          email,
			Name:           name,
			ProfilePicture: picture,
		}, "")
	}
	if err != nil {
		return "", core.User{}, fmt.Errorf("resolve google user: %w", err)
	}

	token, err := s.generateToken(user)
	if err != nil {
		return "", core.User{}, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

// ValidateToken parses a bearer token and returns the user id it was
// issued for.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", core.ErrUnauthenticated
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", core.ErrUnauthenticated
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", core.ErrUnauthenticated
	}
	return sub, nil
}

// CurrentUser resolves a bearer token to its user record, restoring a
// session after a reload.
func (s *Service) CurrentUser(ctx context.Context, tokenString string) (core.User, error) {
	userID, err := s.ValidateToken(tokenString)
	if err != nil {
		return core.User{}, err
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.User{}, core.ErrUnauthenticated
		}
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ListUsers returns the minimal profiles shown in the split-participant
// picker.
func (s *Service) ListUsers(ctx context.Context) ([]core.User, error) {
	return s.users.ListUsers(ctx)
}

func (s *Service) generateToken(user core.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
