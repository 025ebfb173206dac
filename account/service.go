package account

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"roadassist/identity"
	"roadassist/issue"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("account: password must be at least 8 characters")
	// ErrInvalidInput signals a missing or malformed registration field.
	ErrInvalidInput = errors.New("account: invalid input")
	// ErrInvalidToken signals a bearer token that cannot be trusted.
	ErrInvalidToken = errors.New("account: invalid token")
	// ErrNotProvider signals a provider-only operation called by someone else.
	ErrNotProvider = errors.New("account: caller is not a provider")
)

const defaultTokenTTL = 24 * time.Hour

// Service handles registration, login and profile lookups.
type Service struct {
	repo      Repository
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  defaultTokenTTL,
		now:       time.Now,
	}
}

func (s *Service) WithTokenTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
	return s
}

// WithClock overrides the time source used for token issue and expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Register creates a new account. Providers must supply a profile.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || fullName == "" {
		return nil, fmt.Errorf("%w: email and fullName are required", ErrInvalidInput)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email %q is malformed", ErrInvalidInput, email)
	}

	role := identity.Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = identity.RoleRequester
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}

	var profile *ProviderProfile
	if role == identity.RoleProvider {
		p, err := providerProfile(req.Provider)
		if err != nil {
			return nil, err
		}
		profile = p
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("account: hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(passwordHash),
		Phone:        strings.TrimSpace(req.Phone),
		Role:         role,
		Provider:     profile,
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Login authenticates a user and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("account: generate token: %w", err)
	}

	return LoginResult{Token: token, User: user}, nil
}

func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetLive toggles whether a provider is currently taking jobs.
func (s *Service) SetLive(ctx context.Context, actor identity.Actor, live bool) (*User, error) {
	if !actor.IsProvider() {
		return nil, ErrNotProvider
	}
	user, err := s.repo.SetLive(ctx, actor.ID, live)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Summaries implements issue.Directory.
func (s *Service) Summaries(ctx context.Context, ids []string) (map[string]issue.Party, error) {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	users, err := s.repo.ListByIDs(ctx, unique)
	if err != nil {
		return nil, err
	}
	out := make(map[string]issue.Party, len(users))
	for _, u := range users {
		out[u.ID] = issue.Party{ID: u.ID, FullName: u.FullName, Phone: u.Phone, Rating: u.Rating}
	}
	return out, nil
}

// VerifyToken validates a bearer token and returns the actor it names.
func (s *Service) VerifyToken(tokenString string) (identity.Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return identity.Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return identity.Actor{}, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return identity.Actor{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return identity.Actor{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := identity.Role(roleStr)
	if !role.Valid() {
		return identity.Actor{}, fmt.Errorf("%w: role %q", ErrInvalidToken, roleStr)
	}
	return identity.Actor{ID: userID, Role: role}, nil
}

func (s *Service) generateToken(userID string, role identity.Role) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     now.Add(s.tokenTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func providerProfile(in *ProviderInput) (*ProviderProfile, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: provider profile is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.CNIC) == "" {
		return nil, fmt.Errorf("%w: provider cnic is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Address) == "" {
		return nil, fmt.Errorf("%w: provider address is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.ServiceAreas) == "" {
		return nil, fmt.Errorf("%w: provider service areas are required", ErrInvalidInput)
	}
	if len(in.VehicleTypes) == 0 {
		return nil, fmt.Errorf("%w: at least one vehicle type is required", ErrInvalidInput)
	}
	types := make([]string, 0, len(in.VehicleTypes))
	for _, vt := range in.VehicleTypes {
		if !issue.VehicleType(vt).Valid() {
			return nil, fmt.Errorf("%w: vehicle type %q", ErrInvalidInput, vt)
		}
		types = append(types, vt)
	}
	for _, v := range []float64{in.ServiceRadiusKm, in.HourlyRate} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("%w: service radius and hourly rate must be non-negative", ErrInvalidInput)
		}
	}

	availability := in.Availability
	switch availability {
	case "":
		availability = AvailabilityFullTime
	case AvailabilityFullTime, AvailabilityPartTime:
	default:
		return nil, fmt.Errorf("%w: availability %q", ErrInvalidInput, availability)
	}

	return &ProviderProfile{
		CNIC:            strings.TrimSpace(in.CNIC),
		Address:         strings.TrimSpace(in.Address),
		ServiceAreas:    strings.TrimSpace(in.ServiceAreas),
		Experience:      strings.TrimSpace(in.Experience),
		VehicleTypes:    types,
		ServiceRadiusKm: in.ServiceRadiusKm,
		HourlyRate:      in.HourlyRate,
		Availability:    availability,
	}, nil
}
