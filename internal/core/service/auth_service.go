package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/healthbridge/portal-session/internal/api/metrics"
	"github.com/healthbridge/portal-session/internal/core/domain"
	"github.com/healthbridge/portal-session/internal/core/ports"
	"github.com/healthbridge/portal-session/internal/pkg/validation"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenSettings configures token signing and lifetimes for the sandbox.
type TokenSettings struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
}

type tokenClaims struct {
	Role domain.Role `json:"role,omitempty"`
	Type string      `json:"typ"`
	jwt.RegisteredClaims
}

// AccountService implements the sandbox backend's account use cases.
type AccountService struct {
	repo        ports.AccountRepository
	revocations ports.TokenRevocations
	resets      ports.ResetTokens
	settings    TokenSettings
	validate    *validation.Validator
	log         zerolog.Logger
	now         func() time.Time
}

func NewAccountService(repo ports.AccountRepository, revocations ports.TokenRevocations, resets ports.ResetTokens, settings TokenSettings, log zerolog.Logger) *AccountService {
	if settings.AccessTTL <= 0 {
		settings.AccessTTL = 15 * time.Minute
	}
	if settings.RefreshTTL <= 0 {
		settings.RefreshTTL = 7 * 24 * time.Hour
	}
	if settings.ResetTTL <= 0 {
		settings.ResetTTL = 30 * time.Minute
	}
	return &AccountService{
		repo:        repo,
		revocations: revocations,
		resets:      resets,
		settings:    settings,
		validate:    validation.New(),
		log:         log.With().Str("component", "accounts").Logger(),
		now:         time.Now,
	}
}

func (s *AccountService) Register(ctx context.Context, reg ports.Registration) (*ports.Confirmation, error) {
	if err := s.validate.Validate(reg); err != nil {
		return nil, err
	}
	role := reg.Role
	if role == "" {
		role = domain.RolePatient
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any)
	for k, v := range map[string]string{"phone": reg.Phone, "gender": reg.Gender, "dateOfBirth": reg.DateOfBirth} {
		if v != "" {
			fields[k] = v
		}
	}

	now := s.now().UTC()
	created, err := s.repo.Create(ctx, &domain.Account{
		ID:            uuid.NewString(),
		Email:         strings.TrimSpace(reg.Email),
		PasswordHash:  string(hash),
		Role:          role,
		Name:          reg.Name,
		ProfileFields: fields,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	metrics.SandboxRegistrationsTotal.WithLabelValues(string(role)).Inc()
	s.log.Info().Str("account_id", created.ID).Str("role", string(role)).Msg("account registered")
	return &ports.Confirmation{ID: created.ID, Email: created.Email, Role: created.Role}, nil
}

func (s *AccountService) Login(ctx context.Context, email, password string) (*ports.LoginResult, error) {
	if err := s.validate.Validate(loginInput{Email: email, Password: password}); err != nil {
		return nil, err
	}

	account, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		metrics.SandboxLoginsTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		metrics.SandboxLoginsTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrInvalidCredentials
	}

	pair, err := s.issuePair(account)
	if err != nil {
		return nil, err
	}
	metrics.SandboxLoginsTotal.WithLabelValues("ok").Inc()
	return &ports.LoginResult{TokenPair: *pair, User: account.Record()}, nil
}

// Logout revokes the access token until it would have expired anyway.
func (s *AccountService) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.parse(ctx, accessToken, tokenTypeAccess)
	if err != nil {
		return err
	}
	return s.revoke(ctx, claims)
}

func (s *AccountService) Authenticate(ctx context.Context, accessToken string) (*ports.AccessClaims, error) {
	claims, err := s.parse(ctx, accessToken, tokenTypeAccess)
	if err != nil {
		return nil, err
	}
	return &ports.AccessClaims{AccountID: claims.Subject, Role: claims.Role, TokenID: claims.ID}, nil
}

func (s *AccountService) Profile(ctx context.Context, accountID string) (*domain.UserRecord, error) {
	account, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return account.Record(), nil
}

// UpdateProfile merges a partial update into the stored account and returns
// the full record. "name" is merged field by field; a nil value removes a
// profile field.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID string, partial ports.ProfileUpdate) (*domain.UserRecord, error) {
	if len(partial) == 0 {
		return nil, domain.NewValidationError("profile", "no fields to update")
	}
	account, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := mergeProfile(account, partial); err != nil {
		return nil, err
	}
	account.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, account); err != nil {
		return nil, err
	}
	return account.Record(), nil
}

func mergeProfile(account *domain.Account, partial ports.ProfileUpdate) error {
	fields := make(map[string]string)
	for key, value := range partial {
		switch key {
		case "id", "email", "role":
			fields[key] = key + " cannot be changed"
		case "name":
			name, ok := value.(map[string]any)
			if !ok {
				fields["name"] = "name must be an object"
				continue
			}
			if v, ok := name["first"]; ok {
				first, _ := v.(string)
				if strings.TrimSpace(first) == "" {
					fields["name.first"] = "first is required"
					continue
				}
				account.Name.First = first
			}
			if v, ok := name["last"]; ok {
				last, _ := v.(string)
				account.Name.Last = last
			}
		default:
			if account.ProfileFields == nil {
				account.ProfileFields = make(map[string]any)
			}
			if value == nil {
				delete(account.ProfileFields, key)
				continue
			}
			account.ProfileFields[key] = value
		}
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// ForgotPassword issues a reset token for a known email. Unknown emails
// succeed silently and return an empty token.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) (string, error) {
	if err := s.validate.Validate(forgotInput{Email: email}); err != nil {
		return "", err
	}
	account, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		s.log.Info().Msg("password reset requested for unknown email")
		return "", nil
	}
	if err != nil {
		return "", err
	}

	token := uuid.NewString()
	if err := s.resets.Put(ctx, token, account.ID, s.settings.ResetTTL); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	s.log.Info().
		Str("account_id", account.ID).
		Str("reset_token", token).
		Dur("ttl", s.settings.ResetTTL).
		Msg("password reset token issued")
	return token, nil
}

func (s *AccountService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := s.validate.Validate(resetInput{ResetToken: resetToken, NewPassword: newPassword}); err != nil {
		return err
	}
	accountID, err := s.resets.Consume(ctx, resetToken)
	if err != nil {
		return err
	}
	account, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	account.PasswordHash = string(hash)
	account.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, account); err != nil {
		return err
	}
	s.log.Info().Str("account_id", account.ID).Msg("password reset")
	return nil
}

// Refresh rotates the credential pair. Each refresh token is single use.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*ports.TokenPair, error) {
	claims, err := s.parse(ctx, refreshToken, tokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindByID(ctx, claims.Subject)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	claimed, err := s.revocations.Claim(ctx, claims.ID, claims.ExpiresAt.Sub(s.now()))
	if err != nil {
		return nil, fmt.Errorf("claim refresh token: %w", err)
	}
	if !claimed {
		return nil, domain.ErrInvalidToken
	}
	return s.issuePair(account)
}

func (s *AccountService) issuePair(account *domain.Account) (*ports.TokenPair, error) {
	access, err := s.sign(account, tokenTypeAccess, s.settings.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(account, tokenTypeRefresh, s.settings.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &ports.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AccountService) sign(account *domain.Account, typ string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := tokenClaims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if typ == tokenTypeAccess {
		claims.Role = account.Role
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(s.settings.Secret))
}

// parse verifies signature, expiry, token type and revocation.
func (s *AccountService) parse(ctx context.Context, raw, typ string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(s.settings.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || claims.Type != typ || claims.Subject == "" || claims.ID == "" {
		return nil, domain.ErrInvalidToken
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

func (s *AccountService) revoke(ctx context.Context, claims *tokenClaims) error {
	ttl := claims.ExpiresAt.Sub(s.now())
	if err := s.revocations.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
