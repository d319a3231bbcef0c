package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/store"
	"ragefit/pos/internal/xid"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
)

type AuthManager struct {
	mu         sync.RWMutex
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	users      store.Table[domain.UserAccount]
	creds      map[string]credential
	log        zerolog.Logger
}

type credential struct {
	password string
	role     string
	active   bool
	created  time.Time
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// TokenInfo is what a verified bearer token carries. SessionID is the jti
// and keys the register session opened at login.
type TokenInfo struct {
	Actor     domain.Actor
	SessionID string
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users store.Table[domain.UserAccount], log zerolog.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	managerPIN = strings.TrimSpace(managerPIN)
	if managerPIN == "" {
		managerPIN = "disabled"
	}
	if hashed, err := hashPassword(managerPIN); err == nil {
		managerPIN = hashed
	}

	manager := &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: managerPIN,
		users:      users,
		creds:      make(map[string]credential),
		log:        log,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	manager.bootstrapUsers(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, domain.Actor, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.creds[username]
	a.mu.RUnlock()
	if !ok || !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, domain.Actor{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, domain.Actor{}, errInactiveAccount
	}

	sessionID := xid.New("sess")
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, sessionID, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, domain.Actor{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		SessionID:   sessionID,
	}, domain.Actor{Username: username, Role: cred.role}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (TokenInfo, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return TokenInfo{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return TokenInfo{}, errors.New("invalid token subject")
	}
	if claims.ID == "" {
		return TokenInfo{}, errors.New("token has no session")
	}
	return TokenInfo{Actor: domain.Actor{Username: sub, Role: claims.Role}, SessionID: claims.ID}, nil
}

func (a *AuthManager) sign(username, role, sessionID string, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        sessionID,
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "ragefit-pos",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isPasswordHash(a.managerPIN) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPIN), []byte(input)) == nil
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.OperatorCreateRequest) (domain.Operator, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.Operator{}, fmt.Errorf("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.Operator{}, fmt.Errorf("username must not contain spaces")
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.Operator{}, fmt.Errorf("password must be at least 6 characters")
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.Operator{}, fmt.Errorf("failed to hash password")
	}
	now := time.Now().UTC()
	account := domain.UserAccount{
		Username:  username,
		Password:  passwordHash,
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: now,
	}
	if err := a.users.Add(ctx, account); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Operator{}, fmt.Errorf("username already exists")
		}
		return domain.Operator{}, err
	}

	a.mu.Lock()
	a.creds[username] = credential{password: passwordHash, role: domain.RoleCashier, active: true, created: now}
	a.mu.Unlock()

	return domain.Operator{Username: username, Role: domain.RoleCashier, Active: true, CreatedAt: now}, nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.Operator {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.Operator, 0, len(a.creds))
	for username, cred := range a.creds {
		if cred.role != domain.RoleCashier {
			continue
		}
		result = append(result, domain.Operator{
			Username:  username,
			Role:      cred.role,
			Active:    cred.active,
			CreatedAt: cred.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers refreshes the credential cache from the users table and
// rewrites any plain-text password as a bcrypt hash.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.users == nil {
		return
	}
	accounts, err := a.users.GetAll(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("load operator accounts")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, account := range accounts {
		username := strings.ToLower(strings.TrimSpace(account.Username))
		if username == "" {
			continue
		}
		if !isPasswordHash(account.Password) {
			hashed, err := hashPassword(account.Password)
			if err == nil {
				account.Password = hashed
				if err := a.users.Put(ctx, account); err != nil {
					a.log.Warn().Err(err).Str("username", username).Msg("upgrade legacy password")
				}
			}
		}
		a.creds[username] = credential{
			password: account.Password,
			role:     account.Role,
			active:   account.Active,
			created:  account.CreatedAt,
		}
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
