package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrSessionInvalid = errors.New("会话无效")
	ErrSessionExpired = errors.New("会话已过期")
)

// Claims 会话凭证内容，签发时刻的身份与余额快照
type Claims struct {
	UserID   int64            `json:"uid"`
	Email    string           `json:"email"`
	FullName string           `json:"name"`
	Role     string           `json:"role"`
	Points   map[string]int64 `json:"pts,omitempty"`
	jwt.RegisteredClaims
}

// Identity 校验通过后的会话身份。
// Role 只是快照，特权操作必须经过 RoleReconciler
type Identity struct {
	SessionID string
	UserID    int64
	Email     string
	FullName  string
	Role      string
	Points    map[model.PointCategory]int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (i *Identity) IsAdminClaim() bool {
	return i != nil && i.Role == model.RoleAdmin
}

// SessionAuthority 签发和校验会话凭证，校验过程不访问任何存储
type SessionAuthority struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewSessionAuthority(secret string, ttl time.Duration, issuer string) *SessionAuthority {
	return &SessionAuthority{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
}

// WithClock 替换时钟，测试过期逻辑用
func (a *SessionAuthority) WithClock(now func() time.Time) *SessionAuthority {
	a.now = now
	return a
}

func (a *SessionAuthority) TTL() time.Duration {
	return a.ttl
}

// Issue 签发凭证
func (a *SessionAuthority) Issue(user *model.User, snapshot map[model.PointCategory]int64) (string, *Identity, error) {
	issuedAt := a.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(a.ttl)

	points := make(map[string]int64, len(snapshot))
	for category, v := range snapshot {
		points[string(category)] = v
	}

	claims := &Claims{
		UserID:   user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Role:     user.Role,
		Points:   points,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    a.issuer,
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", nil, fmt.Errorf("签发会话失败: %w", err)
	}
	return token, claimsToIdentity(claims), nil
}

// Verify 签名不符返回 ErrSessionInvalid，过期返回 ErrSessionExpired
func (a *SessionAuthority) Verify(credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrSessionInvalid
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims,
		func(t *jwt.Token) (interface{}, error) {
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, ErrSessionInvalid
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, ErrSessionInvalid
	}
	return claimsToIdentity(claims), nil
}

func claimsToIdentity(c *Claims) *Identity {
	points := make(map[model.PointCategory]int64, len(c.Points))
	for k, v := range c.Points {
		points[model.PointCategory(k)] = v
	}
	id := &Identity{
		SessionID: c.ID,
		UserID:    c.UserID,
		Email:     c.Email,
		FullName:  c.FullName,
		Role:      c.Role,
		Points:    points,
	}
	if c.IssuedAt != nil {
		id.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}
