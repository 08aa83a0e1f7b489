package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// 默认 token 过期时间
	defaultTokenTTL = 12 * time.Hour
)

var ErrAuthDisabled = errors.New("token secret is not configured")

// Claims 握手凭证携带的声明。角色只作参考，建连时以用户表为准。
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID 从 subject 解析用户 ID
func (c *Claims) UserID() (uint64, error) {
	return strconv.ParseUint(c.Subject, 10, 64)
}

// TokenService 负责握手凭证的签发、校验与注销。
// - 签名/过期：HS256 JWT
// - 注销：Redis 记录被注销的 jti，TTL = token 剩余有效期
//
// Redis Key 设计：
// - rt:revoked:{jti} -> "1" (String, TTL)
type TokenService struct {
	secret []byte
	ttl    time.Duration
	rdb    *redis.Client
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration, rdb *redis.Client) *TokenService {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, rdb: rdb, now: time.Now}
}

func (s *TokenService) revokedKey(jti string) string {
	return "rt:revoked:" + jti
}

// Issue 为用户签发 token
func (s *TokenService) Issue(userID uint64, role string) (string, *Claims, error) {
	if s == nil || len(s.secret) == 0 {
		return "", nil, ErrAuthDisabled
	}
	if userID == 0 {
		return "", nil, errors.New("user id required")
	}
	now := s.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Parse 校验签名和过期时间，不查 Redis
func (s *TokenService) Parse(token string) (*Claims, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrAuthDisabled
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	return claims, nil
}

// Revoke 注销 token（Redis 未配置时无法注销）
func (s *TokenService) Revoke(ctx context.Context, claims *Claims) error {
	if s.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if claims == nil || claims.ID == "" {
		return nil
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if left := claims.ExpiresAt.Time.Sub(s.now()); left > 0 {
			ttl = left
		}
	}
	return s.rdb.Set(ctx, s.revokedKey(claims.ID), "1", ttl).Err()
}

// IsRevoked 是否已注销。未配置 Redis 时视为未注销。
func (s *TokenService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s.rdb == nil || jti == "" {
		return false, nil
	}
	err := s.rdb.Get(ctx, s.revokedKey(jti)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
