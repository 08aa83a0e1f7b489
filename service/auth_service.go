package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cydxin/clinic-realtime/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Identity 鉴权通过后的身份，角色/昵称取自用户表
type Identity struct {
	UserID      uint64
	Role        string
	DisplayName string
	TokenID     string
}

// UserDirectory 用户查询（诊所业务侧的用户表，本子系统只读）
type UserDirectory interface {
	FindByID(id uint64) (*models.User, error)
}

// AuthService 即身份校验器：只在握手时调用一次，不在每条消息上调用。
// - 解析 token（Bearer 优先，其次 query）
// - 校验签名/过期/注销，并确认账号存在且可用
// - 登录签发 / 注销 token
type AuthService struct {
	*Service
	token *TokenService
	users UserDirectory
}

func NewAuthService(s *Service, token *TokenService, users UserDirectory) *AuthService {
	if users == nil && s != nil && s.DB != nil {
		users = models.NewUserDAO(s.DB)
	}
	return &AuthService{Service: s, token: token, users: users}
}

// ExtractToken 从 HTTP 请求中提取 token：优先 Authorization: Bearer，其次 query: token。
// 浏览器原生 WebSocket 无法设置 header，所以保留 query 方式。
func (a *AuthService) ExtractToken(r *http.Request) string {
	if r == nil {
		return ""
	}

	// Authorization: Bearer <token>
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if ah != "" {
		parts := strings.SplitN(ah, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// query: ?token=xxx
	q := r.URL.Query().Get("token")
	return strings.TrimSpace(q)
}

// Verify 校验 token 并解析成身份。无副作用。
// 凭证问题和账号问题统一返回 ErrUnauthenticated（可用 errors.Is 判断）。
func (a *AuthService) Verify(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	claims, err := a.token.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	revoked, err := a.token.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, fmt.Errorf("%w: token revoked", ErrUnauthenticated)
	}

	if a.users == nil {
		return nil, errors.New("user directory is not configured")
	}
	uid, _ := claims.UserID()
	user, err := a.users.FindByID(uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d not found", ErrUnauthenticated, uid)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user %d is inactive", ErrUnauthenticated, uid)
	}

	return &Identity{
		UserID:      user.ID,
		Role:        user.Role,
		DisplayName: user.DisplayName(),
		TokenID:     claims.ID,
	}, nil
}

// Login 用户名密码登录，签发握手用 token
func (a *AuthService) Login(ctx context.Context, username, password string) (string, *Identity, error) {
	if a.DB == nil {
		return "", nil, errors.New("db is nil")
	}
	dao := models.NewUserDAO(a.DB.WithContext(ctx))
	user, err := dao.FindByUsername(strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, fmt.Errorf("%w: invalid username or password", ErrUnauthenticated)
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", nil, fmt.Errorf("%w: invalid username or password", ErrUnauthenticated)
	}
	if !user.IsActive {
		return "", nil, fmt.Errorf("%w: user is inactive", ErrUnauthenticated)
	}

	token, claims, err := a.token.Issue(user.ID, user.Role)
	if err != nil {
		return "", nil, err
	}
	if err := dao.TouchLogin(user.ID, time.Now()); err != nil {
		log.Printf("[auth] touch login user=%d: %v", user.ID, err)
	}
	return token, &Identity{UserID: user.ID, Role: user.Role, DisplayName: user.DisplayName(), TokenID: claims.ID}, nil
}

// Logout 注销 token。已经失效的 token 直接忽略。
func (a *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := a.token.Parse(strings.TrimSpace(token))
	if err != nil {
		return nil
	}
	return a.token.Revoke(ctx, claims)
}

// HashPassword 生成 bcrypt 哈希（供业务侧建用户时使用）
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
