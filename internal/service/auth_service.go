package service

import (
	"context"
	"errors"
	"strings"

	"github.com/Mupaky/topreach-sub001/internal/auth"
	"github.com/Mupaky/topreach-sub001/internal/config"
	"github.com/Mupaky/topreach-sub001/internal/logger"
	"github.com/Mupaky/topreach-sub001/internal/model"
	"github.com/Mupaky/topreach-sub001/internal/repository"

	"gorm.io/gorm"
)

type AuthService struct {
	cfg       *config.Config
	userRepo  *repository.UserRepository
	ledger    *LedgerService
	authority *auth.SessionAuthority
}

func NewAuthService(db *gorm.DB, cfg *config.Config, ledger *LedgerService, authority *auth.SessionAuthority) *AuthService {
	return &AuthService{
		cfg:       cfg,
		userRepo:  repository.NewUserRepository(db),
		ledger:    ledger,
		authority: authority,
	}
}

type SignupRequest struct {
	Email    string
	FullName string
	Password string
}

// Signup 新用户角色固定为 user，角色变更不在接口范围内
func (s *AuthService) Signup(ctx context.Context, req *SignupRequest) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || fullName == "" {
		return nil, validationError("邮箱和姓名不能为空")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return nil, validationError("%s", err.Error())
		}
		return nil, err
	}

	user := &model.User{
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         model.RoleUser,
	}

	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	if err := s.userRepo.Create(storeCtx, user); err != nil {
		return nil, writeError(err)
	}
	logger.FromContext(ctx).Info("用户注册成功", "user_id", user.ID)
	return user, nil
}

type LoginResult struct {
	Token    string
	Identity *auth.Identity
	User     *model.User
}

// Login 校验密码，计算余额快照后签发会话
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, validationError("邮箱和密码不能为空")
	}

	storeCtx, cancel := storeContext(ctx, s.cfg)
	user, err := s.userRepo.GetByEmail(storeCtx, email)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, storeError(err)
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	snapshot, err := s.ledger.Snapshot(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	token, identity, err := s.authority.Issue(user, snapshot)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("用户登录", "user_id", user.ID, "session_id", identity.SessionID)
	return &LoginResult{Token: token, Identity: identity, User: user}, nil
}

// Verify 只校验签名和有效期，不访问存储
func (s *AuthService) Verify(credential string) (*auth.Identity, error) {
	identity, err := s.authority.Verify(credential)
	if err != nil {
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return identity, nil
}

func (s *AuthService) SessionTTL() int {
	return int(s.authority.TTL().Seconds())
}
