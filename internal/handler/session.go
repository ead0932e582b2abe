package handler

import (
	"net/http"
	"strings"

	"github.com/Mupaky/topreach-sub001/internal/auth"
	"github.com/Mupaky/topreach-sub001/internal/service"
	"github.com/Mupaky/topreach-sub001/pkg/response"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// currentIdentity 只能在 AuthMiddleware 之后使用
func currentIdentity(c *gin.Context) *auth.Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(*auth.Identity); ok {
			return identity
		}
	}
	return nil
}

// credential 优先取 Authorization: Bearer，其次取 cookie
func (h *Handler) credential(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := c.Cookie(h.cfg.Server.CookieName); err == nil {
		return cookie
	}
	return ""
}

func (h *Handler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Server.CookieName, token, maxAge, "/", "", h.cfg.Server.CookieSecure, true)
}

type SignupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	FullName string `json:"full_name" binding:"required,max=128"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

// Signup 注册
// POST /api/v1/auth/signup
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	user, err := h.authService.Signup(c.Request.Context(), &service.SignupRequest{
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, user)
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login 登录，签发会话：写 cookie，同时在响应体返回 token
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		renderError(c, err)
		return
	}

	h.setSessionCookie(c, result.Token, h.authService.SessionTTL())
	response.Success(c, gin.H{
		"token":      result.Token,
		"expires_at": result.Identity.ExpiresAt,
		"user":       result.User,
		"points":     result.Identity.Points,
	})
}

// Me 返回会话中的身份快照，不访问存储
// GET /api/v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	identity := currentIdentity(c)
	response.Success(c, gin.H{
		"user_id":    identity.UserID,
		"email":      identity.Email,
		"full_name":  identity.FullName,
		"role":       identity.Role,
		"points":     identity.Points,
		"issued_at":  identity.IssuedAt,
		"expires_at": identity.ExpiresAt,
	})
}

// Logout 清除会话 cookie，未登录时调用同样成功。
// 服务端不记录已注销的会话：以 Bearer 方式保存的 token 在过期前仍然有效，客户端需要自行丢弃
// POST /api/v1/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	h.setSessionCookie(c, "", -1)
	response.Success(c, gin.H{"ok": true})
}
