package handler

import (
	"errors"
	"net/http"

	"github.com/Mupaky/topreach-sub001/internal/auth"
	"github.com/Mupaky/topreach-sub001/internal/logger"
	"github.com/Mupaky/topreach-sub001/internal/service"
	"github.com/Mupaky/topreach-sub001/pkg/response"

	"github.com/gin-gonic/gin"
)

// renderError 业务错误映射为 HTTP 状态码和业务码。
// 存储层错误只返回通用提示，不暴露内部信息
func renderError(c *gin.Context, err error) {
	log := logger.FromContext(c.Request.Context())

	var insufficient *service.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		response.Fail(c, http.StatusPaymentRequired, response.CodeInsufficientPoints, "点数不足", gin.H{
			"error":   "insufficient_points",
			"balance": insufficient.Balance,
		})
	case errors.Is(err, service.ErrValidation):
		response.Fail(c, http.StatusBadRequest, response.CodeParamError, err.Error(), nil)
	case errors.Is(err, auth.ErrSessionExpired):
		response.Fail(c, http.StatusUnauthorized, response.CodeUnauthorized, "会话已过期，请重新登录", nil)
	case errors.Is(err, service.ErrUnauthorized):
		response.Fail(c, http.StatusUnauthorized, response.CodeUnauthorized, service.ErrUnauthorized.Error(), nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Fail(c, http.StatusUnauthorized, response.CodeInvalidCredentials, service.ErrInvalidCredentials.Error(), nil)
	case errors.Is(err, service.ErrForbidden):
		response.Fail(c, http.StatusForbidden, response.CodeForbidden, service.ErrForbidden.Error(), gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrOrderNotFound):
		response.Fail(c, http.StatusNotFound, response.CodeOrderNotFound, service.ErrOrderNotFound.Error(), gin.H{"error": "not_found"})
	case errors.Is(err, service.ErrPackageNotFound):
		response.Fail(c, http.StatusNotFound, response.CodePackageNotFound, service.ErrPackageNotFound.Error(), gin.H{"error": "not_found"})
	case errors.Is(err, service.ErrInvalidTransition):
		response.Fail(c, http.StatusConflict, response.CodeInvalidTransition, err.Error(), gin.H{"error": "invalid_transition"})
	case errors.Is(err, service.ErrPackageLocked):
		response.Fail(c, http.StatusConflict, response.CodePackageLocked, service.ErrPackageLocked.Error(), nil)
	case errors.Is(err, service.ErrEmailExists):
		response.Fail(c, http.StatusConflict, response.CodeEmailExists, service.ErrEmailExists.Error(), nil)
	case errors.Is(err, service.ErrOutcomeUnknown):
		log.Warn("请求结果未知", "error", err)
		response.Fail(c, http.StatusGatewayTimeout, response.CodeOutcomeUnknown, service.ErrOutcomeUnknown.Error(), gin.H{"error": "outcome_unknown"})
	case errors.Is(err, service.ErrConsistencyViolation):
		response.Fail(c, http.StatusInternalServerError, response.CodeConsistencyViolation, "服务器内部错误", nil)
	case errors.Is(err, service.ErrStoreUnavailable):
		log.Error("存储不可用", "error", err)
		response.Fail(c, http.StatusServiceUnavailable, response.CodeStoreUnavailable, "服务暂不可用，请稍后重试", nil)
	default:
		log.Error("未处理的错误", "error", err)
		response.ServerError(c, "服务器内部错误")
	}
}
