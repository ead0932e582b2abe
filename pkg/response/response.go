package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeOrderNotFound        = 1001
	CodeInvalidTransition    = 1002
	CodeInsufficientPoints   = 1003
	CodeDuplicateRequest     = 1004
	CodePackageNotFound      = 1005
	CodePackageLocked        = 1006
	CodeEmailExists          = 1007
	CodeInvalidCredentials   = 1008
	CodeOutcomeUnknown       = 1009
	CodeStoreUnavailable     = 1010
	CodeConsistencyViolation = 1011
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Fail 错误响应同时设置 HTTP 状态码和业务码
func Fail(c *gin.Context, httpStatus, code int, message string, data interface{}) {
	c.AbortWithStatusJSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func ParamError(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, CodeParamError, message, nil)
}

func Unauthorized(c *gin.Context, message string) {
	Fail(c, http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func ServerError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, CodeServerError, message, nil)
}
