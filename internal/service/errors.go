package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mupaky/topreach-sub001/internal/repository"
)

var (
	ErrValidation           = errors.New("参数不合法")
	ErrUnauthorized         = errors.New("未登录或会话已失效")
	ErrForbidden            = errors.New("无权限执行该操作")
	ErrInvalidTransition    = errors.New("订单状态不允许该变更")
	ErrOrderNotFound        = repository.ErrOrderNotFound
	ErrPackageNotFound      = repository.ErrPackageNotFound
	ErrPackageLocked        = errors.New("套餐已被到账订单引用，不能修改或删除")
	ErrEmailExists          = repository.ErrEmailExists
	ErrInvalidCredentials   = errors.New("邮箱或密码错误")
	ErrStoreUnavailable     = errors.New("存储暂不可用")
	ErrConsistencyViolation = errors.New("账务数据不一致")
	ErrOutcomeUnknown       = errors.New("处理结果未知，请按 request_id 查询后再重试")
)

// InsufficientBalanceError 余额不足，携带预占时的实际余额
type InsufficientBalanceError struct {
	Balance   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("点数不足: 余额 %d, 需要 %d", e.Balance, e.Requested)
}

// validationError 包装 ErrValidation，保留具体原因
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError 读操作的存储错误统一归为 ErrStoreUnavailable，业务错误原样返回
func storeError(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// writeError 写操作超时：事务可能已经提交，也可能没有，只能报结果未知
func writeError(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func isDomainError(err error) bool {
	var insufficient *InsufficientBalanceError
	if errors.As(err, &insufficient) {
		return true
	}
	for _, target := range []error{
		ErrValidation, ErrUnauthorized, ErrForbidden, ErrInvalidTransition,
		ErrOrderNotFound, ErrPackageNotFound, ErrPackageLocked, ErrEmailExists,
		ErrInvalidCredentials, ErrStoreUnavailable, ErrConsistencyViolation,
		ErrOutcomeUnknown,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
