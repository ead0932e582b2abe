package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("订单不存在")
	ErrOrderStatusInvalid = errors.New("订单状态不合法")
	ErrPackageNotFound    = errors.New("套餐不存在")
	ErrUserNotFound       = errors.New("用户不存在")
	ErrEmailExists        = errors.New("邮箱已被注册")
	ErrDuplicateRequest   = errors.New("重复请求")
	ErrOrderNoConflict    = errors.New("订单号冲突")
)

// conn 传入事务时在事务内执行，否则使用默认连接
func conn(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}

func pageOffset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}

// createOrder 插入订单并区分两种唯一键冲突：
// request_id 已存在返回 ErrDuplicateRequest，否则是 order_no 冲突，返回 ErrOrderNoConflict。
// 插入放在嵌套事务（savepoint）里，失败后外层事务仍可继续查询
func createOrder(db *gorm.DB, order interface{}, requestID string) error {
	err := db.Transaction(func(inner *gorm.DB) error {
		return inner.Create(order).Error
	})
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}

	var count int64
	if err := db.Model(order).Where("request_id = ?", requestID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateRequest
	}
	return ErrOrderNoConflict
}
