package handler

import (
	"sync"

	"github.com/Mupaky/topreach-sub001/internal/model"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators 注册自定义 binding 规则，gin 的校验器是全局的，只注册一次
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("point_category", func(fl validator.FieldLevel) bool {
			return model.PointCategory(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("order_kind", func(fl validator.FieldLevel) bool {
			return model.OrderKind(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("order_status", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return model.IsKnownStatus(model.ServiceStatusTransitions, s) ||
				model.IsKnownStatus(model.PurchaseStatusTransitions, s)
		})
	})
}
