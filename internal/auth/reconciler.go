package auth

import (
	"context"

	"github.com/Mupaky/topreach-sub001/internal/logger"
	"github.com/Mupaky/topreach-sub001/internal/model"
)

// Verdict 授权结论
type Verdict int

const (
	VerdictDenied Verdict = iota
	VerdictAdmin
)

func (v Verdict) String() string {
	if v == VerdictAdmin {
		return "admin"
	}
	return "denied"
}

// RoleSource 权威角色来源（用户表）
type RoleSource interface {
	GetRole(ctx context.Context, userID int64) (string, error)
}

// RoleReconciler 会话角色与用户表角色都为 admin 才放行。
// 用户表读取失败一律拒绝
type RoleReconciler struct {
	source RoleSource
}

func NewRoleReconciler(source RoleSource) *RoleReconciler {
	return &RoleReconciler{source: source}
}

func (r *RoleReconciler) Reconcile(ctx context.Context, identity *Identity) Verdict {
	if identity == nil || identity.Role != model.RoleAdmin {
		return VerdictDenied
	}

	role, err := r.source.GetRole(ctx, identity.UserID)
	if err != nil {
		logger.FromContext(ctx).Warn("读取权威角色失败，拒绝特权操作",
			"user_id", identity.UserID, "error", err)
		return VerdictDenied
	}
	if role != model.RoleAdmin {
		logger.FromContext(ctx).Warn("会话角色与用户表不一致，拒绝特权操作",
			"user_id", identity.UserID, "session_role", identity.Role, "authoritative_role", role)
		return VerdictDenied
	}
	return VerdictAdmin
}
