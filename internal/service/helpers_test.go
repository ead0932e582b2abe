package service

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/Mupaky/topreach-sub001/internal/auth"
	"github.com/Mupaky/topreach-sub001/internal/config"
	"github.com/Mupaky/topreach-sub001/internal/model"
	"github.com/Mupaky/topreach-sub001/internal/repository"
	"github.com/Mupaky/topreach-sub001/internal/testutil"
	"github.com/Mupaky/topreach-sub001/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db        *gorm.DB
	cfg       *config.Config
	ledger    *LedgerService
	orders    *OrderService
	purchases *PurchaseService
	packages  *PackageService
	auth      *AuthService
	users     *repository.UserRepository
}

var requestSeq atomic.Int64

func nextRequestID() string {
	return fmt.Sprintf("req-%d", requestSeq.Add(1))
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka:   config.KafkaConfig{Topic: config.KafkaTopicConfig{OrderEvents: "order_events"}},
		Session: config.SessionConfig{Secret: "test", TTLHours: 1, Issuer: "topreach"},
		Business: config.BusinessConfig{
			StoreTimeoutSeconds: 5,
			CASRetryCount:       3,
			BalanceCacheSeconds: 30,
			MaxRetryCount:       3,
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithRedis(t, nil)
}

func newTestEnvWithRedis(t *testing.T, rdb *redis.Client) *testEnv {
	t.Helper()

	db := testutil.OpenTestDB(t)
	cfg := testConfig()
	users := repository.NewUserRepository(db)
	reconciler := auth.NewRoleReconciler(users)
	authority := auth.NewSessionAuthority(cfg.Session.Secret, cfg.SessionTTL(), cfg.Session.Issuer)

	ledger := NewLedgerService(db, rdb, cfg)
	return &testEnv{
		db:        db,
		cfg:       cfg,
		ledger:    ledger,
		orders:    NewOrderService(db, cfg, ledger, reconciler),
		purchases: NewPurchaseService(db, cfg, reconciler),
		packages:  NewPackageService(db, cfg, reconciler),
		auth:      NewAuthService(db, cfg, ledger, authority),
		users:     users,
	}
}

// createUser 返回用户和对应角色的会话身份
func (e *testEnv) createUser(t *testing.T, role string) (*model.User, *auth.Identity) {
	t.Helper()

	seq := requestSeq.Add(1)
	user := &model.User{
		Email:        fmt.Sprintf("user%d@example.com", seq),
		FullName:     fmt.Sprintf("User %d", seq),
		PasswordHash: "x",
		Role:         role,
	}
	require.NoError(t, e.users.Create(context.Background(), user))
	return user, &auth.Identity{UserID: user.ID, Email: user.Email, Role: role}
}

func (e *testEnv) setRole(t *testing.T, userID int64, role string) {
	t.Helper()
	require.NoError(t, e.db.Model(&model.User{}).Where("id = ?", userID).Update("role", role).Error)
}

func (e *testEnv) createPackage(t *testing.T, editing, design, recording int64) *model.PointsPackage {
	t.Helper()

	pkg := &model.PointsPackage{
		Name:            fmt.Sprintf("pkg-%d", requestSeq.Add(1)),
		EditingPoints:   editing,
		DesignPoints:    design,
		RecordingPoints: recording,
		Price:           decimal.RequireFromString("49.90"),
	}
	require.NoError(t, e.db.Create(pkg).Error)
	return pkg
}

// grantPoints 直接写入一笔已到账的充值订单
func (e *testEnv) grantPoints(t *testing.T, userID int64, category model.PointCategory, points int64) *model.PurchaseOrder {
	t.Helper()

	order := &model.PurchaseOrder{
		OrderNo:   idgen.GeneratePurchaseOrderNo(),
		RequestID: nextRequestID(),
		UserID:    userID,
		Price:     decimal.Zero,
		Status:    model.OrderStatusApproved,
	}
	switch category {
	case model.CategoryEditing:
		order.EditingPoints = points
	case model.CategoryDesign:
		order.DesignPoints = points
	case model.CategoryRecording:
		order.RecordingPoints = points
	}
	require.NoError(t, e.db.Create(order).Error)
	return order
}

func (e *testEnv) reserve(userID int64, kind model.OrderKind, category model.PointCategory, amount int64) (*ReserveResult, error) {
	return e.ledger.Reserve(context.Background(), &ReserveRequest{
		RequestID: nextRequestID(),
		UserID:    userID,
		Kind:      kind,
		Category:  category,
		Amount:    amount,
	})
}

func (e *testEnv) balance(t *testing.T, userID int64, category model.PointCategory) int64 {
	t.Helper()
	b, err := e.ledger.Balance(context.Background(), userID, category)
	require.NoError(t, err)
	return b
}

func (e *testEnv) outboxEvents(t *testing.T, orderNo string) []*model.OutboxMessage {
	t.Helper()
	msgs, err := repository.NewOutboxRepository(e.db).ListByKey(context.Background(), orderNo)
	require.NoError(t, err)
	return msgs
}

type atomicCounter struct {
	n atomic.Int64
}

func (c *atomicCounter) inc()     { c.n.Add(1) }
func (c *atomicCounter) get() int { return int(c.n.Load()) }

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
