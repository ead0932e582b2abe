package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Mupaky/topreach-sub001/internal/model"
	"github.com/Mupaky/topreach-sub001/internal/testutil"
	"github.com/Mupaky/topreach-sub001/pkg/idgen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalance_DerivedFromOrders(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)

	env.grantPoints(t, user.ID, model.CategoryEditing, 100)
	env.grantPoints(t, user.ID, model.CategoryDesign, 30)

	// pending 的充值订单不计入
	require.NoError(t, env.db.Create(&model.PurchaseOrder{
		OrderNo: idgen.GeneratePurchaseOrderNo(), RequestID: nextRequestID(),
		UserID: user.ID, EditingPoints: 500, Status: model.OrderStatusPending,
	}).Error)

	// rejected 的服务订单不计入
	require.NoError(t, env.db.Create(&model.ServiceOrder{
		OrderNo: idgen.GenerateServiceOrderNo(), RequestID: nextRequestID(),
		UserID: user.ID, Kind: model.KindVlog, Category: model.CategoryEditing,
		PointsCost: 70, Status: model.OrderStatusRejected,
	}).Error)

	_, err := env.reserve(user.ID, model.KindTikTok, model.CategoryEditing, 25)
	require.NoError(t, err)

	assert.Equal(t, int64(75), env.balance(t, user.ID, model.CategoryEditing))
	assert.Equal(t, int64(30), env.balance(t, user.ID, model.CategoryDesign))
	assert.Equal(t, int64(0), env.balance(t, user.ID, model.CategoryRecording))
}

func TestBalance_InvalidInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.ledger.Balance(context.Background(), 0, model.CategoryEditing)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.ledger.Balance(context.Background(), 1, model.PointCategory("music"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBalance_NegativeIsConsistencyViolation(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)
	env.grantPoints(t, user.ID, model.CategoryEditing, 10)

	// 绕过账本直接写入，模拟数据被破坏
	require.NoError(t, env.db.Create(&model.ServiceOrder{
		OrderNo: idgen.GenerateServiceOrderNo(), RequestID: nextRequestID(),
		UserID: user.ID, Kind: model.KindVlog, Category: model.CategoryEditing,
		PointsCost: 25, Status: model.OrderStatusPending,
	}).Error)

	_, err := env.ledger.Balance(context.Background(), user.ID, model.CategoryEditing)
	assert.ErrorIs(t, err, ErrConsistencyViolation)

	// 余额为负时预占也不能继续
	_, err = env.reserve(user.ID, model.KindVlog, model.CategoryEditing, 1)
	assert.ErrorIs(t, err, ErrConsistencyViolation)
}

func TestReserve_Insufficient(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)
	env.grantPoints(t, user.ID, model.CategoryRecording, 40)

	_, err := env.reserve(user.ID, model.KindRecording, model.CategoryRecording, 41)

	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(40), insufficient.Balance)
	assert.Equal(t, int64(41), insufficient.Requested)
	assert.Equal(t, int64(40), env.balance(t, user.ID, model.CategoryRecording))
}

func TestReserve_Validation(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)

	tests := []struct {
		name string
		req  ReserveRequest
	}{
		{"缺少 request_id", ReserveRequest{UserID: user.ID, Kind: model.KindVlog, Amount: 1}},
		{"未知类型", ReserveRequest{RequestID: "r", UserID: user.ID, Kind: "podcast", Amount: 1}},
		{"未知类别", ReserveRequest{RequestID: "r", UserID: user.ID, Kind: model.KindVlog, Category: "music", Amount: 1}},
		{"数量为 0", ReserveRequest{RequestID: "r", UserID: user.ID, Kind: model.KindVlog, Amount: 0}},
		{"payload 非 JSON", ReserveRequest{RequestID: "r", UserID: user.ID, Kind: model.KindVlog, Amount: 1, Payload: json.RawMessage("{")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := env.ledger.Reserve(context.Background(), &req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestReserve_DefaultCategoryFromKind(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)
	env.grantPoints(t, user.ID, model.CategoryDesign, 10)

	res, err := env.ledger.Reserve(context.Background(), &ReserveRequest{
		RequestID: nextRequestID(),
		UserID:    user.ID,
		Kind:      model.KindThumbnail,
		Amount:    4,
		Payload:   json.RawMessage(`{"title":"intro"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, model.CategoryDesign, res.Order.Category)
	assert.Equal(t, model.OrderStatusPending, res.Order.Status)
	assert.Equal(t, int64(6), res.Balance)
	assert.JSONEq(t, `{"title":"intro"}`, string(res.Order.Payload))
}

func TestReserve_IdempotentByRequestID(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)
	other, _ := env.createUser(t, model.RoleUser)
	env.grantPoints(t, user.ID, model.CategoryEditing, 100)

	req := func() *ReserveRequest {
		return &ReserveRequest{RequestID: "client-req-1", UserID: user.ID, Kind: model.KindVlog, Amount: 30}
	}

	first, err := env.ledger.Reserve(context.Background(), req())
	require.NoError(t, err)
	assert.False(t, first.Existing)

	second, err := env.ledger.Reserve(context.Background(), req())
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Order.OrderNo, second.Order.OrderNo)

	assert.Equal(t, int64(70), env.balance(t, user.ID, model.CategoryEditing))

	// 其他用户不能复用同一个 request_id
	_, err = env.ledger.Reserve(context.Background(), &ReserveRequest{
		RequestID: "client-req-1", UserID: other.ID, Kind: model.KindVlog, Amount: 1,
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReserve_WritesOutboxEvent(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)
	env.grantPoints(t, user.ID, model.CategoryEditing, 10)

	res, err := env.reserve(user.ID, model.KindTikTok, "", 10)
	require.NoError(t, err)

	msgs := env.outboxEvents(t, res.Order.OrderNo)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.EventOrderReserved, msgs[0].EventType)
	assert.Equal(t, "order_events", msgs[0].Topic)
	assert.Equal(t, model.OutboxStatusPending, msgs[0].Status)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Payload), &payload))
	assert.Equal(t, "editing", payload["category"])
	assert.EqualValues(t, 10, payload["points_cost"])
}

func TestReserve_ConcurrentOverReservation(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)
	env.grantPoints(t, user.ID, model.CategoryEditing, 100)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		reserved     int
		insufficient int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.reserve(user.ID, model.KindVlog, model.CategoryEditing, 60)

			mu.Lock()
			defer mu.Unlock()
			var ie *InsufficientBalanceError
			switch {
			case err == nil:
				reserved++
			case errors.As(err, &ie):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, reserved)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(40), env.balance(t, user.ID, model.CategoryEditing))
}

func TestReserve_ManyConcurrentNeverOverdraw(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)
	env.grantPoints(t, user.ID, model.CategoryDesign, 100)

	var (
		wg       sync.WaitGroup
		reserved atomicCounter
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.reserve(user.ID, model.KindThumbnail, model.CategoryDesign, 30); err == nil {
				reserved.inc()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, reserved.get())
	assert.Equal(t, int64(10), env.balance(t, user.ID, model.CategoryDesign))
}

// 100 点：预占 60 成功，再预占 50 不足（余额 40）；拒绝第一单后余额回到 100，再预占 50 成功
func TestScenario_ReserveRejectReserve(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)
	_, admin := env.createUser(t, model.RoleAdmin)
	env.grantPoints(t, user.ID, model.CategoryEditing, 100)

	first, err := env.reserve(user.ID, model.KindVlog, model.CategoryEditing, 60)
	require.NoError(t, err)

	_, err = env.reserve(user.ID, model.KindVlog, model.CategoryEditing, 50)
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(40), insufficient.Balance)

	_, err = env.orders.Advance(context.Background(), admin, first.Order.OrderNo, model.OrderStatusRejected)
	require.NoError(t, err)
	assert.Equal(t, int64(100), env.balance(t, user.ID, model.CategoryEditing))

	_, err = env.reserve(user.ID, model.KindVlog, model.CategoryEditing, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), env.balance(t, user.ID, model.CategoryEditing))
}

func TestRefund_RestoresBalanceExactly(t *testing.T) {
	for _, from := range []string{model.OrderStatusPending, model.OrderStatusInProgress} {
		t.Run(from, func(t *testing.T) {
			env := newTestEnv(t)
			user, _ := env.createUser(t, model.RoleUser)
			_, admin := env.createUser(t, model.RoleAdmin)
			env.grantPoints(t, user.ID, model.CategoryRecording, 75)

			before := env.balance(t, user.ID, model.CategoryRecording)

			res, err := env.reserve(user.ID, model.KindRecording, "", 50)
			require.NoError(t, err)
			assert.Equal(t, before-50, env.balance(t, user.ID, model.CategoryRecording))

			if from == model.OrderStatusInProgress {
				_, err = env.orders.Advance(context.Background(), admin, res.Order.OrderNo, model.OrderStatusInProgress)
				require.NoError(t, err)
				assert.Equal(t, before-50, env.balance(t, user.ID, model.CategoryRecording))
			}

			_, err = env.orders.Advance(context.Background(), admin, res.Order.OrderNo, model.OrderStatusRejected)
			require.NoError(t, err)
			assert.Equal(t, before, env.balance(t, user.ID, model.CategoryRecording))
		})
	}
}

func TestSettle_KeepsPointsSpent(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)
	_, admin := env.createUser(t, model.RoleAdmin)
	env.grantPoints(t, user.ID, model.CategoryEditing, 50)

	res, err := env.reserve(user.ID, model.KindTikTok, "", 20)
	require.NoError(t, err)

	for _, status := range []string{model.OrderStatusInProgress, model.OrderStatusCompleted} {
		_, err = env.orders.Advance(context.Background(), admin, res.Order.OrderNo, status)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(30), env.balance(t, user.ID, model.CategoryEditing))
}

func TestCachedBalance_InvalidatedByWrites(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	env := newTestEnvWithRedis(t, rdb)
	user, _ := env.createUser(t, model.RoleUser)
	env.grantPoints(t, user.ID, model.CategoryEditing, 100)

	ctx := context.Background()
	cached, err := env.ledger.CachedBalance(ctx, user.ID, model.CategoryEditing)
	require.NoError(t, err)
	assert.Equal(t, int64(100), cached)

	key := "points:balance:" + itoa(user.ID) + ":editing"
	assert.True(t, mr.Exists(key))

	// 预占不读缓存，提交后删除缓存
	_, err = env.reserve(user.ID, model.KindVlog, model.CategoryEditing, 30)
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))

	cached, err = env.ledger.CachedBalance(ctx, user.ID, model.CategoryEditing)
	require.NoError(t, err)
	assert.Equal(t, int64(70), cached)

	// 咨询锁在预占结束后已释放
	assert.False(t, mr.Exists("points:reserve:lock:"+itoa(user.ID)+":editing"))
}

func TestCachedBalance_LateFillFromOlderReadIsIgnored(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	env := newTestEnvWithRedis(t, rdb)
	user, _ := env.createUser(t, model.RoleUser)
	env.grantPoints(t, user.ID, model.CategoryEditing, 100)
	ctx := context.Background()

	// 读取方先拿到版本号并聚合出 100
	version, err := env.ledger.guardRepo.Version(ctx, user.ID, model.CategoryEditing)
	require.NoError(t, err)
	stale, err := env.ledger.Balance(ctx, user.ID, model.CategoryEditing)
	require.NoError(t, err)
	require.Equal(t, int64(100), stale)

	// 预占在读取方回填之前提交并删除缓存
	_, err = env.reserve(user.ID, model.KindVlog, model.CategoryEditing, 60)
	require.NoError(t, err)

	// 读取方晚到的回填
	env.ledger.balanceCache.Set(ctx, user.ID, model.CategoryEditing, stale, version)

	cached, err := env.ledger.CachedBalance(ctx, user.ID, model.CategoryEditing)
	require.NoError(t, err)
	assert.Equal(t, int64(40), cached)

	entry, ok := env.ledger.balanceCache.Get(ctx, user.ID, model.CategoryEditing)
	require.True(t, ok)
	assert.Equal(t, int64(40), entry.Balance)
}

func TestCachedBalance_RefundAndGrantAdvanceVersion(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	env := newTestEnvWithRedis(t, rdb)
	user, _ := env.createUser(t, model.RoleUser)
	_, admin := env.createUser(t, model.RoleAdmin)
	env.grantPoints(t, user.ID, model.CategoryEditing, 100)
	ctx := context.Background()

	res, err := env.reserve(user.ID, model.KindVlog, model.CategoryEditing, 30)
	require.NoError(t, err)

	cached, err := env.ledger.CachedBalance(ctx, user.ID, model.CategoryEditing)
	require.NoError(t, err)
	require.Equal(t, int64(70), cached)
	before, ok := env.ledger.balanceCache.Get(ctx, user.ID, model.CategoryEditing)
	require.True(t, ok)

	_, err = env.orders.Advance(ctx, admin, res.Order.OrderNo, model.OrderStatusRejected)
	require.NoError(t, err)

	// 退回之前聚合的结果在退回之后才写回缓存
	env.ledger.balanceCache.Set(ctx, user.ID, model.CategoryEditing, before.Balance, before.Version)
	cached, err = env.ledger.CachedBalance(ctx, user.ID, model.CategoryEditing)
	require.NoError(t, err)
	assert.Equal(t, int64(100), cached)

	pkg := env.createPackage(t, 0, 15, 0)
	purchase, err := env.purchases.Create(ctx, &CreatePurchaseRequest{
		RequestID: nextRequestID(), UserID: user.ID, PackageID: pkg.ID,
	})
	require.NoError(t, err)

	cached, err = env.ledger.CachedBalance(ctx, user.ID, model.CategoryDesign)
	require.NoError(t, err)
	require.Equal(t, int64(0), cached)
	before, ok = env.ledger.balanceCache.Get(ctx, user.ID, model.CategoryDesign)
	require.True(t, ok)

	_, err = env.orders.GrantPurchase(ctx, admin, purchase.OrderNo)
	require.NoError(t, err)

	env.ledger.balanceCache.Set(ctx, user.ID, model.CategoryDesign, before.Balance, before.Version)
	cached, err = env.ledger.CachedBalance(ctx, user.ID, model.CategoryDesign)
	require.NoError(t, err)
	assert.Equal(t, int64(15), cached)
}

func TestReserve_RegeneratesCollidingOrderNo(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)
	env.grantPoints(t, user.ID, model.CategoryEditing, 100)

	first, err := env.reserve(user.ID, model.KindVlog, model.CategoryEditing, 10)
	require.NoError(t, err)

	// 另一个实例用相同节点号生成了同一个订单号
	taken := first.Order.OrderNo
	calls := 0
	env.ledger.newOrderNo = func() string {
		calls++
		if calls == 1 {
			return taken
		}
		return idgen.GenerateServiceOrderNo()
	}

	second, err := env.reserve(user.ID, model.KindVlog, model.CategoryEditing, 10)
	require.NoError(t, err)
	assert.False(t, second.Existing)
	assert.NotEqual(t, taken, second.Order.OrderNo)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(80), env.balance(t, user.ID, model.CategoryEditing))
}

func TestSnapshot_AllCategories(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser(t, model.RoleUser)
	env.grantPoints(t, user.ID, model.CategoryDesign, 12)

	snapshot, err := env.ledger.Snapshot(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, map[model.PointCategory]int64{
		model.CategoryEditing:   0,
		model.CategoryRecording: 0,
		model.CategoryDesign:    12,
	}, snapshot)
}
