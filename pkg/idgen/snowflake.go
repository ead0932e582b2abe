package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// 订单号前缀
const (
	PrefixService  = "SVC"
	PrefixPurchase = "PUR"
)

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	initErr  error
)

// Init 初始化默认节点，多实例部署时每个实例的 nodeID 必须不同（0-1023）
func Init(nodeID int64) error {
	nodeOnce.Do(func() {
		node, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

func defaultNode() *snowflake.Node {
	// 已初始化时 Init 不会覆盖原节点
	if err := Init(1); err != nil {
		panic(fmt.Sprintf("snowflake 初始化失败: %v", err))
	}
	return node
}

// NextID 生成下一个ID
func NextID() int64 {
	return defaultNode().Generate().Int64()
}

// generate 格式：前缀 + 年月日 + 雪花ID，例如 SVC202401151746383727163871232
func generate(prefix string) string {
	return fmt.Sprintf("%s%s%d", prefix, time.Now().Format("20060102"), NextID())
}

func GenerateServiceOrderNo() string {
	return generate(PrefixService)
}

func GeneratePurchaseOrderNo() string {
	return generate(PrefixPurchase)
}
