package model

// PointCategory 点数类别，固定三种
type PointCategory string

const (
	CategoryEditing   PointCategory = "editing"
	CategoryRecording PointCategory = "recording"
	CategoryDesign    PointCategory = "design"
)

var AllCategories = []PointCategory{CategoryEditing, CategoryRecording, CategoryDesign}

func (c PointCategory) Valid() bool {
	switch c {
	case CategoryEditing, CategoryRecording, CategoryDesign:
		return true
	}
	return false
}

// OrderKind 服务订单类型
type OrderKind string

const (
	KindRecording OrderKind = "recording"
	KindThumbnail OrderKind = "thumbnail"
	KindTikTok    OrderKind = "tiktok"
	KindVlog      OrderKind = "vlog"
)

// kindDefaultCategory 未指定类别时各类订单默认扣的点数类别
var kindDefaultCategory = map[OrderKind]PointCategory{
	KindRecording: CategoryRecording,
	KindThumbnail: CategoryDesign,
	KindTikTok:    CategoryEditing,
	KindVlog:      CategoryEditing,
}

func (k OrderKind) Valid() bool {
	_, ok := kindDefaultCategory[k]
	return ok
}

func (k OrderKind) DefaultCategory() PointCategory {
	return kindDefaultCategory[k]
}
