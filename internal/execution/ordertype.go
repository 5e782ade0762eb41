package execution

import (
	"time"

	"binary-trader/internal/broker"
)

// SelectOrderType 根据偏好、收益率与当前秒数选择订单类型。
// 数字期权只在每分钟开头的快速窗口内可用，窗口外优先二元期权。
func SelectOrderType(pref Preference, payout broker.Payout, secondOfMinute, fastWindow time.Duration) broker.OrderType {
	switch pref {
	case PreferDigital:
		return broker.OrderTypeDigital
	case PreferAuto:
	default:
		return broker.OrderTypeBinary
	}

	switch {
	case payout.Binary == payout.Digital:
		return broker.OrderTypeDigital
	case secondOfMinute > fastWindow && payout.Binary > 0:
		return broker.OrderTypeBinary
	case payout.Digital > payout.Binary:
		return broker.OrderTypeDigital
	default:
		return broker.OrderTypeBinary
	}
}
