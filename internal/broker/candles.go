package broker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Candles 获取 asset 最近 count 根已收盘K线。响应异常时按配置次数重试，
// 五分钟周期在失败后改为拉取一分钟K线再聚合。重试耗尽返回 GatewayError，
// 调用方应将其视为"本轮跳过"。
func (c *Client) Candles(ctx context.Context, asset string, timeframe, count int) ([]Candle, error) {
	return c.CandlesUntil(ctx, asset, timeframe, count, time.Time{})
}

// CandlesUntil 与 Candles 相同，但K线截止于 until；until 为零值时使用服务器时间。
// 预计算时传入下一个入场窗口的起点，最后一根为即将收盘的K线。
func (c *Client) CandlesUntil(ctx context.Context, asset string, timeframe, count int, until time.Time) ([]Candle, error) {
	if count <= 0 {
		count = 1
	}
	if timeframe <= 0 {
		timeframe = TimeframeM1
	}

	source, fetch := timeframe, count
	var lastErr error

	for attempt := 1; attempt <= c.cfg.CandleAttempts; attempt++ {
		end := until
		if end.IsZero() {
			end = c.ServerTime(ctx)
		}
		end = alignDown(end, timeframe)

		var raw []Candle
		err := c.once(ctx, "candles", func(ctx context.Context, conn Conn) error {
			var e error
			raw, e = conn.Candles(ctx, asset, source, fetch, end)
			return e
		})
		if err == nil {
			candles := raw
			if source != timeframe {
				candles = Aggregate(raw, source, timeframe)
			}
			if usable, ok := closedTail(candles, count); ok {
				if attempt > 1 {
					c.logger.Info("K线获取重试后成功",
						zap.String("asset", asset),
						zap.Int("timeframe", timeframe),
						zap.Int("attempts", attempt),
						zap.Bool("aggregated", source != timeframe),
					)
				}
				return usable, nil
			}
			err = wrap(KindDataInsufficient, "candles",
				fmt.Errorf("%w: got %d want %d", ErrBadCandles, len(candles), count))
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err

		if timeframe == TimeframeM5 && source == TimeframeM5 {
			source, fetch = TimeframeM1, count*(TimeframeM5/TimeframeM1)
			c.logger.Warn("M5 K线异常，降级为 M1 聚合", zap.String("asset", asset), zap.Error(err))
		} else {
			c.logger.Warn("K线获取失败",
				zap.String("asset", asset),
				zap.Int("timeframe", timeframe),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}

		if attempt < c.cfg.CandleAttempts {
			if err := sleepCtx(ctx, c.cfg.CandleRetryDelay); err != nil {
				return nil, err
			}
		}
	}

	if IsTransient(lastErr) || IsFatal(lastErr) {
		return nil, lastErr
	}
	return nil, wrap(KindDataInsufficient, "candles", lastErr)
}

// closedTail 校验K线并返回最后 count 根；存在畸形数据或数量不足时返回 false。
func closedTail(candles []Candle, count int) ([]Candle, bool) {
	if len(candles) < count {
		return nil, false
	}
	for _, c := range candles {
		if !c.Valid() {
			return nil, false
		}
	}
	out := make([]Candle, count)
	copy(out, candles[len(candles)-count:])
	return out, true
}

func alignDown(ts time.Time, timeframe int) time.Time {
	return ts.Truncate(time.Duration(timeframe) * time.Second)
}
