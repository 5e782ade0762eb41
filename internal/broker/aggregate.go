package broker

import (
	"math"
	"time"
)

// Aggregate 将 source 秒周期的K线合并为 target 秒周期，只保留完整的时间桶。
func Aggregate(candles []Candle, source, target int) []Candle {
	if len(candles) == 0 || source <= 0 || target <= source || target%source != 0 {
		return nil
	}

	bucketSize := time.Duration(target) * time.Second
	perBucket := target / source

	out := make([]Candle, 0, len(candles)/perBucket+1)
	var (
		current Candle
		start   time.Time
		members int
	)

	flush := func() {
		if members == perBucket {
			out = append(out, current)
		}
	}

	for _, c := range candles {
		bucket := c.Timestamp.Truncate(bucketSize)
		if members == 0 || !bucket.Equal(start) {
			if members > 0 {
				flush()
			}
			start = bucket
			members = 0
			current = Candle{
				Timestamp: bucket,
				Open:      c.Open,
				High:      c.High,
				Low:       c.Low,
			}
		}
		current.High = math.Max(current.High, c.High)
		current.Low = math.Min(current.Low, c.Low)
		current.Close = c.Close
		current.Volume += c.Volume
		members++
	}
	if members > 0 {
		flush()
	}

	return out
}
