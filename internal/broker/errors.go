package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrConnectionLost 表示底层连接中断，需要重连。
	ErrConnectionLost = errors.New("broker: connection lost")
	// ErrNotConnected 表示尚未建立连接。
	ErrNotConnected = errors.New("broker: not connected")
	// ErrAuthFailed 表示凭证无效，重试无意义。
	ErrAuthFailed = errors.New("broker: authentication failed")
	// ErrBuyTimeout 表示下单在时限内未得到确认。
	ErrBuyTimeout = errors.New("broker: buy timed out")
	// ErrOrderRejected 表示经纪商拒绝订单。
	ErrOrderRejected = errors.New("broker: order rejected")
	// ErrAssetClosed 表示资产当前不可交易。
	ErrAssetClosed = errors.New("broker: asset closed")
	// ErrBadCandles 表示K线响应缺失或格式错误。
	ErrBadCandles = errors.New("broker: malformed candle response")
)

// ErrorKind 为网关错误分类。
type ErrorKind int

const (
	KindTransient ErrorKind = iota + 1
	KindDataInsufficient
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindDataInsufficient:
		return "data_insufficient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// GatewayError 将底层错误转换为引擎可决策的分类。
type GatewayError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("broker %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return err
	}
	return &GatewayError{Kind: kind, Op: op, Err: err}
}

func kindOf(err error) ErrorKind {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return 0
}

// IsTransient 判断错误是否为可恢复的连接类错误。
func IsTransient(err error) bool { return kindOf(err) == KindTransient }

// IsDataInsufficient 判断错误是否为数据不足。
func IsDataInsufficient(err error) bool { return kindOf(err) == KindDataInsufficient }

// IsFatal 判断错误是否不可恢复。
func IsFatal(err error) bool { return kindOf(err) == KindFatal }

// classifyError 返回归类后的错误以及是否需要重连。
func classifyError(op string, err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	switch {
	case errors.Is(err, ErrAuthFailed), errors.Is(err, ErrOrderRejected), errors.Is(err, ErrAssetClosed):
		return wrap(KindFatal, op, err), false
	case errors.Is(err, ErrConnectionLost), errors.Is(err, ErrNotConnected):
		return wrap(KindTransient, op, err), true
	case errors.Is(err, ErrBadCandles):
		return wrap(KindDataInsufficient, op, err), false
	case errors.Is(err, ErrBuyTimeout):
		return wrap(KindTransient, op, err), false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return wrap(KindTransient, op, err), true
	}

	return wrap(KindTransient, op, err), false
}
