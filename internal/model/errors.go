package model

import "errors"

// 错误分级（见对应处理策略）：
//   - ErrLoginFailed / 连接类错误：重试耗尽后终止整个运行
//   - ErrInsufficientHistory：跳过该标的，运行继续
//   - 报单被拒：记录到失败报告，不重试，运行继续
var (
	ErrInsufficientHistory = errors.New("insufficient market history")
	ErrInvalidCategory     = errors.New("unknown price limit category")
	ErrLoginFailed         = errors.New("broker login failed")
)
