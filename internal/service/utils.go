package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TradeDateLayout 全局统一的交易日格式
const TradeDateLayout = "2006-01-02"

// Today 返回今天的交易日字符串
func Today() string {
	return time.Now().Format(TradeDateLayout)
}

// ParseTradeDate 校验并解析交易日字符串
func ParseTradeDate(s string) (time.Time, error) {
	t, err := time.Parse(TradeDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid trade date %q: %w", s, err)
	}
	return t, nil
}

// PrevBusinessDay 返回 date 的前一个工作日（仅按周末回退，
// 节假日停牌的日期不会有订单批次文件，按文件存在与否兜底）
func PrevBusinessDay(date string) (string, error) {
	t, err := ParseTradeDate(date)
	if err != nil {
		return "", err
	}
	for {
		t = t.AddDate(0, 0, -1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			return t.Format(TradeDateLayout), nil
		}
	}
}

// WriteFileAtomic 先写临时文件再 rename，保证崩溃时不会留下半截文件
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
