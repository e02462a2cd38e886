package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ashare-trader/internal/model"
	"ashare-trader/internal/service"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// positionModel 是 positions 表的行结构，与领域模型分离，
// 表结构变化不影响上层代码。
type positionModel struct {
	Code             string    `gorm:"column:code;primaryKey"`
	Status           string    `gorm:"column:status;not null"`
	HoldVolume       int64     `gorm:"column:hold_volume;default:0"`
	LastBuyPrice     float64   `gorm:"column:last_buy_price"`
	LastSellPrice    float64   `gorm:"column:last_sell_price"`
	PendingSellSince string    `gorm:"column:pending_sell_since"`
	LastSignalTime   string    `gorm:"column:last_signal_time"`
	UpdateTime       time.Time `gorm:"column:update_time;not null"`
}

func (positionModel) TableName() string { return "positions" }

// PositionStore 是持仓状态的唯一权威存储，SQLite 落地。
// 信号阶段写入试探性状态，对账阶段写入确认后的成交量。
// CSV 仅作为导出的衍生产物，不是第二份事实来源。
type PositionStore struct {
	db *gorm.DB
}

// Open 打开（必要时建表）持仓库
func Open(path string) (*PositionStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open position store: %w", err)
	}
	if err := db.AutoMigrate(&positionModel{}); err != nil {
		return nil, fmt.Errorf("migrate position store: %w", err)
	}
	return &PositionStore{db: db}, nil
}

// Get 查询某代码的持仓，不存在时返回 (nil, nil)
func (s *PositionStore) Get(code string) (*model.Position, error) {
	var row positionModel
	err := s.db.First(&row, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pos := toDomain(row)
	return &pos, nil
}

// Upsert 以 code 为键写入持仓（存在则整行更新）
func (s *PositionStore) Upsert(pos *model.Position) error {
	row := fromDomain(pos)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// List 返回全部持仓，按代码排序
func (s *PositionStore) List() ([]model.Position, error) {
	var rows []positionModel
	if err := s.db.Order("code").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, toDomain(r))
	}
	return out, nil
}

// Delete 删除某代码的持仓记录
func (s *PositionStore) Delete(code string) error {
	return s.db.Delete(&positionModel{}, "code = ?", code).Error
}

// ExportCSV 把当前持仓导出为 CSV（衍生产物，供人工复盘）
func (s *PositionStore) ExportCSV(path string) error {
	positions, err := s.List()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"code", "status", "hold_volume", "last_buy_price",
		"last_sell_price", "pending_sell_since", "last_signal_time", "update_time"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, p := range positions {
		rec := []string{
			p.Code,
			string(p.Status),
			strconv.FormatInt(p.HoldVolume, 10),
			strconv.FormatFloat(p.LastBuyPrice, 'f', -1, 64),
			strconv.FormatFloat(p.LastSellPrice, 'f', -1, 64),
			p.PendingSellSince,
			p.LastSignalTime,
			p.UpdateTime.UTC().Format(time.RFC3339),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return service.WriteFileAtomic(path, buf.Bytes())
}

// Close 关闭底层数据库连接
func (s *PositionStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toDomain(row positionModel) model.Position {
	return model.Position{
		Code:             row.Code,
		Status:           model.PositionStatus(row.Status),
		HoldVolume:       row.HoldVolume,
		LastBuyPrice:     row.LastBuyPrice,
		LastSellPrice:    row.LastSellPrice,
		PendingSellSince: row.PendingSellSince,
		LastSignalTime:   row.LastSignalTime,
		UpdateTime:       row.UpdateTime,
	}
}

func fromDomain(pos *model.Position) positionModel {
	return positionModel{
		Code:             pos.Code,
		Status:           string(pos.Status),
		HoldVolume:       pos.HoldVolume,
		LastBuyPrice:     pos.LastBuyPrice,
		LastSellPrice:    pos.LastSellPrice,
		PendingSellSince: pos.PendingSellSince,
		LastSignalTime:   pos.LastSignalTime,
		UpdateTime:       pos.UpdateTime,
	}
}
