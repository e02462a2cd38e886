package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"ashare-trader/internal/model"
	"ashare-trader/internal/service"

	"go.uber.org/zap"
)

// codePattern 合法代码形如 600519.SH / 000001.SZ / 832000.BJ
var codePattern = regexp.MustCompile(`^\d{6}\.(SH|SZ|BJ)$`)

// Catalog 是股票池解析后的标的清单，加载完成后只读。
// 迭代顺序与池文件行序一致，保证下游处理顺序确定。
type Catalog struct {
	byCode map[string]model.Instrument
	order  []string
}

// LoadCatalog 从 CSV 股票池文件加载标的清单。
// 列：code[,name[,category]]；category 缺省时按代码/名称推断。
// 非法代码写入 invalidLog（追加）并跳过，不中断加载。
func LoadCatalog(path, invalidLog string) (*Catalog, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stock pool: %w", err)
	}
	defer fh.Close()

	reader := csv.NewReader(fh)
	reader.FieldsPerRecord = -1 // 列数不固定

	cat := &Catalog{byCode: make(map[string]model.Instrument)}
	var invalid []string
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read stock pool: %w", err)
		}
		line++
		if len(record) == 0 {
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(record[0]))
		if code == "" || code == "CODE" { // 跳过表头与空行
			continue
		}
		if !codePattern.MatchString(code) {
			invalid = append(invalid, code)
			continue
		}

		name := ""
		if len(record) > 1 {
			name = strings.TrimSpace(record[1])
		}
		category := model.Category("")
		if len(record) > 2 {
			category = model.Category(strings.ToLower(strings.TrimSpace(record[2])))
		}
		if category == "" {
			category = InferCategory(code, name)
		}

		if _, dup := cat.byCode[code]; dup {
			service.Logger.Warn("Duplicate code in stock pool, keeping first",
				zap.String("code", code), zap.Int("line", line))
			continue
		}
		cat.byCode[code] = model.Instrument{
			Code:     code,
			Name:     name,
			Category: category,
			TickSize: InferTickSize(code),
		}
		cat.order = append(cat.order, code)
	}

	if len(invalid) > 0 {
		if err := appendInvalidLog(invalidLog, invalid); err != nil {
			service.Logger.Warn("Failed to record invalid codes", zap.Error(err))
		}
	}
	service.Logger.Info("Stock pool loaded",
		zap.Int("valid", len(cat.order)), zap.Int("invalid", len(invalid)))
	return cat, nil
}

// Codes 按池文件顺序返回全部代码
func (c *Catalog) Codes() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Get 查询某代码的标的信息
func (c *Catalog) Get(code string) (model.Instrument, bool) {
	inst, ok := c.byCode[strings.ToUpper(code)]
	return inst, ok
}

// InferCategory 按代码前缀与证券简称推断板块分类：
// 名称含 ST → 风险警示；300/301 → 创业板；688 → 科创板；.BJ → 北交所。
func InferCategory(code, securityName string) model.Category {
	code = strings.ToUpper(code)
	if strings.Contains(strings.ToUpper(securityName), "ST") {
		return model.CategoryST
	}
	switch {
	case strings.HasPrefix(code, "300"), strings.HasPrefix(code, "301"):
		return model.CategoryGrowth
	case strings.HasPrefix(code, "688"):
		return model.CategoryStar
	case strings.HasSuffix(code, ".BJ"):
		return model.CategoryBJ
	}
	return model.CategoryNormal
}

// InferTickSize 北交所最小报价单位 0.001，其余 0.01
func InferTickSize(code string) float64 {
	if strings.HasSuffix(strings.ToUpper(code), ".BJ") {
		return 0.001
	}
	return 0.01
}

func appendInvalidLog(path string, entries []string) error {
	if path == "" {
		return nil
	}
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer fh.Close()
	for _, e := range entries {
		if _, err := fmt.Fprintln(fh, e); err != nil {
			return err
		}
	}
	return nil
}
