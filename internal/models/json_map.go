package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONMap 是一个自定义类型，用于处理 JSONB 数据
type JSONMap map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan 实现 sql.Scanner 接口
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("类型断言失败：无法将数据转换为字节切片")
	}

	return json.Unmarshal(raw, j)
}
