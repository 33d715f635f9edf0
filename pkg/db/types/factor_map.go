package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// FactorMap stores named numeric impacts as a JSON object.
type FactorMap map[string]float64

func (m *FactorMap) Scan(src any) error {
	if src == nil {
		*m = FactorMap{}
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("FactorMap: unsupported Scan type %T", src)
	}
	if len(raw) == 0 {
		*m = FactorMap{}
		return nil
	}

	out := FactorMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("FactorMap: %w", err)
	}
	*m = out
	return nil
}

func (m FactorMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]float64(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Names returns the factor names in lexical order.
func (m FactorMap) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Rounded returns a copy with every value rounded to the given decimal places.
func (m FactorMap) Rounded(places int) FactorMap {
	scale := math.Pow(10, float64(places))
	out := make(FactorMap, len(m))
	for k, v := range m {
		out[k] = math.Round(v*scale) / scale
	}
	return out
}
