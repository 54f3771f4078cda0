package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// NUMERIC columns travel as text so the decimal package never sees a float.

func parseDecimal(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", column, s, err)
	}
	return d, nil
}

func parseNullDecimal(column string, s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseDecimal(column, *s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullDecimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return map[string]string{}, nil
	}
	m := map[string]string{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

// decimalColumn pairs a scanned NUMERIC text value with its destination.
type decimalColumn struct {
	name string
	raw  string
	dst  *decimal.Decimal
}

func assignDecimals(cols ...decimalColumn) error {
	for _, c := range cols {
		d, err := parseDecimal(c.name, c.raw)
		if err != nil {
			return err
		}
		*c.dst = d
	}
	return nil
}
