package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Account is the spendable side of a user profile.
type Account struct {
	ID               string          `json:"id" db:"id"`
	Balance          decimal.Decimal `json:"balance" db:"balance"`
	LastWithdrawalAt *time.Time      `json:"last_withdrawal_at" db:"last_withdrawal_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Details type for JSONB fields
type Details map[string]any

// Value implements driver.Valuer for Details
func (d Details) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner for Details
func (d *Details) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, d)
}

func init() {
	// Amounts leave the API as JSON numbers, like the web client sends them.
	decimal.MarshalJSONWithoutQuotes = true
}
