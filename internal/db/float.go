package db

import (
	"database/sql"
	"math"

	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
)

// nullable maps a non-finite value to SQL NULL and records it. SQLite has no
// NaN, so NULL is the stored form of every non-finite column.
func nullable(where string, v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		monitoring.NonFinite(where, v)
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// orNaN is the read side of nullable.
func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
