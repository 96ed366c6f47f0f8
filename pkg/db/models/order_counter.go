package models

// OrderCounter backs the atomic per-scope sequences used for order and
// invoice numbers.
type OrderCounter struct {
	Scope     string `gorm:"column:scope;primaryKey"`
	LastValue int64  `gorm:"column:last_value;not null"`
}
