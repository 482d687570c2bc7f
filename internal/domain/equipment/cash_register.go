package equipment

import (
	"database/sql"
	"time"
)

// ComplianceField names a tracked compliance-date column of a cash register.
type ComplianceField string

const (
	FieldFNReplacement ComplianceField = "fn_replacement_date" // fiscal drive replacement
	FieldOFDRenewal    ComplianceField = "ofd_renewal_date"    // data operator contract renewal
)

// TrackedFields lists the compliance fields that drive automatic deadlines, in processing order.
var TrackedFields = []ComplianceField{FieldFNReplacement, FieldOFDRenewal}

// ComplianceDates holds the tracked date fields of a register. Invalid means "not set".
type ComplianceDates struct {
	FNReplacementDate sql.NullTime
	OFDRenewalDate    sql.NullTime
}

// Get returns the value of a tracked field.
func (c ComplianceDates) Get(field ComplianceField) sql.NullTime {
	switch field {
	case FieldFNReplacement:
		return c.FNReplacementDate
	case FieldOFDRenewal:
		return c.OFDRenewalDate
	}
	return sql.NullTime{}
}

// CashRegister is a piece of fiscal equipment owned by a client.
// Corresponds to the 'cash_registers' table.
type CashRegister struct {
	ID           int64
	ClientID     int64
	SerialNumber string // unique among active registers
	FNNumber     sql.NullString
	Model        sql.NullString
	Dates        ComplianceDates
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
