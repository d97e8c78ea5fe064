// Package models defines the data models persisted by the cabinet service.
package models

import (
	"fmt"
	"time"
)

// CabinetStatus is the lifecycle state of a cabinet row. A cabinet is either
// absent from storage or in one of these two states; the numeric codes are
// what the database stores.
type CabinetStatus int32

const (
	StatusHold     CabinetStatus = 2
	StatusOccupied CabinetStatus = 3
)

func (s CabinetStatus) String() string {
	switch s {
	case StatusHold:
		return "hold"
	case StatusOccupied:
		return "occupied"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// CabinetStatusFromCode maps a stored status code back to a CabinetStatus.
func CabinetStatusFromCode(code int32) (CabinetStatus, error) {
	switch CabinetStatus(code) {
	case StatusHold, StatusOccupied:
		return CabinetStatus(code), nil
	default:
		return 0, fmt.Errorf("unsupported cabinet status code %d", code)
	}
}

// Cabinet is a numbered, password-protected storage slot with a bounded
// lifetime. While held, HoldToken is set and Password is empty; once
// occupied, Password is set and HoldToken is cleared. ExpireAt is mandatory
// in both states: a cabinet whose deadline has passed is eligible for
// deletion regardless of state.
type Cabinet struct {
	Code        int64
	Name        string
	Description string
	Password    string
	Status      CabinetStatus
	HoldToken   string
	ExpireAt    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int32
}

// CabinetUsage reports pool occupancy. Only occupied cabinets count as used;
// held cabinets are invisible here.
type CabinetUsage struct {
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
	Free  int64 `json:"free"`
}

// NewCabinetUsage derives Free from Total and Used.
func NewCabinetUsage(total, used int64) CabinetUsage {
	return CabinetUsage{Total: total, Used: used, Free: total - used}
}
