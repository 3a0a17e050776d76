// Package registrations holds fuel, maintenance and trip registrations and
// keeps records created while offline until they are synced.
package registrations

import (
	"errors"
	"fmt"
	"time"
)

// Type classifies a registration.
type Type string

const (
	TypeFuel        Type = "fuel"
	TypeMaintenance Type = "maintenance"
	TypeTrip        Type = "trip"
)

// PendingOp is the server operation a pending record still needs.
type PendingOp string

const (
	OpCreate PendingOp = "create"
	OpUpdate PendingOp = "update"
	OpDelete PendingOp = "delete"
)

// DateLayout is the wire format of Registration.Date.
const DateLayout = "2006-01-02"

var (
	ErrInvalidRegistration = errors.New("invalid registration")
	ErrNotFound            = errors.New("registration not found")
)

// Registration is a fuel, maintenance or trip record.
//
// While pending, ID is a negative temporary id that is never sent to the
// server. LocalRef is the logical identity across the temporary to server
// id transition.
type Registration struct {
	ID        int64  `json:"id,omitempty"`
	LocalRef  string `json:"localRef,omitempty"`
	Type      Type   `json:"type"`
	Date      string `json:"date"`
	VehicleID int64  `json:"vehicleId"`
	DriverID  int64  `json:"driverId"`

	// fuel
	Liters       float64 `json:"liters,omitempty"`
	FuelCost     float64 `json:"fuelCost,omitempty"`
	FuelTypeID   int64   `json:"fuelTypeId,omitempty"`
	GasStationID int64   `json:"gasStationId,omitempty"`
	Odometer     int64   `json:"odometer,omitempty"`

	// maintenance
	MaintenanceTypeID int64   `json:"maintenanceTypeId,omitempty"`
	Cost              float64 `json:"cost,omitempty"`
	Description       string  `json:"description,omitempty"`

	// trip
	Origin        string `json:"origin,omitempty"`
	Destination   string `json:"destination,omitempty"`
	StartOdometer int64  `json:"startOdometer,omitempty"`
	EndOdometer   int64  `json:"endOdometer,omitempty"`

	OfflinePending   bool      `json:"offlinePending,omitempty"`
	OfflineCreated   bool      `json:"offlineCreated,omitempty"`
	OfflineTimestamp int64     `json:"offlineTimestamp,omitempty"`
	PendingOp        PendingOp `json:"pendingOp,omitempty"`
	// PendingSeq orders pending records by when they were queued.
	PendingSeq int64 `json:"pendingSeq,omitempty"`
}

// IsTemp reports whether the record carries a locally generated id.
func (r Registration) IsTemp() bool { return r.ID < 0 }

// Deleted reports whether the record is a pending delete.
func (r Registration) Deleted() bool { return r.OfflinePending && r.PendingOp == OpDelete }

// Payload is the body sent to the server: no id and no local provenance.
func (r Registration) Payload() Registration {
	r.ID = 0
	r.OfflinePending = false
	r.OfflineCreated = false
	r.OfflineTimestamp = 0
	r.PendingOp = ""
	r.PendingSeq = 0
	return r
}

// Validate checks required and type-specific fields.
func (r Registration) Validate() error {
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidRegistration, r.Date)
	}
	if r.VehicleID <= 0 {
		return fmt.Errorf("%w: vehicleId is required", ErrInvalidRegistration)
	}
	if r.DriverID <= 0 {
		return fmt.Errorf("%w: driverId is required", ErrInvalidRegistration)
	}

	switch r.Type {
	case TypeFuel:
		if r.Liters <= 0 {
			return fmt.Errorf("%w: liters must be positive", ErrInvalidRegistration)
		}
		if r.FuelCost < 0 {
			return fmt.Errorf("%w: fuelCost must not be negative", ErrInvalidRegistration)
		}
		if r.MaintenanceTypeID != 0 || r.Cost != 0 || r.Description != "" || r.hasTripFields() {
			return fmt.Errorf("%w: fuel registration carries fields of another type", ErrInvalidRegistration)
		}
	case TypeMaintenance:
		if r.MaintenanceTypeID <= 0 {
			return fmt.Errorf("%w: maintenanceTypeId is required", ErrInvalidRegistration)
		}
		if r.Cost < 0 {
			return fmt.Errorf("%w: cost must not be negative", ErrInvalidRegistration)
		}
		if r.hasFuelFields() || r.hasTripFields() {
			return fmt.Errorf("%w: maintenance registration carries fields of another type", ErrInvalidRegistration)
		}
	case TypeTrip:
		if r.Origin == "" || r.Destination == "" {
			return fmt.Errorf("%w: origin and destination are required", ErrInvalidRegistration)
		}
		if r.EndOdometer != 0 && r.EndOdometer < r.StartOdometer {
			return fmt.Errorf("%w: endOdometer is below startOdometer", ErrInvalidRegistration)
		}
		if r.hasFuelFields() || r.MaintenanceTypeID != 0 || r.Cost != 0 || r.Description != "" {
			return fmt.Errorf("%w: trip registration carries fields of another type", ErrInvalidRegistration)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRegistration, r.Type)
	}
	return nil
}

func (r Registration) hasFuelFields() bool {
	return r.Liters != 0 || r.FuelCost != 0 || r.FuelTypeID != 0 || r.GasStationID != 0 || r.Odometer != 0
}

func (r Registration) hasTripFields() bool {
	return r.Origin != "" || r.Destination != "" || r.StartOdometer != 0 || r.EndOdometer != 0
}
