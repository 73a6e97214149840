package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Key identifies a single vehicle data point.
type Key string

// Known data point keys.
const (
	KeyBatteryLevel           Key = "battery_level"
	KeyBatteryRange           Key = "battery_range"
	KeyBatteryCapacity        Key = "battery_capacity"
	KeyChargeLimit            Key = "charge_limit"
	KeyCharging               Key = "charging"
	KeyChargingState          Key = "charging_state"
	KeyPlugStatus             Key = "plug_status"
	KeyDoorLock               Key = "door_lock"
	KeyEngineOil              Key = "engine_oil"
	KeyFuel                   Key = "fuel"
	KeyFuelPercent            Key = "fuel_percent"
	KeyFuelRange              Key = "fuel_range"
	KeyLocation               Key = "location"
	KeyOdometer               Key = "odometer"
	KeyTirePressureFrontLeft  Key = "tire_pressure_front_left"
	KeyTirePressureFrontRight Key = "tire_pressure_front_right"
	KeyTirePressureBackLeft   Key = "tire_pressure_back_left"
	KeyTirePressureBackRight  Key = "tire_pressure_back_right"
)

// Scope is a vendor authorization scope granted during OAuth.
type Scope string

// Vendor scopes.
const (
	ScopeReadBattery     Scope = "read_battery"
	ScopeReadCharge      Scope = "read_charge"
	ScopeReadEngineOil   Scope = "read_engine_oil"
	ScopeReadFuel        Scope = "read_fuel"
	ScopeReadLocation    Scope = "read_location"
	ScopeReadOdometer    Scope = "read_odometer"
	ScopeReadSecurity    Scope = "read_security"
	ScopeReadTires       Scope = "read_tires"
	ScopeControlCharge   Scope = "control_charge"
	ScopeControlSecurity Scope = "control_security"
)

// Charging state enum values as reported by the vendor.
const (
	ChargingStateCharging     = "CHARGING"
	ChargingStateNotCharging  = "NOT_CHARGING"
	ChargingStateFullyCharged = "FULLY_CHARGED"
)

// Kind tags the variant carried by a Value.
type Kind int

// Value kinds.
const (
	KindNumber Kind = iota
	KindBool
	KindString
	KindCoordinate
)

var kindNames = map[Kind]string{
	KindNumber:     "number",
	KindBool:       "bool",
	KindString:     "string",
	KindCoordinate: "coordinate",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalJSON encodes the kind by name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind name.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for kind, n := range kindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("models: unknown value kind %q", name)
}

// Coordinate is a vehicle position.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Value is the tagged variant stored for a data point. Only the field
// matching Kind is meaningful.
type Value struct {
	Kind       Kind       `json:"kind"`
	Number     float64    `json:"number,omitempty"`
	Bool       bool       `json:"bool,omitempty"`
	Text       string     `json:"text,omitempty"`
	Coordinate Coordinate `json:"coordinate,omitempty"`
}

// NumberValue wraps a numeric reading.
func NumberValue(v float64) Value { return Value{Kind: KindNumber, Number: v} }

// BoolValue wraps a boolean reading.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// StringValue wraps an enum/string reading.
func StringValue(v string) Value { return Value{Kind: KindString, Text: v} }

// CoordinateValue wraps a position reading.
func CoordinateValue(lat, lon float64) Value {
	return Value{Kind: KindCoordinate, Coordinate: Coordinate{Latitude: lat, Longitude: lon}}
}

// ErrorKind classifies fetch and ingest failures.
type ErrorKind string

// Error taxonomy.
const (
	ErrNotSupported     ErrorKind = "not_supported"
	ErrPermissionDenied ErrorKind = "permission_denied"
	ErrVendor           ErrorKind = "vendor_error"
	ErrTimeout          ErrorKind = "timeout"
	ErrTransport        ErrorKind = "transport_error"
	ErrRateLimited      ErrorKind = "rate_limited"
)

// FetchError describes a per-point failure.
type FetchError struct {
	Kind    ErrorKind `json:"kind"`
	Code    int       `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// FetchResult is the outcome of fetching one data point: either a value with
// optional vehicle-side timestamp, or an error descriptor.
type FetchResult struct {
	Value      *Value      `json:"value,omitempty"`
	RecordedAt *time.Time  `json:"recorded_at,omitempty"`
	UnitSystem string      `json:"unit_system,omitempty"`
	Err        *FetchError `json:"error,omitempty"`
}

// DataPointState is the last known coordinator-side state for one data point.
// Value, RecordedAt and FetchedAt always change together.
type DataPointState struct {
	Key                 Key         `json:"key"`
	Value               *Value      `json:"value,omitempty"`
	RecordedAt          *time.Time  `json:"recorded_at,omitempty"`
	FetchedAt           time.Time   `json:"fetched_at,omitempty"`
	UnitSystem          string      `json:"unit_system,omitempty"`
	LastError           *FetchError `json:"last_error,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
}

// Age returns the elapsed time since the vehicle-side measurement, or zero
// when the vendor never reported one.
func (s DataPointState) Age(now time.Time) time.Duration {
	if s.RecordedAt == nil {
		return 0
	}
	return now.Sub(*s.RecordedAt)
}
