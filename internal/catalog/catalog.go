// Package catalog holds the static description of every data point the
// coordinator can request from the vendor API.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"carbridge/internal/models"
)

// Tire grid positions used by the vendor.
const (
	tireFrontRow    = 0
	tireBackRow     = 1
	tireLeftColumn  = 0
	tireRightColumn = 1
)

// DecodeFunc extracts a typed value from a vendor JSON body.
type DecodeFunc func(body []byte) (models.Value, error)

// Descriptor is the immutable definition of one data point. Data points
// sharing a BatchGroup are always requested through a single vendor call;
// an empty BatchGroup means the point is fetched through its own call.
type Descriptor struct {
	Key            models.Key
	Endpoint       string
	ValuePath      string
	Kind           models.Kind
	RequiredScopes []models.Scope
	BatchGroup     string
	CostUnits      int
	SignalCode     string

	// Decode overrides the default path-based extraction from a polled
	// endpoint body. PushDecode does the same for push signal bodies,
	// which default to a {"value": ...} envelope.
	Decode     DecodeFunc
	PushDecode DecodeFunc
}

// DecodeBody extracts this point's value from a polled endpoint body.
func (d *Descriptor) DecodeBody(body []byte) (models.Value, error) {
	if d.Decode != nil {
		return d.Decode(body)
	}
	return decodeAtPath(body, d.ValuePath, d.Kind)
}

// DecodeSignal extracts this point's value from a push signal body.
func (d *Descriptor) DecodeSignal(body []byte) (models.Value, error) {
	if d.PushDecode != nil {
		return d.PushDecode(body)
	}
	return decodeAtPath(body, "value", d.Kind)
}

// Catalog indexes descriptors by key and by push signal code.
type Catalog struct {
	ordered []*Descriptor
	byKey   map[models.Key]*Descriptor
	byCode  map[string][]*Descriptor
}

// New builds the full descriptor table.
func New() *Catalog {
	descriptors := []*Descriptor{
		{
			Key:            models.KeyBatteryLevel,
			Endpoint:       "/battery",
			ValuePath:      "percentRemaining",
			Kind:           models.KindNumber,
			RequiredScopes: []models.Scope{models.ScopeReadBattery},
			BatchGroup:     "battery",
			CostUnits:      1,
			SignalCode:     "tractionbattery-stateofcharge",
		},
		{
			Key:            models.KeyBatteryRange,
			Endpoint:       "/battery",
			ValuePath:      "range",
			Kind:           models.KindNumber,
			RequiredScopes: []models.Scope{models.ScopeReadBattery},
			BatchGroup:     "battery",
			CostUnits:      1,
			SignalCode:     "tractionbattery-range",
		},
		{
			Key:            models.KeyBatteryCapacity,
			Endpoint:       "/battery/nominal_capacity",
			ValuePath:      "capacity.nominal",
			Kind:           models.KindNumber,
			RequiredScopes: []models.Scope{models.ScopeReadBattery},
			CostUnits:      1,
			SignalCode:     "tractionbattery-nominalcapacity",
		},
		{
			Key:            models.KeyChargeLimit,
			Endpoint:       "/charge/limit",
			ValuePath:      "limit",
			Kind:           models.KindNumber,
			RequiredScopes: []models.Scope{models.ScopeReadCharge, models.ScopeControlCharge},
			CostUnits:      1,
			SignalCode:     "charge-chargelimits",
		},
		{
			Key:            models.KeyCharging,
			Endpoint:       "/charge",
			ValuePath:      "state",
			Kind:           models.KindBool,
			RequiredScopes: []models.Scope{models.ScopeReadCharge, models.ScopeControlCharge},
			BatchGroup:     "charge",
			CostUnits:      1,
			SignalCode:     "charge-ischarging",
			Decode: func(body []byte) (models.Value, error) {
				state, err := decodeAtPath(body, "state", models.KindString)
				if err != nil {
					return models.Value{}, err
				}
				return models.BoolValue(state.Text == models.ChargingStateCharging), nil
			},
		},
		{
			Key:            models.KeyChargingState,
			Endpoint:       "/charge",
			ValuePath:      "state",
			Kind:           models.KindString,
			RequiredScopes: []models.Scope{models.ScopeReadCharge, models.ScopeControlCharge},
			BatchGroup:     "charge",
			CostUnits:      1,
		},
		{
			Key:            models.KeyPlugStatus,
			Endpoint:       "/charge",
			ValuePath:      "isPluggedIn",
			Kind:           models.KindBool,
			RequiredScopes: []models.Scope{models.ScopeReadCharge},
			BatchGroup:     "charge",
			CostUnits:      1,
			SignalCode:     "charge-ischargingcableconnected",
		},
		{
			Key:            models.KeyDoorLock,
			Endpoint:       "/security",
			ValuePath:      "isLocked",
			Kind:           models.KindBool,
			RequiredScopes: []models.Scope{models.ScopeReadSecurity, models.ScopeControlSecurity},
			BatchGroup:     "security",
			CostUnits:      1,
			SignalCode:     "closure-islocked",
		},
		{
			Key:            models.KeyEngineOil,
			Endpoint:       "/engine/oil",
			ValuePath:      "lifeRemaining",
			Kind:           models.KindNumber,
			RequiredScopes: []models.Scope{models.ScopeReadEngineOil},
			CostUnits:      1,
			SignalCode:     "internalcombustionengine-oillife",
		},
		{
			Key:            models.KeyFuel,
			Endpoint:       "/fuel",
			ValuePath:      "amountRemaining",
			Kind:           models.KindNumber,
			RequiredScopes: []models.Scope{models.ScopeReadFuel},
			BatchGroup:     "fuel",
			CostUnits:      1,
			SignalCode:     "internalcombustionengine-amountremaining",
		},
		{
			Key:            models.KeyFuelPercent,
			Endpoint:       "/fuel",
			ValuePath:      "percentRemaining",
			Kind:           models.KindNumber,
			RequiredScopes: []models.Scope{models.ScopeReadFuel},
			BatchGroup:     "fuel",
			CostUnits:      1,
			SignalCode:     "internalcombustionengine-fuellevel",
		},
		{
			Key:            models.KeyFuelRange,
			Endpoint:       "/fuel",
			ValuePath:      "range",
			Kind:           models.KindNumber,
			RequiredScopes: []models.Scope{models.ScopeReadFuel},
			BatchGroup:     "fuel",
			CostUnits:      1,
			SignalCode:     "internalcombustionengine-range",
		},
		{
			Key:            models.KeyLocation,
			Endpoint:       "/location",
			Kind:           models.KindCoordinate,
			RequiredScopes: []models.Scope{models.ScopeReadLocation},
			CostUnits:      1,
			SignalCode:     "location-preciselocation",
			PushDecode: func(body []byte) (models.Value, error) {
				return decodeAtPath(body, "", models.KindCoordinate)
			},
		},
		{
			Key:            models.KeyOdometer,
			Endpoint:       "/odometer",
			ValuePath:      "distance",
			Kind:           models.KindNumber,
			RequiredScopes: []models.Scope{models.ScopeReadOdometer},
			CostUnits:      1,
			SignalCode:     "odometer-traveleddistance",
		},
		tireDescriptor(models.KeyTirePressureFrontLeft, "frontLeft", tireFrontRow, tireLeftColumn),
		tireDescriptor(models.KeyTirePressureFrontRight, "frontRight", tireFrontRow, tireRightColumn),
		tireDescriptor(models.KeyTirePressureBackLeft, "backLeft", tireBackRow, tireLeftColumn),
		tireDescriptor(models.KeyTirePressureBackRight, "backRight", tireBackRow, tireRightColumn),
	}

	c := &Catalog{
		ordered: descriptors,
		byKey:   make(map[models.Key]*Descriptor, len(descriptors)),
		byCode:  make(map[string][]*Descriptor),
	}
	for _, d := range descriptors {
		c.byKey[d.Key] = d
		if d.SignalCode != "" {
			c.byCode[d.SignalCode] = append(c.byCode[d.SignalCode], d)
		}
	}
	return c
}

func tireDescriptor(key models.Key, path string, row, column int) *Descriptor {
	return &Descriptor{
		Key:            key,
		Endpoint:       "/tires/pressure",
		ValuePath:      path,
		Kind:           models.KindNumber,
		RequiredScopes: []models.Scope{models.ScopeReadTires},
		BatchGroup:     "tires",
		CostUnits:      1,
		SignalCode:     "wheel-tires",
		PushDecode: func(body []byte) (models.Value, error) {
			var payload struct {
				Values []struct {
					TirePressure float64 `json:"tirePressure"`
					Row          int     `json:"row"`
					Column       int     `json:"column"`
				} `json:"values"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return models.Value{}, err
			}
			for _, v := range payload.Values {
				if v.Row == row && v.Column == column {
					return models.NumberValue(v.TirePressure), nil
				}
			}
			return models.Value{}, fmt.Errorf("catalog: no tire value at row %d column %d", row, column)
		},
	}
}

// Get returns the descriptor for a key.
func (c *Catalog) Get(key models.Key) (*Descriptor, bool) {
	d, ok := c.byKey[key]
	return d, ok
}

// BySignalCode returns every descriptor mapped to a push signal code.
func (c *Catalog) BySignalCode(code string) []*Descriptor {
	return c.byCode[code]
}

// All returns descriptors in declaration order.
func (c *Catalog) All() []*Descriptor {
	return c.ordered
}

// Keys returns every known data point key.
func (c *Catalog) Keys() []models.Key {
	keys := make([]models.Key, 0, len(c.ordered))
	for _, d := range c.ordered {
		keys = append(keys, d.Key)
	}
	return keys
}

func decodeAtPath(body []byte, path string, kind models.Kind) (models.Value, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.Value{}, fmt.Errorf("catalog: decode body: %w", err)
	}

	current := raw
	if path != "" {
		for _, segment := range strings.Split(path, ".") {
			obj, ok := current.(map[string]any)
			if !ok {
				return models.Value{}, fmt.Errorf("catalog: path %q not found", path)
			}
			current, ok = obj[segment]
			if !ok {
				return models.Value{}, fmt.Errorf("catalog: path %q not found", path)
			}
		}
	}

	switch kind {
	case models.KindNumber:
		n, ok := current.(float64)
		if !ok {
			return models.Value{}, fmt.Errorf("catalog: expected number at %q", path)
		}
		return models.NumberValue(n), nil
	case models.KindBool:
		b, ok := current.(bool)
		if !ok {
			return models.Value{}, fmt.Errorf("catalog: expected bool at %q", path)
		}
		return models.BoolValue(b), nil
	case models.KindString:
		s, ok := current.(string)
		if !ok {
			return models.Value{}, fmt.Errorf("catalog: expected string at %q", path)
		}
		return models.StringValue(s), nil
	case models.KindCoordinate:
		obj, ok := current.(map[string]any)
		if !ok {
			return models.Value{}, fmt.Errorf("catalog: expected coordinate object at %q", path)
		}
		lat, latOK := obj["latitude"].(float64)
		lon, lonOK := obj["longitude"].(float64)
		if !latOK || !lonOK {
			return models.Value{}, fmt.Errorf("catalog: malformed coordinate at %q", path)
		}
		return models.CoordinateValue(lat, lon), nil
	default:
		return models.Value{}, fmt.Errorf("catalog: unsupported kind %s", kind)
	}
}
