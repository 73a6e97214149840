package catalog

import (
	"testing"

	"carbridge/internal/models"
)

func TestDecodeBodySimplePath(t *testing.T) {
	cat := New()
	desc, ok := cat.Get(models.KeyBatteryLevel)
	if !ok {
		t.Fatal("expected battery_level descriptor")
	}

	value, err := desc.DecodeBody([]byte(`{"percentRemaining":0.63,"range":150}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.Kind != models.KindNumber || value.Number != 0.63 {
		t.Fatalf("unexpected value %+v", value)
	}
}

func TestDecodeBodyNestedPath(t *testing.T) {
	cat := New()
	desc, _ := cat.Get(models.KeyBatteryCapacity)

	value, err := desc.DecodeBody([]byte(`{"capacity":{"nominal":75.2}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.Number != 75.2 {
		t.Fatalf("expected 75.2, got %v", value.Number)
	}
}

func TestDecodeBodyMissingPath(t *testing.T) {
	cat := New()
	desc, _ := cat.Get(models.KeyBatteryLevel)

	if _, err := desc.DecodeBody([]byte(`{"range":150}`)); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestDecodeBodyWrongType(t *testing.T) {
	cat := New()
	desc, _ := cat.Get(models.KeyBatteryLevel)

	if _, err := desc.DecodeBody([]byte(`{"percentRemaining":"high"}`)); err == nil {
		t.Fatal("expected error for non-numeric value")
	}
}

func TestDecodeChargingDerivesBoolFromState(t *testing.T) {
	cat := New()
	desc, _ := cat.Get(models.KeyCharging)

	charging, err := desc.DecodeBody([]byte(`{"state":"CHARGING","isPluggedIn":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charging.Kind != models.KindBool || !charging.Bool {
		t.Fatalf("expected true while charging, got %+v", charging)
	}

	idle, err := desc.DecodeBody([]byte(`{"state":"FULLY_CHARGED","isPluggedIn":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idle.Bool {
		t.Fatalf("expected false when fully charged, got %+v", idle)
	}
}

func TestDecodeLocationCoordinate(t *testing.T) {
	cat := New()
	desc, _ := cat.Get(models.KeyLocation)

	value, err := desc.DecodeBody([]byte(`{"latitude":52.52,"longitude":13.405}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.Kind != models.KindCoordinate {
		t.Fatalf("expected coordinate, got %s", value.Kind)
	}
	if value.Coordinate.Latitude != 52.52 || value.Coordinate.Longitude != 13.405 {
		t.Fatalf("unexpected coordinate %+v", value.Coordinate)
	}
}

func TestDecodeSignalDefaultsToValueEnvelope(t *testing.T) {
	cat := New()
	desc, _ := cat.Get(models.KeyOdometer)

	value, err := desc.DecodeSignal([]byte(`{"value":42000.5}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.Number != 42000.5 {
		t.Fatalf("expected 42000.5, got %v", value.Number)
	}
}

func TestDecodeTireSignalGrid(t *testing.T) {
	cat := New()
	body := []byte(`{"values":[{"tirePressure":230,"row":0,"column":0},{"tirePressure":233,"row":1,"column":1}]}`)

	frontLeft, _ := cat.Get(models.KeyTirePressureFrontLeft)
	value, err := frontLeft.DecodeSignal(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.Number != 230 {
		t.Fatalf("expected 230 for front left, got %v", value.Number)
	}

	backLeft, _ := cat.Get(models.KeyTirePressureBackLeft)
	if _, err := backLeft.DecodeSignal(body); err == nil {
		t.Fatal("expected error for missing grid position")
	}
}

func TestBySignalCodeMapsSharedCodes(t *testing.T) {
	cat := New()

	tires := cat.BySignalCode("wheel-tires")
	if len(tires) != 4 {
		t.Fatalf("expected 4 tire descriptors, got %d", len(tires))
	}

	battery := cat.BySignalCode("tractionbattery-stateofcharge")
	if len(battery) != 1 || battery[0].Key != models.KeyBatteryLevel {
		t.Fatalf("unexpected battery mapping %+v", battery)
	}

	if got := cat.BySignalCode("nope"); len(got) != 0 {
		t.Fatalf("expected no descriptors, got %d", len(got))
	}
}

func TestBatchGroupAssignments(t *testing.T) {
	cat := New()

	grouped := map[models.Key]string{
		models.KeyBatteryLevel:  "battery",
		models.KeyBatteryRange:  "battery",
		models.KeyCharging:      "charge",
		models.KeyChargingState: "charge",
		models.KeyPlugStatus:    "charge",
		models.KeyFuel:          "fuel",
		models.KeyDoorLock:      "security",
	}
	for key, group := range grouped {
		desc, ok := cat.Get(key)
		if !ok {
			t.Fatalf("missing descriptor for %s", key)
		}
		if desc.BatchGroup != group {
			t.Fatalf("expected %s in group %q, got %q", key, group, desc.BatchGroup)
		}
	}

	odometer, _ := cat.Get(models.KeyOdometer)
	if odometer.BatchGroup != "" {
		t.Fatalf("expected odometer ungrouped, got %q", odometer.BatchGroup)
	}
}
