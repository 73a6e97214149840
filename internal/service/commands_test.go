package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"carbridge/internal/models"
	"carbridge/internal/vendorapi"
)

func newCommandFixture(vendor *fakeVendor, scopes ...models.Scope) (*CommandService, *engineFixture) {
	fx := newEngineFixture(vendor, scopes...)
	return NewCommandService(vendor, fx.engine, zap.NewNop()), fx
}

func TestExecuteUnknownCommand(t *testing.T) {
	svc, _ := newCommandFixture(&fakeVendor{})

	_, err := svc.Execute(context.Background(), Command("self_destruct"), nil)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestExecuteLockDoorsTriggersFollowUpRefresh(t *testing.T) {
	vendor := &fakeVendor{
		items: []vendorapi.BatchItem{
			batchItem("/security", 200, `{"isLocked":true}`, nil),
		},
		execResp: &vendorapi.CommandResponse{Status: "success", Message: "queued"},
	}
	svc, fx := newCommandFixture(vendor, models.ScopeReadSecurity, models.ScopeControlSecurity)

	ack, err := svc.Execute(context.Background(), CommandLockDoors, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Status != "success" || ack.Message != "queued" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	vendor.mu.Lock()
	path := vendor.execPaths[0]
	vendor.mu.Unlock()
	if path != "/security" {
		t.Fatalf("expected /security command path, got %s", path)
	}

	waitFor(t, time.Second, func() bool { return vendor.batchCallCount() == 1 })
	waitFor(t, time.Second, func() bool {
		st, ok := fx.store.Get(models.KeyDoorLock)
		return ok && st.Value != nil && st.Value.Bool
	})
}

func TestExecuteSetChargeLimitValidatesParams(t *testing.T) {
	vendor := &fakeVendor{}
	svc, _ := newCommandFixture(vendor, models.ScopeReadCharge, models.ScopeControlCharge)

	if _, err := svc.Execute(context.Background(), CommandSetChargeLimit, nil); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams without limit, got %v", err)
	}
	if _, err := svc.Execute(context.Background(), CommandSetChargeLimit, map[string]any{"limit": 0.2}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for low limit, got %v", err)
	}
	if _, err := svc.Execute(context.Background(), CommandSetChargeLimit, map[string]any{"limit": 1.5}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for high limit, got %v", err)
	}

	vendor.mu.Lock()
	calls := len(vendor.execPaths)
	vendor.mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no vendor calls for invalid params, got %d", calls)
	}

	if _, err := svc.Execute(context.Background(), CommandSetChargeLimit, map[string]any{"limit": 0.8}); err != nil {
		t.Fatalf("unexpected error for valid limit: %v", err)
	}
}

func TestExecutePropagatesVendorError(t *testing.T) {
	vendorErr := &vendorapi.StatusError{Status: 409, Message: "vehicle busy"}
	vendor := &fakeVendor{execErr: vendorErr}
	svc, _ := newCommandFixture(vendor, models.ScopeReadSecurity, models.ScopeControlSecurity)

	_, err := svc.Execute(context.Background(), CommandUnlockDoors, nil)
	var statusErr *vendorapi.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != 409 {
		t.Fatalf("expected status error 409, got %v", err)
	}
	if vendor.batchCallCount() != 0 {
		t.Fatalf("expected no follow-up refresh after failure, got %d", vendor.batchCallCount())
	}
}
