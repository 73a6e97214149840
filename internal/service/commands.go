package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"carbridge/internal/models"
)

// Command identifies a vehicle control action.
type Command string

// Supported commands.
const (
	CommandLockDoors      Command = "lock_doors"
	CommandUnlockDoors    Command = "unlock_doors"
	CommandStartCharging  Command = "start_charging"
	CommandStopCharging   Command = "stop_charging"
	CommandSetChargeLimit Command = "set_charge_limit"
)

// Charge limit bounds accepted by the vendor, as fractions.
const (
	chargeLimitMin = 0.5
	chargeLimitMax = 1.0
)

const followUpRefreshTimeout = 45 * time.Second

// Ack acknowledges an executed command.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type commandSpec struct {
	path         string
	affectedKeys []models.Key
	body         func(params map[string]any) (any, error)
}

var commandSpecs = map[Command]commandSpec{
	CommandLockDoors: {
		path:         "/security",
		affectedKeys: []models.Key{models.KeyDoorLock},
		body:         staticBody(map[string]string{"action": "LOCK"}),
	},
	CommandUnlockDoors: {
		path:         "/security",
		affectedKeys: []models.Key{models.KeyDoorLock},
		body:         staticBody(map[string]string{"action": "UNLOCK"}),
	},
	CommandStartCharging: {
		path:         "/charge",
		affectedKeys: []models.Key{models.KeyCharging, models.KeyChargingState, models.KeyPlugStatus},
		body:         staticBody(map[string]string{"action": "START"}),
	},
	CommandStopCharging: {
		path:         "/charge",
		affectedKeys: []models.Key{models.KeyCharging, models.KeyChargingState, models.KeyPlugStatus},
		body:         staticBody(map[string]string{"action": "STOP"}),
	},
	CommandSetChargeLimit: {
		path:         "/charge/limit",
		affectedKeys: []models.Key{models.KeyChargeLimit},
		body: func(params map[string]any) (any, error) {
			limit, ok := params["limit"].(float64)
			if !ok {
				return nil, fmt.Errorf("%w: limit is required", ErrInvalidParams)
			}
			if limit < chargeLimitMin || limit > chargeLimitMax {
				return nil, fmt.Errorf("%w: limit must be between %.1f and %.1f", ErrInvalidParams, chargeLimitMin, chargeLimitMax)
			}
			return map[string]float64{"limit": limit}, nil
		},
	},
}

func staticBody(body any) func(map[string]any) (any, error) {
	return func(map[string]any) (any, error) { return body, nil }
}

// CommandService executes vehicle control commands: one direct vendor call,
// then a follow-up refresh of the affected data points so stored state
// reflects the command's effect once the vendor confirms it.
type CommandService struct {
	vendor VendorAPI
	engine *FetchEngine
	logger *zap.Logger
}

// NewCommandService builds the command service.
func NewCommandService(vendor VendorAPI, engine *FetchEngine, logger *zap.Logger) *CommandService {
	return &CommandService{vendor: vendor, engine: engine, logger: logger}
}

// Execute runs one command. The follow-up refresh happens asynchronously;
// the ack reflects the vendor's direct response only.
func (s *CommandService) Execute(ctx context.Context, cmd Command, params map[string]any) (Ack, error) {
	spec, known := commandSpecs[cmd]
	if !known {
		return Ack{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}

	body, err := spec.body(params)
	if err != nil {
		return Ack{}, err
	}

	response, err := s.vendor.Execute(ctx, spec.path, body)
	if err != nil {
		s.logger.Warn("command failed",
			zap.String("command", string(cmd)),
			zap.Error(err))
		return Ack{}, err
	}

	s.logger.Info("command executed",
		zap.String("command", string(cmd)),
		zap.String("status", response.Status))

	go s.refreshAffected(cmd, spec.affectedKeys)

	return Ack{Status: response.Status, Message: response.Message}, nil
}

func (s *CommandService) refreshAffected(cmd Command, keys []models.Key) {
	ctx, cancel := context.WithTimeout(context.Background(), followUpRefreshTimeout)
	defer cancel()

	results := s.engine.Fetch(ctx, keys)
	for key, res := range results {
		if res.Err != nil {
			s.logger.Warn("follow-up refresh failed",
				zap.String("command", string(cmd)),
				zap.String("key", string(key)),
				zap.String("kind", string(res.Err.Kind)))
		}
	}
}
