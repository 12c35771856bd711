package demo

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

// Lamp identity.
const (
	LampID    = "urn:dev:ops:my-lamp-1234"
	LampTitle = "My Lamp"
)

// OverheatTemperature is reported by the overheated event after a fade.
const OverheatTemperature = 102

// NewLamp builds a dimmable lamp.
//
// The fade action waits for the requested duration, sets brightness to the
// requested level and raises overheated. eventCapacity sizes the event log;
// zero uses the runtime default. logger may be nil.
func NewLamp(logger thing.Logger, eventCapacity int) (*thing.Thing, error) {
	lamp := thing.New(LampID, LampTitle, []string{"OnOffSwitch", "Light"}, "A web connected lamp")
	lamp.SetLogger(logger)

	on, err := thing.NewProperty("on", true, map[string]any{
		"@type":       "OnOffProperty",
		"title":       "On/Off",
		"type":        "boolean",
		"description": "Whether the lamp is turned on",
	}, outputForwarder(logger, "on"))
	if err != nil {
		return nil, err
	}
	if err := lamp.AddProperty(on); err != nil {
		return nil, err
	}

	brightness, err := thing.NewProperty("brightness", 50, map[string]any{
		"@type":       "BrightnessProperty",
		"title":       "Brightness",
		"type":        "integer",
		"description": "The level of light from 0-100",
		"minimum":     0,
		"maximum":     100,
		"unit":        "percent",
	}, outputForwarder(logger, "brightness"))
	if err != nil {
		return nil, err
	}
	if err := lamp.AddProperty(brightness); err != nil {
		return nil, err
	}

	if err := lamp.AddAvailableAction("fade", map[string]any{
		"title":       "Fade",
		"description": "Fade the lamp to a given level",
		"input": map[string]any{
			"type":     "object",
			"required": []any{"brightness", "duration"},
			"properties": map[string]any{
				"brightness": map[string]any{
					"type":    "integer",
					"minimum": 0,
					"maximum": 100,
					"unit":    "percent",
				},
				"duration": map[string]any{
					"type":    "integer",
					"minimum": 1,
					"unit":    "milliseconds",
				},
			},
		},
	}, newFade); err != nil {
		return nil, err
	}

	if err := lamp.AddAvailableEvent("overheated", map[string]any{
		"description": "The lamp has exceeded its safe operating temperature",
		"type":        "number",
		"unit":        "degree celsius",
	}, eventCapacity); err != nil {
		return nil, err
	}

	return lamp, nil
}

// outputForwarder stands in for the lamp driver: it logs the value and
// accepts it unchanged.
func outputForwarder(logger thing.Logger, name string) thing.Forwarder {
	return thing.ForwarderFunc(func(_ context.Context, value any) (any, error) {
		if logger != nil {
			logger.Debug("lamp output changed", "property", name, "value", value)
		}
		return value, nil
	})
}

func newFade(t *thing.Thing) thing.Behavior {
	return thing.BehaviorFunc(func(ctx context.Context, input any) (any, error) {
		args, ok := input.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("fade: unexpected input %T", input)
		}
		level, _ := toInt(args["brightness"])
		ms, _ := toInt(args["duration"])

		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		if _, err := t.SetProperty(ctx, "brightness", level); err != nil {
			return nil, fmt.Errorf("fade: %w", err)
		}
		if err := t.EmitEvent("overheated", OverheatTemperature); err != nil {
			return nil, fmt.Errorf("fade: %w", err)
		}
		return nil, nil
	})
}

// toInt converts a decoded JSON number to int.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
