package demo

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

// Humidity sensor identity.
const (
	SensorID    = "urn:dev:ops:my-humidity-sensor-1234"
	SensorTitle = "My Humidity Sensor"
)

// DefaultSampleInterval is how often RunSensor refreshes the level.
const DefaultSampleInterval = 3 * time.Second

// NewHumiditySensor builds a sensor with a read-only level property.
func NewHumiditySensor(logger thing.Logger) (*thing.Thing, error) {
	sensor := thing.New(SensorID, SensorTitle, []string{"MultiLevelSensor"}, "A web connected humidity sensor")
	sensor.SetLogger(logger)

	level, err := thing.NewProperty("level", 0.0, map[string]any{
		"@type":       "LevelProperty",
		"title":       "Humidity",
		"type":        "number",
		"description": "The current humidity in %",
		"minimum":     0,
		"maximum":     100,
		"unit":        "percent",
		"readOnly":    true,
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := sensor.AddProperty(level); err != nil {
		return nil, err
	}
	return sensor, nil
}

// RunSensor publishes a new simulated reading every interval until ctx is
// cancelled.
func RunSensor(ctx context.Context, sensor *thing.Thing, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sensor.UpdateProperty("level", readHumidity()); err != nil {
				return err
			}
		}
	}
}

// readHumidity returns a simulated reading in [0, 35], rounded to 0.1.
func readHumidity() float64 {
	v := math.Abs(70 * rand.Float64() * (rand.Float64() - 0.5))
	return math.Round(v*10) / 10
}
