// Package config holds the daemons' flag-derived configuration and its
// validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sweeney/scalextric-sensor/internal/logic"
)

// SensorNameMax is the longest sensor name that fits the 12-byte wire field.
const SensorNameMax = 11

// Sensor is one phototransistor input.
type Sensor struct {
	Name string `validate:"required,max=11,printascii,excludes=:"`
	Pin  int    `validate:"gte=0,lte=1023"`
}

// Child is the detector node configuration.
type Child struct {
	NodeID    int           `validate:"gte=1,lte=255"`
	Chip      string        `validate:"required"`
	Sensors   []Sensor      `validate:"min=1,max=4,unique=Name,unique=Pin,dive"`
	Poll      time.Duration `validate:"gt=0,lte=50ms"`
	Broker    string        `validate:"required,broker"`
	Format    string        `validate:"oneof=json binary"`
	Heartbeat time.Duration `validate:"gte=0"`
	HTTPAddr  string
	SelfTest  bool
}

// Parent is the collector node configuration.
type Parent struct {
	Broker     string `validate:"required,broker"`
	SerialPort string
	Baud       int    `validate:"oneof=9600 19200 38400 57600 115200 230400"`
}

// ValidationError lists every failing field.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

var (
	vOnce sync.Once
	v     *validator.Validate
)

func validate() *validator.Validate {
	vOnce.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("broker", func(fl validator.FieldLevel) bool {
			return validBroker(fl.Field().String())
		})
	})
	return v
}

// validBroker accepts the URL schemes paho understands.
func validBroker(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
		return true
	}
	return false
}

// Validate checks a Child or Parent config.
func Validate(cfg any) error {
	err := validate().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	ve := &ValidationError{}
	for _, fe := range verrs {
		ve.Problems = append(ve.Problems, describe(fe))
	}
	return ve
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Child.")
	field = strings.TrimPrefix(field, "Parent.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "unique":
		return fmt.Sprintf("%s must have unique %s", field, fe.Param())
	case "broker":
		return fmt.Sprintf("%s %q is not an MQTT broker URL", field, fe.Value())
	case "min", "max", "gte", "lte", "gt":
		return fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s fails %s", field, fe.Tag())
	}
}

// ParseSensors parses "NAME:PIN[,NAME:PIN...]".
func ParseSensors(s string) ([]Sensor, error) {
	var out []Sensor
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, pinStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("sensor %q: want NAME:PIN", part)
		}
		pin, err := strconv.Atoi(strings.TrimSpace(pinStr))
		if err != nil {
			return nil, fmt.Errorf("sensor %q: bad pin: %w", part, err)
		}
		out = append(out, Sensor{Name: strings.TrimSpace(name), Pin: pin})
	}
	if len(out) == 0 {
		return nil, errors.New("no sensors given")
	}
	return out, nil
}

// SensorConfigs converts to the detector's sensor list.
func (c Child) SensorConfigs() []logic.SensorConfig {
	out := make([]logic.SensorConfig, len(c.Sensors))
	for i, s := range c.Sensors {
		out[i] = logic.SensorConfig{Name: s.Name, Pin: s.Pin}
	}
	return out
}

// Pins returns the sensor pins in order.
func (c Child) Pins() []int {
	out := make([]int, len(c.Sensors))
	for i, s := range c.Sensors {
		out[i] = s.Pin
	}
	return out
}
