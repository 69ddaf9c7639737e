package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/scalextric-sensor/internal/logic"
)

func validChild() Child {
	return Child{
		NodeID: 1,
		Chip:   "gpiochip0",
		Sensors: []Sensor{
			{Name: "START1", Pin: 4},
			{Name: "START2", Pin: 5},
			{Name: "PIT_IN", Pin: 16},
			{Name: "PIT_OUT", Pin: 17},
		},
		Poll:      time.Millisecond,
		Broker:    "tcp://192.168.1.200:1883",
		Format:    "json",
		Heartbeat: 15 * time.Minute,
	}
}

func problems(t *testing.T, err error) []string {
	t.Helper()
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "want *ValidationError, got %T", err)
	return ve.Problems
}

func TestParseSensors(t *testing.T) {
	got, err := ParseSensors("START1:4, START2:5,PIT_IN:16,PIT_OUT:17,")
	require.NoError(t, err)
	assert.Equal(t, []Sensor{
		{Name: "START1", Pin: 4},
		{Name: "START2", Pin: 5},
		{Name: "PIT_IN", Pin: 16},
		{Name: "PIT_OUT", Pin: 17},
	}, got)
}

func TestParseSensorsErrors(t *testing.T) {
	for _, in := range []string{"", " , ", "START1", "START1:x", "START1:4,PIT"} {
		_, err := ParseSensors(in)
		assert.Error(t, err, "ParseSensors(%q)", in)
	}
}

func TestValidateChildOK(t *testing.T) {
	assert.NoError(t, Validate(validChild()))

	c := validChild()
	c.Sensors = c.Sensors[:1]
	c.Format = "binary"
	c.Heartbeat = 0
	c.Broker = "ws://broker.local:9001/mqtt"
	assert.NoError(t, Validate(c))
}

func TestValidateChildNodeID(t *testing.T) {
	for _, id := range []int{0, 256, -1} {
		c := validChild()
		c.NodeID = id
		p := problems(t, Validate(c))
		assert.Len(t, p, 1)
		assert.Contains(t, p[0], "NodeID")
	}
}

func TestValidateChildSensors(t *testing.T) {
	tests := []struct {
		name    string
		sensors []Sensor
		want    string
	}{
		{"none", nil, "Sensors"},
		{"too many", append(validChild().Sensors, Sensor{Name: "EXTRA", Pin: 20}), "Sensors"},
		{"duplicate name", []Sensor{{Name: "A", Pin: 4}, {Name: "A", Pin: 5}}, "unique Name"},
		{"duplicate pin", []Sensor{{Name: "A", Pin: 4}, {Name: "B", Pin: 4}}, "unique Pin"},
		{"name too long", []Sensor{{Name: "START_LINE_ONE", Pin: 4}}, "Sensors[0].Name"},
		{"empty name", []Sensor{{Name: "", Pin: 4}}, "Sensors[0].Name is required"},
		{"negative pin", []Sensor{{Name: "A", Pin: -1}}, "Sensors[0].Pin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validChild()
			c.Sensors = tt.sensors
			p := problems(t, Validate(c))
			require.NotEmpty(t, p)
			assert.Contains(t, p[0], tt.want)
		})
	}
}

func TestValidateChildPollAndFormat(t *testing.T) {
	c := validChild()
	c.Poll = 0
	c.Format = "xml"
	p := problems(t, Validate(c))
	assert.Len(t, p, 2)

	c = validChild()
	c.Poll = 100 * time.Millisecond
	p = problems(t, Validate(c))
	assert.Len(t, p, 1)
	assert.Contains(t, p[0], "Poll")
}

func TestValidateBroker(t *testing.T) {
	for _, b := range []string{"", "192.168.1.200:1883", "http://broker:1883", "tcp://"} {
		c := validChild()
		c.Broker = b
		assert.Error(t, Validate(c), "broker %q", b)
	}
}

func TestValidateParent(t *testing.T) {
	assert.NoError(t, Validate(Parent{Broker: "tcp://localhost:1883", Baud: 115200}))
	assert.NoError(t, Validate(Parent{Broker: "tcp://localhost:1883", SerialPort: "/dev/ttyUSB0", Baud: 9600}))

	p := problems(t, Validate(Parent{Broker: "tcp://localhost:1883", SerialPort: "/dev/ttyUSB0", Baud: 1234}))
	assert.Len(t, p, 1)
	assert.Contains(t, p[0], "Baud")
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Problems: []string{"a", "b"}}
	assert.Equal(t, "invalid config: a; b", err.Error())
}

func TestChildConversions(t *testing.T) {
	c := validChild()
	assert.Equal(t, []int{4, 5, 16, 17}, c.Pins())

	sc := c.SensorConfigs()
	require.Len(t, sc, 4)
	assert.Equal(t, logic.SensorConfig{Name: "PIT_OUT", Pin: 17}, sc[3])
	assert.LessOrEqual(t, len(sc), logic.MaxSensors)
}
