package alerts

import (
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/hatchtrack/incubator-mgmt/pkg/types"
)

func testRule(id uint, min, max float64) database.AlertRule {
	r := database.AlertRule{
		DeviceID: 1,
		TempMin:  min,
		TempMax:  max,
		Active:   true,
	}
	r.ID = id
	return r
}

func TestEvaluateReturnsNothingWhenInRange(t *testing.T) {
	is := is.New(t)

	device := database.Device{DeviceID: "incubator-01"}
	rules := []database.AlertRule{testRule(1, 35.0, 39.0)}

	triggered := Evaluate(device, rules, 37.5, time.Now())
	is.Equal(len(triggered), 0)
}

func TestEvaluateBoundariesDoNotTrigger(t *testing.T) {
	is := is.New(t)

	device := database.Device{DeviceID: "incubator-01"}
	rules := []database.AlertRule{testRule(1, 35.0, 39.0)}

	is.Equal(len(Evaluate(device, rules, 35.0, time.Now())), 0)
	is.Equal(len(Evaluate(device, rules, 39.0, time.Now())), 0)
}

func TestEvaluateLowTemperature(t *testing.T) {
	is := is.New(t)

	device := database.Device{DeviceID: "incubator-01"}
	device.ID = 7
	rules := []database.AlertRule{testRule(3, 35.0, 39.0)}
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	triggered := Evaluate(device, rules, 34.2, at)

	is.Equal(len(triggered), 1)
	is.Equal(triggered[0].Kind, types.AlertKindLow)
	is.Equal(triggered[0].DeviceID, uint(7))
	is.Equal(triggered[0].RuleID, uint(3))
	is.Equal(triggered[0].TempC, 34.2)
	is.Equal(triggered[0].TriggeredAt, at)
	is.Equal(triggered[0].Message, "Temperature 34.2°C is below minimum 35°C")
}

func TestEvaluateHighTemperature(t *testing.T) {
	is := is.New(t)

	device := database.Device{DeviceID: "incubator-01"}
	rules := []database.AlertRule{testRule(1, 35.0, 39.0)}

	triggered := Evaluate(device, rules, 40.5, time.Now())

	is.Equal(len(triggered), 1)
	is.Equal(triggered[0].Kind, types.AlertKindHigh)
	is.Equal(triggered[0].Message, "Temperature 40.5°C is above maximum 39°C")
}

func TestEvaluateSkipsInactiveRules(t *testing.T) {
	is := is.New(t)

	device := database.Device{DeviceID: "incubator-01"}
	inactive := testRule(1, 35.0, 39.0)
	inactive.Active = false

	triggered := Evaluate(device, []database.AlertRule{inactive}, 30.0, time.Now())
	is.Equal(len(triggered), 0)
}

func TestEvaluateEveryViolatedRuleAlerts(t *testing.T) {
	is := is.New(t)

	device := database.Device{DeviceID: "incubator-01"}
	rules := []database.AlertRule{
		testRule(1, 35.0, 39.0),
		testRule(2, 36.0, 38.0),
		testRule(3, 20.0, 45.0),
	}

	triggered := Evaluate(device, rules, 34.0, time.Now())

	is.Equal(len(triggered), 2)
	is.Equal(triggered[0].RuleID, uint(1))
	is.Equal(triggered[1].RuleID, uint(2))
}
