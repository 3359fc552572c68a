package alerts

import (
	"fmt"
	"time"

	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/hatchtrack/incubator-mgmt/pkg/types"
)

// Evaluate checks a single reading against all active rules for a device
// and returns the alerts it triggers. Comparisons are strict, so a reading
// exactly on a rule boundary never alerts. Each violated rule produces its
// own alert and repeated violations across readings are not suppressed.
func Evaluate(device database.Device, rules []database.AlertRule, tempC float64, at time.Time) []database.Alert {
	var triggered []database.Alert

	for _, rule := range rules {
		if !rule.Active {
			continue
		}

		var kind, message string

		switch {
		case tempC < rule.TempMin:
			kind = types.AlertKindLow
			message = fmt.Sprintf("Temperature %g°C is below minimum %g°C", tempC, rule.TempMin)
		case tempC > rule.TempMax:
			kind = types.AlertKindHigh
			message = fmt.Sprintf("Temperature %g°C is above maximum %g°C", tempC, rule.TempMax)
		default:
			continue
		}

		triggered = append(triggered, database.Alert{
			DeviceID:    device.ID,
			RuleID:      rule.ID,
			TempC:       tempC,
			Kind:        kind,
			Message:     message,
			TriggeredAt: at,
		})
	}

	return triggered
}
