package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// LifecycleMeasurement is the measurement holding device lifecycle telemetry.
const LifecycleMeasurement = "lifecycle"

// WriteLifecycle records one device property change.
//
// The device and property become tags; the value is stored in a field
// chosen by type so InfluxDB keeps each field's type stable:
//
//   - strings (states) go to "text"
//   - time.Time values (schedule instants) go to "epoch" as Unix seconds
//   - numbers go to "value"
//
// Example:
//
//	client.WriteLifecycle("dish1", "state", "CLAIMING", time.Now())
//	client.WriteLifecycle("dish1", "startTime", start, time.Now())
func (c *Client) WriteLifecycle(device, property string, value any, ts time.Time) {
	fields := map[string]interface{}{}
	switch v := value.(type) {
	case string:
		fields["text"] = v
	case time.Time:
		fields["epoch"] = v.Unix()
	case int:
		fields["value"] = float64(v)
	case int64:
		fields["value"] = float64(v)
	case float64:
		fields["value"] = v
	case bool:
		fields["flag"] = v
	default:
		return
	}

	c.WritePointWithTime(LifecycleMeasurement, map[string]string{
		"device":   device,
		"property": property,
	}, fields, ts)
}

// WritePointWithTime writes a point with explicit tags, fields and timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
