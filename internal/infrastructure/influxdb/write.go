package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementResolution = "role_resolution"
	measurementDashboard  = "dashboard_selection"
)

// RecordResolution counts one role resolution, tagged with the rule that
// fired. User IDs are deliberately not tags.
func (c *Client) RecordResolution(rule string, writeBack bool) {
	c.writePoint(resolutionPoint(rule, writeBack, time.Now()))
}

// RecordDashboard counts one dashboard selection.
func (c *Client) RecordDashboard(dashboard string) {
	c.writePoint(dashboardPoint(dashboard, time.Now()))
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func resolutionPoint(rule string, writeBack bool, at time.Time) *write.Point {
	return write.NewPoint(
		measurementResolution,
		map[string]string{"rule": rule},
		map[string]any{"count": 1, "write_back": writeBack},
		at,
	)
}

func dashboardPoint(dashboard string, at time.Time) *write.Point {
	return write.NewPoint(
		measurementDashboard,
		map[string]string{"dashboard": dashboard},
		map[string]any{"count": 1},
		at,
	)
}
