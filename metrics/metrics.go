// Package metrics derives dashboard aggregates, chart series and log rows
// from gateway snapshots. Every function is pure.
package metrics

import (
	"math"
	"strconv"
	"time"

	"github.com/amartya2002/uptime-client/uptime"
)

type Dashboard struct {
	Total      int `json:"total"`
	Up         int `json:"up"`
	Down       int `json:"down"`
	Pending    int `json:"pending"`
	AvgLatency int `json:"avg_latency_ms"`
}

// Summarize counts endpoints per status. AvgLatency is the rounded mean last
// response time over up endpoints that report one, 0 when none do.
func Summarize(endpoints []uptime.Endpoint) Dashboard {
	d := Dashboard{Total: len(endpoints)}
	sum, n := 0, 0
	for _, ep := range endpoints {
		switch ep.CurrentStatus {
		case uptime.StatusUp:
			d.Up++
			if ep.LastResponseTime != nil {
				sum += *ep.LastResponseTime
				n++
			}
		case uptime.StatusDown:
			d.Down++
		default:
			d.Pending++
		}
	}
	if n > 0 {
		d.AvgLatency = int(math.Round(float64(sum) / float64(n)))
	}
	return d
}

// Series is a chart-ready latency history, oldest point first. Values[i] is
// nil where the check failed.
type Series struct {
	Labels []string `json:"labels"`
	Values []*int   `json:"values"`
}

const (
	labelLayout = "15:04:05"
	rowLayout   = "2006-01-02 15:04:05"
)

// LatencySeries reverses newest-first logs into chronological order. The
// input order is trusted; logs are not re-sorted by timestamp. A log without
// a response time yields a nil value, failed or not.
func LatencySeries(logs []uptime.CheckLog, loc *time.Location) Series {
	if loc == nil {
		loc = time.Local
	}
	s := Series{
		Labels: make([]string, len(logs)),
		Values: make([]*int, len(logs)),
	}
	for i := range logs {
		l := logs[len(logs)-1-i]
		s.Labels[i] = l.CheckedAt.In(loc).Format(labelLayout)
		if l.ResponseTimeMS != nil {
			v := *l.ResponseTimeMS
			s.Values[i] = &v
		}
	}
	return s
}

// LogRow is one display line of the check-log table.
type LogRow struct {
	Time           string `json:"time"`
	Success        bool   `json:"success"`
	ResponseTimeMS *int   `json:"response_time_ms"`
	Detail         string `json:"detail"`
}

// LogRows keeps the newest-first order of logs.
func LogRows(logs []uptime.CheckLog, loc *time.Location) []LogRow {
	if loc == nil {
		loc = time.Local
	}
	rows := make([]LogRow, len(logs))
	for i, l := range logs {
		rows[i] = LogRow{
			Time:           l.CheckedAt.In(loc).Format(rowLayout),
			Success:        l.Success,
			ResponseTimeMS: l.ResponseTimeMS,
			Detail:         detail(l),
		}
	}
	return rows
}

func detail(l uptime.CheckLog) string {
	if l.StatusCode != nil {
		return "Status " + strconv.Itoa(*l.StatusCode)
	}
	if l.Error != nil && *l.Error != "" {
		return "Error: " + *l.Error
	}
	return "Error: Failed"
}

func StatusLabel(s uptime.Status) string {
	switch s {
	case uptime.StatusUp:
		return "UP"
	case uptime.StatusDown:
		return "DOWN"
	default:
		return "PENDING"
	}
}
