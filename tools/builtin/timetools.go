package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tgsearchbot/toolloop"
)

const defaultTimeLayout = "2006-01-02 15:04:05"

// parseLayouts are tried in order by format_time.
var parseLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.ANSIC,
	"Jan 2, 2006",
	"January 2, 2006",
	"02 Jan 2006",
	"15:04:05",
	"15:04",
}

type currentTime struct {
	CurrentTime string `json:"current_time"`
	Timezone    string `json:"timezone"`
	DayOfWeek   string `json:"day_of_week"`
	Timestamp   int64  `json:"timestamp"`
}

func currentTimeTool(o options) toolloop.Entry {
	return toolloop.Entry{
		Definition: toolloop.ToolDefinition{
			Name:        "get_current_time",
			Description: "Get the current date and time",
			Category:    categoryTime,
			Enabled:     true,
			Parameters: []toolloop.ToolParameterSpec{
				{Name: "timezone", Type: toolloop.String, Description: "IANA time zone, UTC or Local", Default: "Local"},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			tz := str(args, "timezone")
			loc, err := location(tz)
			if err != nil {
				return nil, err
			}
			now := o.now().In(loc)
			return currentTime{
				CurrentTime: now.Format(defaultTimeLayout),
				Timezone:    tz,
				DayOfWeek:   now.Weekday().String(),
				Timestamp:   now.Unix(),
			}, nil
		},
	}
}

func location(tz string) (*time.Location, error) {
	switch strings.ToLower(strings.TrimSpace(tz)) {
	case "", "local":
		return time.Local, nil
	case "utc":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", tz)
	}
	return loc, nil
}

type formattedTime struct {
	Original  string `json:"original"`
	Formatted string `json:"formatted"`
}

func formatTimeTool() toolloop.Entry {
	return toolloop.Entry{
		Definition: toolloop.ToolDefinition{
			Name:        "format_time",
			Description: "Reformat a date/time string",
			Category:    categoryTime,
			Enabled:     true,
			Parameters: []toolloop.ToolParameterSpec{
				{Name: "time_string", Type: toolloop.String, Required: true, Description: "date/time to reformat"},
				{Name: "format", Type: toolloop.String, Description: "Go reference layout, e.g. 2006-01-02 15:04:05", Default: defaultTimeLayout},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			in := strings.TrimSpace(str(args, "time_string"))
			layout := str(args, "format")
			t, err := parseTime(in)
			if err != nil {
				return nil, err
			}
			return formattedTime{Original: in, Formatted: t.Format(layout)}, nil
		},
	}
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time string %q", s)
}
