package model

import (
	"fmt"
	"strings"
)

// TimeUnit is how much simulated time passes per real second.
type TimeUnit string

const (
	TenMinutes TimeUnit = "10m"
	OneHour    TimeUnit = "1h"
	OneDay     TimeUnit = "1d"
	SevenDays  TimeUnit = "7d"
)

// TimeUnits lists the supported units in ascending order.
var TimeUnits = []TimeUnit{TenMinutes, OneHour, OneDay, SevenDays}

// DaysPerSecond converts the unit into simulated days per real second.
// Unknown units behave like TenMinutes.
func (u TimeUnit) DaysPerSecond() float64 {
	switch u {
	case OneHour:
		return 1.0 / 24
	case OneDay:
		return 1
	case SevenDays:
		return 7
	default:
		return 10.0 / 1440
	}
}

// Valid reports whether u is one of the supported units.
func (u TimeUnit) Valid() bool {
	for _, known := range TimeUnits {
		if u == known {
			return true
		}
	}
	return false
}

var timeUnitAliases = map[string]TimeUnit{
	"10m":   TenMinutes,
	"10min": TenMinutes,
	"10분":   TenMinutes,
	"1h":    OneHour,
	"1시간":   OneHour,
	"1d":    OneDay,
	"1일":    OneDay,
	"7d":    SevenDays,
	"7일":    SevenDays,
}

// ParseTimeUnit accepts the short tokens as well as the Korean UI labels.
func ParseTimeUnit(s string) (TimeUnit, error) {
	u, ok := timeUnitAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown time unit %q", s)
	}
	return u, nil
}
