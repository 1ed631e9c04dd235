package model

// MarketDay holds the computed trading-session bounds for one calendar date
// in the application timezone. Times are "HH:MM" strings; a nil time means
// the session side does not exist (weekend or full-day holiday).
type MarketDay struct {
	Date      string  `json:"date"`
	OpenTime  *string `json:"open_time"`
	CloseTime *string `json:"close_time"`
	Holiday   string  `json:"holiday,omitempty"`
	IsWeekend bool    `json:"is_weekend"`
}

// IsTradingDay reports whether the market opens at all on this date.
func (d *MarketDay) IsTradingDay() bool {
	return d.OpenTime != nil
}

// HolidayTimeAllDay marks a holiday that closes the market for the whole day.
const HolidayTimeAllDay = "all day"

// HolidayTimeUnknown marks a holiday whose closing time failed to parse
// upstream. It is logged as an error and the default session is kept.
const HolidayTimeUnknown = "unknown time"

// HolidayEvent is one row of the external holiday calendar. TimeSpec is
// either HolidayTimeAllDay, an early-close time "HH:MM" in source-local
// time, or HolidayTimeUnknown.
type HolidayEvent struct {
	Date     string `json:"date"`
	Name     string `json:"holiday"`
	TimeSpec string `json:"time"`
}
