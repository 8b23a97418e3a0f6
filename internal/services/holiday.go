package services

import (
	"strings"
	"time"

	"github.com/6tail/lunar-go/HolidayUtil"
	"github.com/6tail/lunar-go/calendar"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/at"
	"github.com/rickar/cal/v2/be"
	"github.com/rickar/cal/v2/ch"
	"github.com/rickar/cal/v2/de"
	"github.com/rickar/cal/v2/dk"
	"github.com/rickar/cal/v2/fr"
	"github.com/rickar/cal/v2/gb"
	"github.com/rickar/cal/v2/it"
	"github.com/rickar/cal/v2/nl"
	"github.com/rickar/cal/v2/pl"
	"github.com/rickar/cal/v2/se"
	"github.com/rickar/cal/v2/us"
)

// countryHolidays are the public holiday sets a schedule can skip.
var countryHolidays = map[string][]*cal.Holiday{
	"AT": at.Holidays,
	"BE": be.Holidays,
	"CH": ch.Holidays,
	"DE": de.Holidays,
	"DK": dk.Holidays,
	"FR": fr.Holidays,
	"GB": gb.Holidays,
	"IT": it.Holidays,
	"NL": nl.Holidays,
	"PL": pl.Holidays,
	"SE": se.Holidays,
	"US": us.Holidays,
}

// HolidayCalendar decides whether a scheduled sync runs on a given day.
type HolidayCalendar struct {
	country  string
	business *cal.BusinessCalendar
}

// NewHolidayCalendar builds the calendar for an ISO country code. "CN" uses
// the official adjusted workdays, "NONE" or an unknown code means weekends
// only.
func NewHolidayCalendar(country string) *HolidayCalendar {
	country = strings.ToUpper(strings.TrimSpace(country))
	c := &HolidayCalendar{country: country}
	if holidays, ok := countryHolidays[country]; ok {
		c.business = cal.NewBusinessCalendar()
		c.business.Name = country
		c.business.AddHoliday(holidays...)
	}
	return c
}

func (c *HolidayCalendar) IsWorkday(t time.Time) bool {
	if c.country == "CN" {
		return isWorkdayChina(t)
	}
	if c.business == nil {
		return !cal.IsWeekend(t)
	}
	return c.business.IsWorkday(t)
}

func isWorkdayChina(t time.Time) bool {
	solar := calendar.NewSolarFromDate(t)
	if holiday := HolidayUtil.GetHolidayByYmd(solar.GetYear(), solar.GetMonth(), solar.GetDay()); holiday != nil {
		return holiday.IsWork()
	}
	weekday := t.Weekday()
	return weekday != time.Saturday && weekday != time.Sunday
}

// SupportedCountries lists the codes NewHolidayCalendar knows besides NONE.
func SupportedCountries() []string {
	codes := []string{"CN"}
	for code := range countryHolidays {
		codes = append(codes, code)
	}
	return codes
}
