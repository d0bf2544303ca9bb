package oref

import (
	"encoding/json"
	"fmt"
	"time"
)

// Israel is the zone alert timestamps are expressed in. The feeds serve
// local wall-clock times with no offset.
var Israel = loadIsrael()

func loadIsrael() *time.Location {
	loc, err := time.LoadLocation("Asia/Jerusalem")
	if err != nil {
		// Hosts without tzdata fall back to standard time year-round.
		return time.FixedZone("IST", 2*60*60)
	}
	return loc
}

const alertDateLayout = "2006-01-02 15:04:05"

// Alert is one alert for one area.
type Alert struct {
	Area     string    `json:"area"`
	Title    string    `json:"title"`
	Category int       `json:"category"`
	Date     time.Time `json:"date"`
}

// UnmarshalJSON decodes the history endpoint's row shape:
//
//	{"alertDate": "2023-10-07 06:33:00", "title": "...", "data": "<area>", "category": 1}
func (a *Alert) UnmarshalJSON(data []byte) error {
	var row struct {
		AlertDate string `json:"alertDate"`
		Title     string `json:"title"`
		Data      string `json:"data"`
		Category  int    `json:"category"`
	}
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	date, err := time.ParseInLocation(alertDateLayout, row.AlertDate, Israel)
	if err != nil {
		return fmt.Errorf("parse alertDate %q: %w", row.AlertDate, err)
	}
	a.Area = row.Data
	a.Title = row.Title
	a.Category = row.Category
	a.Date = date
	return nil
}

// RealTimeMessage is the currently-active alert broadcast, naming every
// affected area at once. The feed serves an empty body when nothing is
// active, and the category arrives as a quoted number.
type RealTimeMessage struct {
	ID          string   `json:"id"`
	Category    int      `json:"cat,string"`
	Title       string   `json:"title"`
	Areas       []string `json:"data"`
	Description string   `json:"desc"`
}
