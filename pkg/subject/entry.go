package subject

import (
	"strings"
	"time"
)

const (
	// LogFileName is the per-subject journal inside each subject directory.
	LogFileName = "logging"

	// LogHeader is the first line of a journal created with its directory.
	LogHeader = "Subcode,Time,File,Address"

	// TimeLayout is the C asctime layout used in the Time column.
	TimeLayout = time.ANSIC
)

// Entry is one journal row: a stored upload slot.
type Entry struct {
	Subject string    `json:"subject"`
	Time    time.Time `json:"time"`
	File    string    `json:"file"`    // path relative to the storage root
	Address string    `json:"address"` // client IP, no port
}

func (e Entry) record() []string {
	return []string{e.Subject, e.Time.Format(TimeLayout), e.File, e.Address}
}

func parseRecord(rec []string) (Entry, bool) {
	if len(rec) < 4 {
		return Entry{}, false
	}
	e := Entry{Subject: rec[0], File: rec[2], Address: rec[3]}
	if t, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(rec[1]), time.Local); err == nil {
		e.Time = t
	}
	return e, true
}
