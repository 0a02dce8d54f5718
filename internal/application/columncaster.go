package application

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultDateTimeFormat is the upstream-side format applied to OLE datetime
// casts when the caller does not request one.
const DefaultDateTimeFormat = "yyyy-MM-dd HH:mm:ss"

// oleEpoch is the OLE-automation date epoch: 1899-12-30T00:00:00Z. Integer
// part of an OLE value counts whole days since this instant; the fractional
// part is the fraction of a 24-hour day.
var oleEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// columnClass classifies upstream date columns for SQL generation.
type columnClass int

const (
	classPlain columnClass = iota // unregistered or non-temporal
	classDate                     // native date column, no cast needed
	classOLEDateTime              // float-encoded OLE datetime, cast required
)

// dateColumnRegistry is the static field registry: bare upstream column name
// to classification. Loaded once; lookups are pure.
var dateColumnRegistry = map[string]columnClass{
	"Audit_Date":     classOLEDateTime,
	"Date_Uploaded":  classOLEDateTime,
	"Completed_Date": classOLEDateTime,
	"Last_Modified":  classOLEDateTime,
	"Created_Date":   classDate,
	"Work_Date":      classDate,
}

// ColumnCaster rewrites date-column references in generated upstream SQL.
// The upstream stores several datetime columns as OLE-automation floats; to
// get readable values back those columns must be cast and formatted on the
// upstream side.
type ColumnCaster struct {
	timeZone string
}

// NewColumnCaster creates a caster targeting the given upstream time zone
// name (a SQL Server zone identifier, e.g. "Eastern Standard Time").
func NewColumnCaster(timeZone string) *ColumnCaster {
	return &ColumnCaster{timeZone: timeZone}
}

// Cast returns the SQL fragment selecting the column. A possibly
// table-qualified reference is stripped to its bare name for registry lookup;
// OLE-encoded datetime columns are cast to native datetimes, shifted from UTC
// into the target zone, and formatted (format defaults to
// DefaultDateTimeFormat when empty). Plain date and unregistered columns are
// returned unchanged.
func (c *ColumnCaster) Cast(columnRef, format string) string {
	bare := columnRef
	if i := strings.LastIndex(columnRef, "."); i >= 0 {
		bare = columnRef[i+1:]
	}

	if dateColumnRegistry[bare] != classOLEDateTime {
		return columnRef
	}

	if format == "" {
		format = DefaultDateTimeFormat
	}

	return fmt.Sprintf(
		"FORMAT(CAST(%s AS DATETIME) AT TIME ZONE 'UTC' AT TIME ZONE '%s', '%s')",
		columnRef, c.timeZone, format,
	)
}

// OLEDateToTime decodes an OLE-automation float into an absolute UTC
// timestamp. The integer part counts whole days since 1899-12-30; the
// fractional part is the fraction of a 24-hour day, rounded to the nearest
// second. The conversion is exact to the second.
func OLEDateToTime(value float64) time.Time {
	days := math.Floor(value)
	seconds := math.Round((value - days) * 86400)
	return oleEpoch.Add(time.Duration(days)*24*time.Hour + time.Duration(seconds)*time.Second)
}
