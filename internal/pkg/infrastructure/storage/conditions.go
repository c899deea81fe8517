package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
)

type ConditionFunc func(*Condition) *Condition

type Condition struct {
	ReadingID string
	DeviceID  string
	Source    string
	Status    string

	Tenant  string
	Tenants []string

	NotObservedSince time.Time
	TimeAt           time.Time
	EndTimeAt        time.Time

	Bounds *Box

	sortBy    string
	sortOrder string

	offset *int
	limit  *int
}

type Box struct {
	MinX float64 // west
	MaxX float64 // east
	MinY float64 // south
	MaxY float64 // north
}

func (c Condition) NamedArgs() pgx.NamedArgs {
	args := pgx.NamedArgs{}

	if c.ReadingID != "" {
		args["reading_id"] = c.ReadingID
	}
	if c.DeviceID != "" {
		args["device_id"] = c.DeviceID
	}
	if c.Source != "" {
		args["source"] = c.Source
	}
	if c.Status != "" {
		args["status"] = c.Status
	}
	if c.Tenant != "" {
		args["tenant"] = c.Tenant
	}
	if c.Tenants != nil {
		args["tenants"] = c.Tenants
	}
	if !c.NotObservedSince.IsZero() {
		args["not_observed_since"] = c.NotObservedSince.UTC()
	}
	if !c.TimeAt.IsZero() {
		args["time_at"] = c.TimeAt.UTC()
	}
	if !c.EndTimeAt.IsZero() {
		args["end_time_at"] = c.EndTimeAt.UTC()
	}
	if c.offset != nil {
		args["offset"] = *c.offset
	}
	if c.limit != nil {
		args["limit"] = *c.limit
	}

	return args
}

func (c Condition) Where() string {
	where := []string{}

	if c.ReadingID != "" {
		where = append(where, "reading_id = @reading_id")
	}
	if c.DeviceID != "" {
		where = append(where, "device_id = @device_id")
	}
	if c.Source != "" {
		where = append(where, "source = @source")
	}
	if c.Status != "" {
		where = append(where, "status = @status")
	}

	if len(c.Tenant) > 0 {
		where = append(where, "tenant = @tenant")
	} else if len(c.Tenants) > 0 {
		where = append(where, "tenant = ANY(@tenants)")
	}

	if !c.NotObservedSince.IsZero() {
		where = append(where, "last_seen < @not_observed_since")
	}

	if !c.TimeAt.IsZero() && !c.EndTimeAt.IsZero() {
		where = append(where, "ts >= @time_at AND ts <= @end_time_at")
	} else if !c.TimeAt.IsZero() {
		where = append(where, "ts >= @time_at")
	} else if !c.EndTimeAt.IsZero() {
		where = append(where, "ts <= @end_time_at")
	}

	if c.Bounds != nil {
		where = append(where, fmt.Sprintf("location <@ BOX '((%f,%f),(%f,%f))'", c.Bounds.MinX, c.Bounds.MinY, c.Bounds.MaxX, c.Bounds.MaxY))
	}

	if len(where) == 0 {
		return ""
	}

	return "WHERE " + strings.Join(where, " AND ")
}

func (c Condition) OrderBy() string {
	if c.sortBy == "" {
		return ""
	}

	orderBy := fmt.Sprintf("ORDER BY %s ", c.sortBy)
	if c.sortOrder != "" {
		orderBy += c.sortOrder
	} else {
		orderBy += "ASC"
	}

	return orderBy
}

func (c Condition) OffsetLimit() (string, int, int) {
	offsetLimit := ""
	offset := 0
	limit := 0

	if c.offset != nil {
		offsetLimit += "OFFSET @offset "
		offset = *c.offset
	}
	if c.limit != nil {
		offsetLimit += "LIMIT @limit "
		limit = *c.limit
	}

	return offsetLimit, offset, limit
}

func WithReadingID(readingID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.ReadingID = readingID
		return c
	}
}

func WithDeviceID(deviceID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.DeviceID = deviceID
		return c
	}
}

func WithSource(source string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Source = source
		return c
	}
}

func WithStatus(status string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Status = status
		return c
	}
}

func WithTenant(tenant string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Tenants = lo.Uniq(append(c.Tenants, tenant))
		c.Tenant = tenant
		return c
	}
}

func WithTenants(tenants []string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Tenants = lo.Uniq(tenants)
		return c
	}
}

// WithNotObservedSince matches devices whose last contact predates ts.
func WithNotObservedSince(ts time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		c.NotObservedSince = ts
		return c
	}
}

func WithTimeAt(ts time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		c.TimeAt = ts
		return c
	}
}

func WithEndTimeAt(ts time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		c.EndTimeAt = ts
		return c
	}
}

func WithBounds(north, south, east, west float64) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Bounds = &Box{MinX: west, MaxX: east, MinY: south, MaxY: north}
		return c
	}
}

func WithSortBy(sortBy string) ConditionFunc {
	return func(c *Condition) *Condition {
		switch strings.ToLower(sortBy) {
		case "ts":
			fallthrough
		case "timestamp":
			c.sortBy = "ts"
		case "score":
			c.sortBy = "score"
		case "device_id":
			c.sortBy = "device_id"
		case "last_seen":
			c.sortBy = "last_seen"
		}
		return c
	}
}

func WithSortDesc(desc bool) ConditionFunc {
	return func(c *Condition) *Condition {
		if desc {
			c.sortOrder = "DESC"
		} else {
			c.sortOrder = "ASC"
		}
		return c
	}
}

func WithOffset(offset int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.offset = &offset
		return c
	}
}

func WithLimit(limit int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.limit = &limit
		return c
	}
}
