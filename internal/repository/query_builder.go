package repository

import (
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"
)

// schemaCache remembers the live column set per table, looked up once per
// process. The binary tolerates older on-disk schemas during upgrade by
// selecting only columns that actually exist.
type schemaCache struct {
	mu     sync.Mutex
	tables map[string]map[string]bool
}

var liveSchema = &schemaCache{tables: make(map[string]map[string]bool)}

// columns returns the live column set for a table, caching on first use.
func (c *schemaCache) columns(db *gorm.DB, table string) (map[string]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cols, ok := c.tables[table]; ok {
		return cols, nil
	}

	types, err := db.Migrator().ColumnTypes(table)
	if err != nil {
		return nil, fmt.Errorf("reading schema for table %s: %w", table, err)
	}
	cols := make(map[string]bool, len(types))
	for _, ct := range types {
		cols[strings.ToLower(ct.Name())] = true
	}
	c.tables[table] = cols
	return cols, nil
}

// reset clears the cache. Tests use it between schema rebuilds.
func (c *schemaCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = make(map[string]map[string]bool)
}

// ResetSchemaCache drops cached column sets, forcing a fresh lookup.
func ResetSchemaCache() {
	liveSchema.reset()
}

// SelectColumns filters wanted down to columns present in the live table
// schema. Columns listed in required must exist; a missing required
// column aborts query construction.
func SelectColumns(db *gorm.DB, table string, wanted, required []string) ([]string, error) {
	live, err := liveSchema.columns(db, table)
	if err != nil {
		return nil, err
	}

	for _, col := range required {
		if !live[strings.ToLower(col)] {
			return nil, fmt.Errorf("table %s is missing required column %s", table, col)
		}
	}

	selected := make([]string, 0, len(wanted))
	for _, col := range wanted {
		if live[strings.ToLower(col)] {
			selected = append(selected, col)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("table %s has none of the requested columns", table)
	}
	return selected, nil
}

// recordingSortFields is the allow-list for user-supplied sort fields.
var recordingSortFields = map[string]bool{
	"id":          true,
	"stream_name": true,
	"start_time":  true,
	"end_time":    true,
	"size_bytes":  true,
}

// defaultRecordingSort is applied when the requested sort is not allowed.
const defaultRecordingSort = "start_time DESC"

// SafeOrderClause builds an ORDER BY clause from user input, accepting
// only allow-listed fields and ASC/DESC. Anything else falls back to
// start_time DESC.
func SafeOrderClause(field, direction string) string {
	field = strings.ToLower(strings.TrimSpace(field))
	direction = strings.ToUpper(strings.TrimSpace(direction))

	if !recordingSortFields[field] {
		return defaultRecordingSort
	}
	if direction != "ASC" && direction != "DESC" {
		direction = "DESC"
	}
	return field + " " + direction
}
