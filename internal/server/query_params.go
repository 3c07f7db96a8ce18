package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/milkrun/internal/clock"
	"gorm.io/datatypes"
)

const dateOnlyLayout = "2006-01-02"

// parseIDParam reads a snowflake path parameter.
func parseIDParam(c *gin.Context, name string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || parsed <= 0 {
		return 0, newValidationError(name, "invalid_"+name, "invalid "+name)
	}
	return parsed, nil
}

// parseCivilDate reads a yyyy-mm-dd value as a civil date. An empty value
// returns fallback.
func parseCivilDate(field, value string, fallback datatypes.Date) (datatypes.Date, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback, nil
	}
	parsed, err := time.Parse(dateOnlyLayout, trimmed)
	if err != nil {
		return datatypes.Date{}, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return clock.Date(parsed.Year(), parsed.Month(), parsed.Day()), nil
}
