package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	plantstatedomain "github.com/smallbiznis/plantwatch/internal/plantstate/domain"
)

func parsePlantID(value string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, plantstatedomain.ErrInvalidPlant
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed <= 0 {
		return 0, plantstatedomain.ErrInvalidPlant
	}
	return parsed, nil
}
