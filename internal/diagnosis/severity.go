package diagnosis

import (
	"strings"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// Normalize maps a free-form severity to the canonical scale. Unknown input
// resolves to LOW.
func Normalize(raw string) models.Severity {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CRITICAL", "SEV-1", "SEV1", "HIGH":
		return models.SeverityHigh
	case "MEDIUM", "MODERATE":
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
