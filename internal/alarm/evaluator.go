package alarm

import "metricwatch/internal/models"

// Breached reports whether value crosses threshold in the comparator's
// direction. Equality never breaches and a nil value never breaches.
func Breached(value *models.Number, threshold models.Number, cmp models.Comparator) bool {
	if value == nil {
		return false
	}
	switch cmp {
	case models.GreaterThan:
		return value.Cmp(threshold) > 0
	case models.LessThan:
		return value.Cmp(threshold) < 0
	default:
		return false
	}
}
