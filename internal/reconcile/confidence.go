package reconcile

import "math"

// AggregateConfidence is the mean of the per-field confidences of fields that received a value.
// Every field weighs the same, so a field won by a weak page pulls the aggregate down by itself.
func AggregateConfidence(fieldConf map[string]float64) float64 {
	if len(fieldConf) == 0 {
		return 0
	}
	var sum float64
	n := 0
	for _, rule := range FieldTable {
		c, ok := fieldConf[rule.Name]
		if !ok {
			continue
		}
		sum += c
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*100) / 100
}
