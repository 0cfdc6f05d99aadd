package experiment

// Summary condenses a trace into the figures operators ask about first.
type Summary struct {
	Iterations      int
	FinalMaxTemp    float64
	FinalPenalty    float64
	BestPenalty     float64
	BestIteration   int
	TotalViolations int
	Trend           Trend
}

// Summarize folds a trace into a Summary. An empty trace yields the zero
// Summary. Trend is empty until enough samples exist.
func Summarize(records []TraceRecord) Summary {
	if len(records) == 0 {
		return Summary{}
	}
	last := records[len(records)-1]
	s := Summary{
		Iterations:    len(records),
		FinalMaxTemp:  last.MaxTemp,
		FinalPenalty:  last.PenaltyScore,
		BestPenalty:   records[0].PenaltyScore,
		BestIteration: records[0].Index,
	}
	for _, rec := range records {
		s.TotalViolations += rec.NumViolations
		if rec.PenaltyScore < s.BestPenalty {
			s.BestPenalty = rec.PenaltyScore
			s.BestIteration = rec.Index
		}
	}
	if trend, ok := ClassifyTrend(MaxTemps(records)); ok {
		s.Trend = trend
	}
	return s
}
