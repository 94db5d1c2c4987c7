package normalizer

// Row is the normalization of one raw vendor value
type Row struct {
	Raw   string `json:"vendor_raw"`
	Clean string `json:"vendor_clean"`
	Result
}

// Stats summarizes a normalization pass
type Stats struct {
	Total        int `json:"row_count"`
	AliasMatches int `json:"alias_match_count"`
	Fallbacks    int `json:"fallback_count"`
	Missing      int `json:"missing_count"`
}

// NoMatch is the number of rows no alias rule matched
func (s Stats) NoMatch() int {
	return s.Total - s.AliasMatches
}

// NormalizeAll normalizes every raw value in order
func (n *Normalizer) NormalizeAll(raws []string) ([]Row, Stats) {
	rows := make([]Row, 0, len(raws))
	var stats Stats

	for _, raw := range raws {
		res := n.Normalize(raw)
		rows = append(rows, Row{Raw: raw, Clean: Clean(raw), Result: res})

		stats.Total++
		switch res.Method {
		case MethodAlias:
			stats.AliasMatches++
		case MethodFallback:
			stats.Fallbacks++
		default:
			stats.Missing++
		}
	}

	return rows, stats
}
