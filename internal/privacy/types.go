package privacy

// Finding represents a detection result
type Finding struct {
	EntityType string `json:"entityType"`
	Masked     string `json:"masked"`
	Count      int    `json:"count"`
	Positions  []int  `json:"positions,omitempty"` // zero-based line numbers
}

// MaskResult contains the result of sanitizing text
type MaskResult struct {
	MaskedText string    `json:"maskedText"`
	Findings   []Finding `json:"findings"`
	Original   string    `json:"-"` // Never serialize original text
}

// TotalMasked returns the number of replaced values across all findings.
func (r *MaskResult) TotalMasked() int {
	total := 0
	for _, f := range r.Findings {
		total += f.Count
	}
	return total
}

// RestoreResult contains the result of restoring masked text
type RestoreResult struct {
	Text       string `json:"text"`
	Restored   int    `json:"restored"`
	Unresolved int    `json:"unresolved"`
}
