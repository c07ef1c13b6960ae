package bypass

// Eligible reports whether a cell at cellMV should bypass under thresholdMV.
// A zero threshold disables balancing and a zero voltage means no sample has
// been taken yet.
func Eligible(cellMV, thresholdMV uint16) bool {
	if thresholdMV == 0 || cellMV == 0 {
		return false
	}
	return cellMV > thresholdMV
}
