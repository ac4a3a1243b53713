package facegate

// relativeBBox converts pixel bbox [x1, y1, x2, y2] to relative (0-1) coordinates.
func relativeBBox(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return bbox
	}
	return []float64{
		bbox[0] / float64(width),
		bbox[1] / float64(height),
		bbox[2] / float64(width),
		bbox[3] / float64(height),
	}
}

// relativeWidth returns the bbox width as a fraction of the frame width.
func relativeWidth(bbox []float64, width, height int) float64 {
	rel := relativeBBox(bbox, width, height)
	if len(rel) != 4 {
		return 0
	}
	return rel[2] - rel[0]
}
