package models

// Measurement is one row of an estimation result: the area of a single
// leaf, or the combined area of every leaf in a scan
type Measurement struct {
	// Filename is the path of the scan the measurement came from
	Filename string

	// Component is the label of the leaf within its scan, in row-major order
	// of first appearance. It is 0 for a combined measurement.
	Component int

	// Pixels is the number of leaf pixels that were counted
	Pixels int

	// Area is the leaf area in cm²
	Area float64
}

// Combined reports whether m sums every leaf of its scan
func (m Measurement) Combined() bool {
	return m.Component == 0
}

// Result is the outcome of estimating one scan
type Result struct {
	// Filename is the path of the scan
	Filename string

	// Resolution is the DPI used for the pixel to area conversion
	Resolution float64

	// Threshold is the intensity below which pixels were classified as leaf
	Threshold int

	// MaskPath is where the binary mask was written, if it was
	MaskPath string

	// LabelsPath is where the coloured view of the measured leaves was written, if it was
	LabelsPath string

	// Measurements holds one row when areas were combined, otherwise one
	// row per leaf that survived the size cut-off
	Measurements []Measurement

	// Err is set when the scan failed in a batch that continues on error
	Err error
}

// TotalArea sums the areas of all measurements in r
func (r *Result) TotalArea() float64 {
	total := 0.0
	for _, m := range r.Measurements {
		total += m.Area
	}
	return total
}

// Failed reports whether r carries an error instead of measurements
func (r *Result) Failed() bool {
	return r.Err != nil
}
