// Package fieldmap turns extracted table rows into project records.
//
// Header labels are looked up in a synonym dictionary that names either a
// scalar field or one of three composite cells. Scalar values are cast to
// decimals or dates, composite cells are split on their a) b) c) d) markers,
// and columns with no known meaning are kept as additional data under their
// original header text.
package fieldmap
