package pff

import "github.com/libyal/go-pff/internal/format"

// Magic is the 4-byte container signature every PFF file begins with.
var Magic = format.Magic
