// Package codepage validates the numeric ASCII codepage id an engine is
// configured with. The store engine never decodes strings itself; that is
// a MAPI property-table decoder's job. This package only validates and
// names a codepage id for such a consumer, rather than resolving it to an
// actual text encoding.
package codepage

import "fmt"

// ID is a numeric ASCII codepage identifier.
type ID int

// valid enumerates every codepage id SetASCIICodepage accepts.
var valid = map[ID]string{
	20127: "us-ascii",
	28591: "iso-8859-1", 28592: "iso-8859-2", 28593: "iso-8859-3",
	28594: "iso-8859-4", 28595: "iso-8859-5", 28596: "iso-8859-6",
	28597: "iso-8859-7", 28598: "iso-8859-8", 28599: "iso-8859-9",
	28600: "iso-8859-10", 28601: "iso-8859-11", 28603: "iso-8859-13",
	28604: "iso-8859-14", 28605: "iso-8859-15", 28606: "iso-8859-16",
	20866: "koi8-r", 21866: "koi8-u",
	874: "windows-874", 932: "shift-jis", 936: "gbk", 949: "uhc", 950: "big5",
	1250: "windows-1250", 1251: "windows-1251", 1252: "windows-1252",
	1253: "windows-1253", 1254: "windows-1254", 1255: "windows-1255",
	1256: "windows-1256", 1257: "windows-1257", 1258: "windows-1258",
}

// Validate reports whether id is one of the recognized codepage
// identifiers, returning its conventional name.
func Validate(id ID) (name string, ok bool) {
	name, ok = valid[id]
	return name, ok
}

// ErrUnknownCodepage is returned by an engine's SetASCIICodepage when id is
// not in the recognized set.
type ErrUnknownCodepage ID

func (e ErrUnknownCodepage) Error() string {
	return fmt.Sprintf("unrecognized ascii codepage id %d", int(e))
}
