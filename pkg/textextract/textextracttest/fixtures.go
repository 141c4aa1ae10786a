// Package textextracttest holds document fixtures shared by extraction tests.
package textextracttest

import "fmt"

// BrokenObjectPDF returns a PDF whose xref and trailer are well formed but
// whose root object is not a PDF object. ledongthuc/pdf panics resolving it.
func BrokenObjectPDF() []byte {
	header := "%PDF-1.4\n"
	body := "this is not an object at all\n"
	xref := fmt.Sprintf("xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", len(header))
	trailer := fmt.Sprintf("trailer\n<< /Size 2 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(header)+len(body))
	return []byte(header + body + xref + trailer)
}
