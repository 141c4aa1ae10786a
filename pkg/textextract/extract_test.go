package textextract

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/nikhilbhutani/docingest/pkg/textextract/textextracttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromFilename(t *testing.T) {
	cases := map[string]Kind{
		"report.pdf":  KindPDF,
		"REPORT.PDF":  KindPDF,
		"notes.txt":   KindText,
		"letter.docx": KindWord,
		"legacy.doc":  KindWord,
	}
	for name, want := range cases {
		got, ok := KindFromFilename(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	for _, name := range []string{"image.png", "archive.zip", "noext", ""} {
		_, ok := KindFromFilename(name)
		assert.False(t, ok, name)
	}
}

func TestExtract_PlainText(t *testing.T) {
	data := []byte("\xef\xbb\xbf  First line.\nSecond line.  \n")
	out, err := Extract(bytes.NewReader(data), int64(len(data)), KindText)
	require.NoError(t, err)
	assert.Equal(t, "First line.\nSecond line.", out.Content)
	assert.Equal(t, "plain-text", out.Metadata["type"])
}

func TestExtract_PlainTextInvalidUTF8(t *testing.T) {
	data := []byte{0xff, 0xfe, 0xfd}
	_, err := Extract(bytes.NewReader(data), int64(len(data)), KindText)
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestExtract_Word(t *testing.T) {
	data := buildDocx(t, `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second</w:t><w:tab/><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	out, err := Extract(bytes.NewReader(data), int64(len(data)), KindWord)
	require.NoError(t, err)
	assert.Contains(t, out.Content, "Hello world.")
	assert.Contains(t, out.Content, "Second")
	assert.Contains(t, out.Content, "paragraph.")
	assert.NotContains(t, out.Content, "w:t", "markup is stripped")
	assert.Equal(t, "word-document", out.Metadata["type"])
}

func TestExtract_WordWithoutBody(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte("<styles/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Extract(bytes.NewReader(buf.Bytes()), int64(buf.Len()), KindWord)
	assert.ErrorIs(t, err, ErrNoDocumentBody)
}

func TestExtract_LegacyDocIsRejected(t *testing.T) {
	data := []byte("\xd0\xcf\x11\xe0 not a zip container")
	_, err := Extract(bytes.NewReader(data), int64(len(data)), KindWord)
	assert.Error(t, err)
}

func TestExtract_CorruptPDF(t *testing.T) {
	data := []byte("%PDF-1.4 truncated")
	_, err := Extract(bytes.NewReader(data), int64(len(data)), KindPDF)
	assert.Error(t, err)
}

func TestExtract_BrokenObjectGraphIsMalformed(t *testing.T) {
	data := textextracttest.BrokenObjectPDF()
	var (
		out *ExtractedText
		err error
	)
	require.NotPanics(t, func() {
		out, err = Extract(bytes.NewReader(data), int64(len(data)), KindPDF)
	})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestExtract_SizeLimitPerKind(t *testing.T) {
	for _, kind := range []Kind{KindPDF, KindWord, KindText} {
		limit := MaxSize(kind)
		require.Positive(t, limit, kind)
		_, err := Extract(bytes.NewReader(nil), limit+1, kind)
		assert.ErrorIs(t, err, ErrTooLarge, kind)
	}
	assert.Zero(t, MaxSize(Kind("spreadsheet")))
}

func TestExtract_WordBodyInflationLimit(t *testing.T) {
	prev := maxDocumentXML
	maxDocumentXML = 1 << 20
	t.Cleanup(func() { maxDocumentXML = prev })

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "word/document.xml", Method: zip.Deflate})
	require.NoError(t, err)
	chunk := bytes.Repeat([]byte("<w:p/>"), 1<<16)
	for written := int64(0); written <= maxDocumentXML; written += int64(len(chunk)) {
		_, err = w.Write(chunk)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	_, err = Extract(bytes.NewReader(buf.Bytes()), int64(buf.Len()), KindWord)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestExtract_UnknownKind(t *testing.T) {
	_, err := Extract(bytes.NewReader(nil), 0, Kind("spreadsheet"))
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

// buildDocx packages documentXML as a minimal Word file.
func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"[Content_Types].xml": contentTypesXML,
		"word/document.xml":   documentXML,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
