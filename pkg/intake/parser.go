package intake

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

func countWords(format string, data []byte) (int, error) {
	switch format {
	case ".pdf":
		return countPDFWords(data)
	case ".docx":
		return countZipXMLWords(data, "word/document.xml")
	case ".odt":
		return countZipXMLWords(data, "content.xml")
	case ".rtf":
		return countTextWords(stripRTF(string(data))), nil
	case ".doc":
		// Legacy binary Word; proper parsing is out of scope, so estimate
		// from the average bytes-per-word of prose documents.
		return int(len(data) / 6), nil
	default:
		return countTextWords(normalizeText(string(data))), nil
	}
}

func countPDFWords(data []byte) (int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	total := 0
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing the upload.
			continue
		}
		total += countTextWords(normalizeText(text))
	}
	if total == 0 {
		return 0, ErrUnreadable
	}
	return total, nil
}

func countZipXMLWords(data []byte, entry string) (int, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	for _, file := range reader.File {
		if file.Name != entry {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", entry, err)
		}
		text, err := extractXMLText(rc)
		rc.Close()
		if err != nil {
			return 0, err
		}
		count := countTextWords(normalizeText(text))
		if count == 0 {
			return 0, ErrUnreadable
		}
		return count, nil
	}
	return 0, ErrUnreadable
}

func extractXMLText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var buf strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.Write(t)
			buf.WriteByte(' ')
		case xml.EndElement:
			// Paragraph boundaries in OOXML and ODF.
			if t.Name.Local == "p" {
				buf.WriteByte(' ')
			}
		}
	}
	return buf.String(), nil
}

// stripRTF removes control words and group braces, leaving plain text.
func stripRTF(s string) string {
	var buf strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		switch c {
		case '{', '}':
			i++
		case '\\':
			i++
			// Escaped delimiter.
			if i < len(s) && (s[i] == '\\' || s[i] == '{' || s[i] == '}') {
				buf.WriteByte(s[i])
				i++
				continue
			}
			// Control word: letters, optional numeric parameter, optional space.
			for i < len(s) && ((s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z')) {
				i++
			}
			for i < len(s) && (s[i] == '-' || (s[i] >= '0' && s[i] <= '9')) {
				i++
			}
			if i < len(s) && s[i] == ' ' {
				i++
			}
			buf.WriteByte(' ')
		default:
			buf.WriteByte(c)
			i++
		}
	}
	return normalizeText(buf.String())
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	return strings.TrimSpace(text)
}

func countTextWords(text string) int {
	return len(strings.Fields(text))
}
