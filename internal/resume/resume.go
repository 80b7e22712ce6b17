// Package resume extracts plain text from uploaded résumé files.
package resume

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spigell/mock-interviewer/internal/interview"
)

// MaxFileSize is the largest accepted upload.
const MaxFileSize = 5 << 20

var (
	ErrUnsupportedFormat = errors.New("resume: unsupported file format")
	ErrCorrupt           = errors.New("resume: file content does not match its format")
	ErrTooLarge          = errors.New("resume: file is larger than 5 MiB")
	ErrEmpty             = errors.New("resume: no text could be extracted")
	ErrTooShort          = errors.New("resume: text is too short")
)

// Extensions lists the accepted file extensions.
var Extensions = []string{".pdf", ".docx", ".md", ".txt"}

type Document struct {
	Text     string `json:"text"`
	FileName string `json:"fileName"`
}

// Parse extracts the text of a résumé. The format is chosen by the file
// extension and checked against the content.
func Parse(data []byte, fileName string) (*Document, error) {
	if len(data) > MaxFileSize {
		return nil, ErrTooLarge
	}

	var (
		text string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".txt":
		text, err = plainText(data)
	case ".md", ".markdown":
		text, err = markdownText(data)
	case ".pdf":
		text, err = pdfText(data)
	case ".docx":
		text, err = docxText(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmpty
	}
	if utf8.RuneCountInString(text) < interview.MinTextLength {
		return nil, ErrTooShort
	}
	return &Document{Text: text, FileName: filepath.Base(fileName)}, nil
}

func plainText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", ErrCorrupt)
	}
	return string(data), nil
}
