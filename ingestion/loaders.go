package ingestion

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// Document is one loaded source file, ready for splitting.
type Document struct {
	Path  string
	Title string
	Text  string
}

// loadDocuments walks root and parses every supported file. Files that fail
// to parse are skipped and counted rather than failing the run; an
// unreadable root is a hard load failure.
func loadDocuments(root string) ([]Document, int, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, 0, fmt.Errorf("source path: %w", err)
	}

	paths := make([]string, 0)
	if !info.IsDir() {
		paths = append(paths, root)
		root = filepath.Dir(root)
	} else {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			if supportedExtension(d.Name()) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, 0, fmt.Errorf("walk source directory: %w", err)
		}
	}

	docs := make([]Document, 0, len(paths))
	skipped := 0
	for _, path := range paths {
		doc, err := loadDocument(root, path)
		if err != nil {
			skipped++
			continue
		}
		docs = append(docs, doc)
	}

	return docs, skipped, nil
}

func supportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown", ".txt", ".pdf", ".csv":
		return true
	}
	return false
}

func loadDocument(root, path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read file: %w", err)
	}

	relPath, relErr := filepath.Rel(root, path)
	if relErr != nil {
		relPath = path
	}
	relPath = filepath.ToSlash(relPath)

	var (
		text  string
		title string
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		text = normalizePlainText(string(data))
		title = ExtractTitle(text, filepath.Base(path))
	case ".txt":
		text = normalizePlainText(string(data))
		title = firstNonEmptyLine(text)
		if title == "" {
			title = filepath.Base(path)
		}
	case ".pdf":
		text, err = extractPDFText(data)
		if err != nil {
			return Document{}, err
		}
		title = firstNonEmptyLine(text)
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
	case ".csv":
		text, err = flattenCSV(data)
		if err != nil {
			return Document{}, err
		}
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	default:
		return Document{}, fmt.Errorf("unsupported file type: %s", path)
	}

	if strings.TrimSpace(text) == "" {
		return Document{}, fmt.Errorf("document %s is empty", relPath)
	}

	return Document{Path: relPath, Title: title, Text: text}, nil
}

func extractPDFText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	plain, err := doc.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	return normalizePlainText(buf.String()), nil
}

// flattenCSV renders each row as a "header: value" paragraph so row
// boundaries line up with the splitter's paragraph preference.
func flattenCSV(data []byte) (string, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	headers := records[0]
	builder := &strings.Builder{}
	for idx, row := range records[1:] {
		if idx > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(formatCSVRow(headers, row, idx))
	}
	return builder.String(), nil
}

func formatCSVRow(headers, row []string, idx int) string {
	builder := &strings.Builder{}
	builder.WriteString(fmt.Sprintf("Row %d", idx+1))

	limit := len(headers)
	if len(row) < limit {
		limit = len(row)
	}

	for i := 0; i < limit; i++ {
		header := strings.TrimSpace(headers[i])
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		builder.WriteString("\n")
		builder.WriteString(header)
		builder.WriteString(": ")
		builder.WriteString(strings.TrimSpace(row[i]))
	}

	for i := len(headers); i < len(row); i++ {
		builder.WriteString("\n")
		builder.WriteString(fmt.Sprintf("Extra %d: %s", i+1, strings.TrimSpace(row[i])))
	}

	return builder.String()
}

func ExtractTitle(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return fallback
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func firstNonEmptyLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
