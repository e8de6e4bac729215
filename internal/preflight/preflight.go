// Package preflight inspects statement files before they are uploaded.
//
// The backend verifies PDF passwords and parses statements itself; preflight
// only catches what is cheap to catch locally: unsupported formats, empty or
// unreadable files, and encrypted documents the user should expect to be
// asked about.
package preflight

import (
	"archive/zip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Kind is the detected statement format.
type Kind string

const (
	KindPDF         Kind = "pdf"
	KindZIP         Kind = "zip"
	KindSpreadsheet Kind = "spreadsheet"
)

// ErrUnsupported is returned for files the backend cannot parse.
var ErrUnsupported = errors.New("unsupported statement format")

var kindByExt = map[string]Kind{
	".pdf":  KindPDF,
	".zip":  KindZIP,
	".csv":  KindSpreadsheet,
	".xlsx": KindSpreadsheet,
	".xls":  KindSpreadsheet,
}

// Report describes one inspected file.
type Report struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	Size int64  `json:"size"`

	// Pages is the PDF page count; 0 when unknown or encrypted.
	Pages int `json:"pages,omitempty"`

	// Entries is the number of files in a ZIP archive.
	Entries int `json:"entries,omitempty"`

	// Encrypted is set for password-protected PDFs and ZIPs with encrypted
	// entries.
	Encrypted bool `json:"encrypted"`
}

// Summary describes the report in one line.
func (r Report) Summary() string {
	var parts []string
	switch r.Kind {
	case KindPDF:
		if r.Pages > 0 {
			parts = append(parts, fmt.Sprintf("%d pages", r.Pages))
		}
	case KindZIP:
		parts = append(parts, fmt.Sprintf("%d entries", r.Entries))
	}
	if r.Encrypted {
		parts = append(parts, "password protected")
	}
	parts = append(parts, HumanSize(r.Size))
	return strings.Join(parts, ", ")
}

// Inspect checks one statement file.
//
// Parameters:
//   - path: Path to the file
//
// Returns:
//   - Report: What was found
//   - error: ErrUnsupported, an empty file, or a file that cannot be read
func Inspect(path string) (Report, error) {
	kind, ok := kindByExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Report{}, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupported)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Report{}, err
	}
	if info.IsDir() {
		return Report{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return Report{}, fmt.Errorf("%s is empty", filepath.Base(path))
	}

	r := Report{Path: path, Name: filepath.Base(path), Kind: kind, Size: info.Size()}
	switch kind {
	case KindPDF:
		err = inspectPDF(&r)
	case KindZIP:
		err = inspectZIP(&r)
	}
	if err != nil {
		return Report{}, fmt.Errorf("%s: %w", r.Name, err)
	}
	return r, nil
}

// InspectAll inspects every path and stops at the first error.
func InspectAll(paths []string) ([]Report, error) {
	reports := make([]Report, 0, len(paths))
	for _, p := range paths {
		r, err := Inspect(p)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// inspectPDF reads the page count. A document that rejects the empty
// password is reported as encrypted.
func inspectPDF(r *Report) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("not a readable PDF: %v", p)
		}
	}()

	f, doc, openErr := pdf.Open(r.Path)
	if errors.Is(openErr, pdf.ErrInvalidPassword) {
		r.Encrypted = true
		return nil
	}
	if openErr != nil {
		return fmt.Errorf("not a readable PDF: %w", openErr)
	}
	defer f.Close()

	r.Pages = doc.NumPage()
	return nil
}

// inspectZIP counts entries and detects the traditional encryption flag.
func inspectZIP(r *Report) error {
	zr, err := zip.OpenReader(r.Path)
	if err != nil {
		return fmt.Errorf("not a readable ZIP: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		r.Entries++
		if f.Flags&0x1 != 0 {
			r.Encrypted = true
		}
	}
	if r.Entries == 0 {
		return errors.New("archive has no files")
	}
	return nil
}

// HumanSize formats a byte count with a binary unit.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}
