package classify

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// xlsxSheet mirrors the parts of a worksheet the row extraction needs.
type xlsxSheet struct {
	Rows []xlsxRow `xml:"sheetData>row"`
}

type xlsxRow struct {
	Cells []xlsxCell `xml:"c"`
}

type xlsxCell struct {
	Type   string   `xml:"t,attr"`
	Value  string   `xml:"v"`
	Inline xlsxText `xml:"is"`
}

// xlsxText holds either a plain <t> or rich-text <r><t> runs.
type xlsxText struct {
	Plain string   `xml:"t"`
	Runs  []string `xml:"r>t"`
}

func (t xlsxText) text() string {
	if t.Plain != "" {
		return t.Plain
	}
	return strings.Join(t.Runs, "")
}

type xlsxShared struct {
	Items []xlsxText `xml:"si"`
}

// xlsxRows extracts the first n rows of the first worksheet as
// tab-separated text, resolving shared and inline strings. Formatting,
// formulas and additional sheets are ignored.
func xlsxRows(path string, n int) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = r.Close() }()

	shared, err := loadSharedStrings(&r.Reader)
	if err != nil {
		return "", err
	}
	sheetFile := firstWorksheet(&r.Reader)
	if sheetFile == nil {
		return "", fmt.Errorf("xlsx without worksheet")
	}

	rc, err := sheetFile.Open()
	if err != nil {
		return "", fmt.Errorf("open worksheet: %w", err)
	}
	defer func() { _ = rc.Close() }()

	var sheet xlsxSheet
	if err := xml.NewDecoder(rc).Decode(&sheet); err != nil {
		return "", fmt.Errorf("parse worksheet: %w", err)
	}

	var b strings.Builder
	for i, row := range sheet.Rows {
		if i >= n {
			break
		}
		cells := make([]string, 0, len(row.Cells))
		for _, c := range row.Cells {
			cells = append(cells, c.text(shared))
		}
		b.WriteString(strings.Join(cells, "\t"))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (c xlsxCell) text(shared []string) string {
	switch c.Type {
	case "s":
		i, err := strconv.Atoi(c.Value)
		if err != nil || i < 0 || i >= len(shared) {
			return ""
		}
		return shared[i]
	case "inlineStr":
		return c.Inline.text()
	default:
		return c.Value
	}
}

func loadSharedStrings(r *zip.Reader) ([]string, error) {
	for _, f := range r.File {
		if f.Name != "xl/sharedStrings.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open shared strings: %w", err)
		}
		defer func() { _ = rc.Close() }()

		var sst xlsxShared
		if err := xml.NewDecoder(rc).Decode(&sst); err != nil {
			return nil, fmt.Errorf("parse shared strings: %w", err)
		}
		out := make([]string, len(sst.Items))
		for i, item := range sst.Items {
			out[i] = item.text()
		}
		return out, nil
	}
	// No shared strings part is legal; all cells are then inline or numeric.
	return nil, nil
}

// firstWorksheet prefers sheet1.xml and otherwise the alphabetically first
// worksheet part.
func firstWorksheet(r *zip.Reader) *zip.File {
	var candidates []*zip.File
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/") && strings.HasSuffix(f.Name, ".xml") {
			if f.Name == "xl/worksheets/sheet1.xml" {
				return f
			}
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	return candidates[0]
}
