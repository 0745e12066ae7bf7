package knowledge

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/ddx/ddx/internal/domain/terminology"
)

// LoadFile reads raw knowledge-base rows from path, dispatching on the file
// extension. Supported formats: .xlsx, .csv, .yaml and .yml.
func LoadFile(path string) ([]ProfileRow, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return LoadXLSX(path)
	case ".csv":
		return LoadCSV(path)
	case ".yaml", ".yml":
		return LoadYAML(path)
	default:
		return nil, &KnowledgeBaseError{Source: path, Reason: "unsupported knowledge base format"}
	}
}

// LoadXLSX reads rows from the first sheet of an Excel workbook. The sheet
// carries one disease per row: column A is the disease concept, column B a
// comma-separated list of expected findings. A leading header row is
// detected and skipped.
func LoadXLSX(path string) ([]ProfileRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &KnowledgeBaseError{Source: path, Reason: "open workbook", Err: err}
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	cells, err := f.GetRows(sheet)
	if err != nil {
		return nil, &KnowledgeBaseError{Source: path, Reason: "read sheet " + sheet, Err: err}
	}

	var rows []ProfileRow
	for i, record := range cells {
		if i == 0 && isHeader(record) {
			continue
		}
		if row, ok := parseRecord(record); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// LoadCSV reads rows from a comma-separated file with the same two-column
// contract as LoadXLSX. Finding cells are quoted since they contain commas.
func LoadCSV(path string) ([]ProfileRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &KnowledgeBaseError{Source: path, Reason: "open file", Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows []ProfileRow
	for i := 0; ; i++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &KnowledgeBaseError{Source: path, Row: i + 1, Reason: "read record", Err: err}
		}
		if i == 0 && isHeader(record) {
			continue
		}
		if row, ok := parseRecord(record); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// yamlProfile is the on-disk shape of one disease in a YAML knowledge base.
type yamlProfile struct {
	Disease  string   `yaml:"disease"`
	Findings []string `yaml:"findings"`
}

type yamlKnowledgeBase struct {
	Diseases []yamlProfile `yaml:"diseases"`
}

// LoadYAML reads rows from a hand-editable YAML knowledge base:
//
//	diseases:
//	  - disease: "UMLS:C0027051_myocardial infarction"
//	    findings:
//	      - "UMLS:C0034642_rale"
func LoadYAML(path string) ([]ProfileRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &KnowledgeBaseError{Source: path, Reason: "open file", Err: err}
	}

	var doc yamlKnowledgeBase
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &KnowledgeBaseError{Source: path, Reason: "parse yaml", Err: err}
	}

	var rows []ProfileRow
	for _, p := range doc.Diseases {
		record := append([]string{p.Disease}, p.Findings...)
		if row, ok := parseRecord(record); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// isHeader reports whether a first record looks like a column header rather
// than data.
func isHeader(record []string) bool {
	return len(record) > 0 && terminology.NormalizeLabel(record[0]) == "disease"
}

// parseRecord turns one raw record into a ProfileRow. The first cell is the
// disease; every following cell holds one or more comma-separated finding
// concepts. Fully blank records are dropped and reported as not ok.
func parseRecord(record []string) (ProfileRow, bool) {
	if len(record) == 0 {
		return ProfileRow{}, false
	}

	row := ProfileRow{Disease: terminology.ParseUMLS(record[0])}
	for _, cell := range record[1:] {
		for _, part := range strings.Split(cell, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			row.Findings = append(row.Findings, terminology.ParseUMLS(part))
		}
	}

	if row.Disease.Code == "" && row.Disease.Label == "" && len(row.Findings) == 0 {
		return ProfileRow{}, false
	}
	return row, true
}
