package knowledge

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ddx/ddx/internal/domain/terminology"
)

// demoProfiles is a small starter knowledge base drawn from a symptom-disease
// association corpus, in the same cell format the loaders accept.
var demoProfiles = []struct {
	disease  string
	findings string
}{
	{
		"UMLS:C0027051_myocardial infarction",
		"UMLS:C0008031_pain chest, UMLS:C0034642_rale, UMLS:C0030252_palpitation, UMLS:C0039070_syncope, UMLS:C0392680_shortness of breath, UMLS:C0700590_sweating increased",
	},
	{
		"UMLS:C0002395_alzheimer's disease",
		"UMLS:C0085631_agitation, UMLS:C0013132_drool, UMLS:C0871754_frail, UMLS:C0040822_tremor, UMLS:C0917801_sleeplessness, UMLS:C0344315_mood depressed",
	},
	{
		"UMLS:C0020538_hypertensive disease",
		"UMLS:C0008031_pain chest, UMLS:C0392680_shortness of breath, UMLS:C0012833_dizziness, UMLS:C0004093_asthenia, UMLS:C0000921_fall, UMLS:C0039070_syncope, UMLS:C0042571_vertigo, UMLS:C0700590_sweating increased, UMLS:C0030252_palpitation, UMLS:C0027497_nausea",
	},
	{
		"UMLS:C0011849_diabetes",
		"UMLS:C0032617_polyuria, UMLS:C0085602_polydypsia, UMLS:C0392680_shortness of breath, UMLS:C0008031_pain chest, UMLS:C0004093_asthenia, UMLS:C0027497_nausea, UMLS:C0085619_orthopnea, UMLS:C0034642_rale, UMLS:C0700590_sweating increased, UMLS:C0041657_unresponsiveness, UMLS:C0856054_mental status changes, UMLS:C0042571_vertigo, UMLS:C0042963_vomiting",
	},
	{
		"UMLS:C0010054_coronary arteriosclerosis",
		"UMLS:C0008031_pain chest, UMLS:C0002962_angina pectoris, UMLS:C0392680_shortness of breath, UMLS:C0086439_hypokinesia, UMLS:C0700590_sweating increased, UMLS:C0232292_pressure chest, UMLS:C0231807_dyspnea on exertion, UMLS:C0085619_orthopnea",
	},
	{
		"UMLS:C0032285_pneumonia",
		"UMLS:C0010200_cough, UMLS:C0015967_fever, UMLS:C0034642_rale, UMLS:C0392680_shortness of breath, UMLS:C0238844_breath sounds decreased, UMLS:C0085593_chill, UMLS:C0035508_rhonchus, UMLS:C0457097_green sputum, UMLS:C0008033_pleuritic pain",
	},
	{
		"UMLS:C0004096_asthma",
		"UMLS:C0043144_wheezing, UMLS:C0010200_cough, UMLS:C0392680_shortness of breath, UMLS:C0232292_pressure chest, UMLS:C0231835_tachypnea",
	},
	{
		"UMLS:C0011570_depression mental",
		"UMLS:C0424000_feeling suicidal, UMLS:C0438696_suicidal, UMLS:C0233762_hallucinations auditory, UMLS:C0150041_feeling hopeless, UMLS:C0424109_weepiness, UMLS:C0917801_sleeplessness, UMLS:C0424230_motor retardation, UMLS:C0022107_irritable mood, UMLS:C0312422_blackout, UMLS:C0344315_mood depressed",
	},
}

// DemoRows returns the built-in starter knowledge base as loader rows.
func DemoRows() []ProfileRow {
	rows := make([]ProfileRow, 0, len(demoProfiles))
	for _, p := range demoProfiles {
		if row, ok := parseRecord([]string{p.disease, p.findings}); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// WriteDemo writes the starter knowledge base to path in the format implied
// by its extension (.csv, .yaml or .yml), ready for `serve` or `kb import`.
func WriteDemo(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return writeCSV(path, DemoRows())
	case ".yaml", ".yml":
		return writeYAML(path, DemoRows())
	default:
		return fmt.Errorf("unsupported seed format %q (use .csv, .yaml or .yml)", filepath.Ext(path))
	}
}

// slug renders a concept back into loader cell text.
func slug(c terminology.Concept) string {
	if c.Code != "" {
		return "UMLS:" + c.Code + "_" + c.Label
	}
	return c.Label
}

func writeCSV(path string, rows []ProfileRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Disease", "Symptom"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		cells := make([]string, 0, len(row.Findings))
		for _, finding := range row.Findings {
			cells = append(cells, slug(finding))
		}
		if err := w.Write([]string{slug(row.Disease), strings.Join(cells, ", ")}); err != nil {
			return fmt.Errorf("write row %q: %w", row.Disease.Label, err)
		}
	}
	w.Flush()
	return w.Error()
}

func writeYAML(path string, rows []ProfileRow) error {
	doc := yamlKnowledgeBase{Diseases: make([]yamlProfile, 0, len(rows))}
	for _, row := range rows {
		p := yamlProfile{Disease: slug(row.Disease)}
		for _, finding := range row.Findings {
			p.Findings = append(p.Findings, slug(finding))
		}
		doc.Diseases = append(doc.Diseases, p)
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal knowledge base: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
