// Package deliverable turns an Executor's free-form output text into
// reviewable artifact files on disk: individual source files when the
// output encodes several, or a single typed file otherwise, plus a
// human-facing summary and a machine-readable metadata record.
package deliverable

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Type is the inferred deliverable category, which only affects naming,
// headers, and the quality heuristic — never scheduling.
type Type string

const (
	TypeCodeGeneration Type = "code_generation"
	TypeDataAnalysis   Type = "data_analysis"
	TypeTranslation    Type = "translation"
	TypeErrorHandling  Type = "error_handling"
	TypeTextGeneration Type = "text_generation"
)

// Extractor writes deliverables under baseDir/for_review/<date>/....
type Extractor struct {
	BaseDir string
	Now     func() time.Time
}

// New builds an Extractor rooted at baseDir.
func New(baseDir string) *Extractor {
	return &Extractor{BaseDir: baseDir, Now: time.Now}
}

// Result describes what Extract wrote.
type Result struct {
	Dir          string
	Files        []string
	MainArtifact string
	Type         Type
	QualityScore int
}

var (
	codeKeywords     = []string{"def ", "class ", "function", "```", "<html", "<div", "import "}
	analysisKeywords = []string{"##", "###", "analysis", "conclusion", "recommend"}
	translationWords = []string{"translation:", "translated:"}
	errorKeywords    = []string{"error", "exception", "traceback", "failed"}
)

// inferType runs first-match-wins keyword inference over prompt and output.
func inferType(prompt, output string) Type {
	content := strings.ToLower(prompt)
	result := strings.ToLower(output)

	if containsAny(content, "code", "function", "class", "program") || containsAny(result, codeKeywords...) {
		return TypeCodeGeneration
	}
	if containsAny(content, "analysis", "report", "statistics") || containsAny(result, analysisKeywords...) {
		return TypeDataAnalysis
	}
	if containsAny(content, "translation", "translate") || containsAny(result, translationWords...) {
		return TypeTranslation
	}
	if containsAny(content, "error", "exception") || containsAny(result, errorKeywords...) {
		return TypeErrorHandling
	}
	return TypeTextGeneration
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

var (
	patternDashes  = regexp.MustCompile(`---\s*([^\s-]+\.\w+)\s*---`)
	patternSlashes = regexp.MustCompile(`//\s*=+\s*([^\s=]+\.\w+)\s*=+`)
	patternBlock   = regexp.MustCompile(`/\*\s*=+\s*([^\s=]+\.\w+)\s*=+\s*\*/`)
	fenceOpen      = regexp.MustCompile("^```\\w*\n?")
	fenceClose     = regexp.MustCompile("\n?```$")
)

// extractFiles tries the three delimiter patterns in order against output,
// returning the first one that yields at least one file.
func extractFiles(output string) map[string]string {
	for _, pattern := range []*regexp.Regexp{patternDashes, patternSlashes, patternBlock} {
		if files := splitByPattern(output, pattern); len(files) > 0 {
			return files
		}
	}
	return nil
}

func splitByPattern(output string, pattern *regexp.Regexp) map[string]string {
	sections := pattern.Split(output, -1)
	names := pattern.FindAllStringSubmatch(output, -1)
	if len(names) == 0 || len(sections) < 2 {
		return nil
	}

	files := make(map[string]string)
	for i, m := range names {
		if i+1 >= len(sections) {
			break
		}
		name := strings.TrimSpace(m[1])
		content := strings.TrimSpace(sections[i+1])
		content = fenceOpen.ReplaceAllString(content, "")
		content = fenceClose.ReplaceAllString(content, "")
		files[name] = content
	}
	return files
}

// Extract writes the deliverable for a single task's output to disk and
// returns what it wrote.
func (e *Extractor) Extract(taskID, prompt, output string) (*Result, error) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	ts := now()
	typ := inferType(prompt, output)

	dir := filepath.Join(e.BaseDir, "for_review", ts.Format("20060102"), fmt.Sprintf("%s_%s", taskID, typ))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("deliverable: create dir: %w", err)
	}

	res := &Result{Dir: dir, Type: typ, QualityScore: assessQuality(output, typ)}

	if typ == TypeCodeGeneration {
		if files := extractFiles(output); len(files) > 0 {
			names := make([]string, 0, len(files))
			for name, content := range files {
				if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
					return nil, fmt.Errorf("deliverable: write %s: %w", name, err)
				}
				names = append(names, name)
			}
			readme := filepath.Join(dir, "README.md")
			if err := os.WriteFile(readme, []byte(buildReadme(taskID, ts, names)), 0o644); err != nil {
				return nil, fmt.Errorf("deliverable: write README.md: %w", err)
			}
			res.Files = append(names, "README.md")
			res.MainArtifact = pickMainArtifact(names)
		}
	}

	if res.MainArtifact == "" {
		name := mainFileName(taskID, typ)
		content := formatSingleFile(taskID, typ, ts, output)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("deliverable: write %s: %w", name, err)
		}
		res.Files = append(res.Files, name)
		res.MainArtifact = name
	}

	summary := buildSummary(taskID, prompt, output, typ, res.QualityScore, ts)
	if err := os.WriteFile(filepath.Join(dir, "summary.md"), []byte(summary), 0o644); err != nil {
		return nil, fmt.Errorf("deliverable: write summary.md: %w", err)
	}
	res.Files = append(res.Files, "summary.md")

	meta := metadata{
		TaskID:       taskID,
		Timestamp:    ts.Format(time.RFC3339),
		InferredType: string(typ),
		QualityScore: res.QualityScore,
		Files:        res.Files,
		ReviewStatus: "pending",
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("deliverable: marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), metaBytes, 0o644); err != nil {
		return nil, fmt.Errorf("deliverable: write metadata.json: %w", err)
	}
	res.Files = append(res.Files, "metadata.json")

	if err := e.writeNotification(taskID, dir, ts); err != nil {
		return nil, err
	}

	return res, nil
}

type metadata struct {
	TaskID       string   `json:"task_id"`
	Timestamp    string   `json:"timestamp"`
	InferredType string   `json:"inferred_type"`
	QualityScore int      `json:"quality_score"`
	Files        []string `json:"files"`
	ReviewStatus string   `json:"review_status"`
}

func pickMainArtifact(names []string) string {
	for _, n := range names {
		if strings.HasSuffix(n, ".html") {
			return n
		}
	}
	if len(names) > 0 {
		return names[0]
	}
	return ""
}

func mainFileName(taskID string, typ Type) string {
	switch typ {
	case TypeCodeGeneration:
		return fmt.Sprintf("%s_result.txt", taskID)
	case TypeDataAnalysis:
		return fmt.Sprintf("%s_analysis.md", taskID)
	case TypeTranslation:
		return fmt.Sprintf("%s_translation.txt", taskID)
	case TypeErrorHandling:
		return fmt.Sprintf("%s_error_log.txt", taskID)
	default:
		return fmt.Sprintf("%s_deliverable.txt", taskID)
	}
}

func formatSingleFile(taskID string, typ Type, ts time.Time, output string) string {
	header := fmt.Sprintf("# Deliverable\nTask ID: %s\nType: %s\nGenerated: %s\n\n---\n\n",
		taskID, typ, ts.Format(time.RFC3339))
	return header + output
}

func buildReadme(taskID string, ts time.Time, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Generated files\nTask ID: %s\nGenerated: %s\n\n", taskID, ts.Format(time.RFC3339))
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return b.String()
}

func buildSummary(taskID, prompt, output string, typ Type, quality int, ts time.Time) string {
	preview := prompt
	if len(preview) > 300 {
		preview = preview[:300] + "..."
	}
	return fmt.Sprintf(`# Review summary

Task ID: %s
Type: %s
Completed: %s
Quality score: %d/100

## Prompt
%s

## Review checklist
- [ ] Matches requested scope
- [ ] No obvious correctness issues
- [ ] Safe to hand to the requester

Review status: pending
`, taskID, typ, ts.Format(time.RFC3339), quality, preview)
}

// assessQuality is a bounded [0,100] heuristic; it influences only the
// summary, never scheduling.
func assessQuality(output string, typ Type) int {
	score := 70
	if len(output) > 50 {
		score += 10
	}
	if len(output) > 200 {
		score += 5
	}
	switch typ {
	case TypeCodeGeneration:
		if strings.Contains(output, "def ") || strings.Contains(output, "class ") {
			score += 10
		}
		if strings.Contains(output, "\"\"\"") || strings.Contains(output, "'''") {
			score += 5
		}
	case TypeDataAnalysis:
		if strings.Contains(output, "##") {
			score += 10
		}
		if containsAny(output, "conclusion", "recommend", "analysis") {
			score += 5
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

func (e *Extractor) writeNotification(taskID, dir string, ts time.Time) error {
	reviewDir := filepath.Join(e.BaseDir, "for_review")
	if err := os.MkdirAll(reviewDir, 0o755); err != nil {
		return fmt.Errorf("deliverable: create review dir: %w", err)
	}
	name := fmt.Sprintf("new_deliverable_%d.txt", ts.Unix())
	content := fmt.Sprintf("New deliverable ready for review\ntask_id=%s\npath=%s\n", taskID, dir)
	if err := os.WriteFile(filepath.Join(reviewDir, name), []byte(content), 0o644); err != nil {
		return fmt.Errorf("deliverable: write notification: %w", err)
	}
	return nil
}
