package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/types"
)

// Interpreter turns loosely-structured provider output into a strict
// ScoreResult. Strategies are tried in order; the first one that yields a
// structurally valid score object wins. The provider's own total is never
// trusted: the total is recomputed from clamped sub-scores minus one point
// per flagged lexical error.
type Interpreter struct {
	log        *logger.Logger
	strategies []parseStrategy
}

type parseStrategy struct {
	name string
	run  func(raw string) (map[string]any, bool)
}

func NewInterpreter(log *logger.Logger) *Interpreter {
	i := &Interpreter{log: log.With("service", "Interpreter")}
	i.strategies = []parseStrategy{
		{name: "strict", run: parseStrict},
		{name: "brace_window", run: parseBraceWindow},
		{name: "balanced_spans", run: parseBalancedSpans},
	}
	return i
}

// Interpret runs the fallback chain over raw provider text.
func (i *Interpreter) Interpret(raw string) (*types.ScoreResult, error) {
	for _, s := range i.strategies {
		m, ok := s.run(raw)
		if !ok {
			continue
		}
		res, err := buildResult(m)
		if err != nil {
			i.log.Debug("parse strategy produced unusable object", "strategy", s.name, "error", err)
			continue
		}
		return res, nil
	}

	if res, ok := synthesizeFromFreeText(raw); ok {
		i.log.Warn("structured parse failed, using free-text fallback", "total", res.TotalScore)
		return res, nil
	}

	return nil, &InterpretationError{Detail: fmt.Sprintf("no strategy matched (%d bytes)", len(raw))}
}

// InterpretValue accepts payloads already decoded upstream.
func (i *Interpreter) InterpretValue(v any) (*types.ScoreResult, error) {
	switch t := v.(type) {
	case map[string]any:
		res, err := buildResult(t)
		if err != nil {
			return nil, &InterpretationError{Detail: err.Error()}
		}
		return res, nil
	case []byte:
		return i.Interpret(string(t))
	case string:
		return i.Interpret(t)
	default:
		return nil, &InterpretationError{Detail: fmt.Sprintf("unsupported payload type %T", v)}
	}
}

// ---- strategies ----

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func parseStrict(raw string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &m); err != nil {
		return nil, false
	}
	if !hasScoreShape(m) {
		return nil, false
	}
	return m, true
}

func parseBraceWindow(raw string) (map[string]any, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &m); err != nil {
		return nil, false
	}
	if !hasScoreShape(m) {
		return nil, false
	}
	return m, true
}

func parseBalancedSpans(raw string) (map[string]any, bool) {
	for _, span := range balancedBraceSpans(raw) {
		var m map[string]any
		if err := json.Unmarshal([]byte(span), &m); err != nil {
			continue
		}
		if hasScoreShape(m) {
			return m, true
		}
	}
	return nil, false
}

// balancedBraceSpans returns every top-level {...} span in s, tracking string
// literals so braces inside narrative text do not break the balance count.
func balancedBraceSpans(s string) []string {
	var spans []string
	depth := 0
	start := -1
	inStr := false
	esc := false
	for i, r := range s {
		if inStr {
			if esc {
				esc = false
				continue
			}
			switch r {
			case '\\':
				esc = true
			case '"':
				inStr = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inStr = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}

func hasScoreShape(m map[string]any) bool {
	for _, k := range []string{"分项得分", "总得分", "sub_scores", "total_score"} {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// ---- result assembly ----

func buildResult(m map[string]any) (*types.ScoreResult, error) {
	res := &types.ScoreResult{Provenance: types.ProvenanceProvider}

	subsRaw, ok := lookupMap(m, "分项得分", "sub_scores")
	if ok {
		res.SubScores = types.SubScores{
			Content:      clamp(coerceIntOr(subsRaw, 0, "内容主旨", "content"), 0, types.MaxContentScore),
			Language:     clamp(coerceIntOr(subsRaw, 0, "语言文采", "language"), 0, types.MaxLanguageScore),
			Structure:    clamp(coerceIntOr(subsRaw, 0, "文章结构", "structure"), 0, types.MaxStructureScore),
			Presentation: clamp(coerceIntOr(subsRaw, 0, "文面书写", "presentation"), 0, types.MaxPresentationScore),
		}
	} else {
		// Only a bare total: spread it across the bands at fixed ratios and
		// flag the result as low-confidence.
		totalRaw, _ := firstOf(m, "总得分", "total_score")
		total, found := coerceInt(totalRaw)
		if !found {
			return nil, fmt.Errorf("no sub-scores and no total score")
		}
		res.SubScores = ratioSubScores(total)
		res.Provenance = types.ProvenanceFallback
	}

	if v, found := firstOf(m, "等级", "grade_label", "grade"); found {
		if s, isStr := v.(string); isStr {
			res.GradeLabel = strings.TrimSpace(s)
		}
	}

	res.Errors = parseLexicalErrors(firstValue(m, "错别字", "errors"))
	res.Assessment = parseAssessment(m)

	finalize(res)
	return res, nil
}

// finalize applies the one authoritative arithmetic rule: total equals the
// sum of clamped sub-scores minus one point per flagged lexical error,
// floored at zero. Non-lexical issues only affect the narrative text.
func finalize(res *types.ScoreResult) {
	res.Deductions = len(res.Errors)
	total := res.SubScores.Sum() - res.Deductions
	if total < 0 {
		total = 0
	}
	if total > types.MaxTotalScore {
		total = types.MaxTotalScore
	}
	res.TotalScore = total
}

func ratioSubScores(total int) types.SubScores {
	total = clamp(total, 0, types.MaxTotalScore)
	return types.SubScores{
		Content:      clamp(int(float64(total)*0.4+0.5), 0, types.MaxContentScore),
		Language:     clamp(int(float64(total)*0.3+0.5), 0, types.MaxLanguageScore),
		Structure:    clamp(int(float64(total)*0.2+0.5), 0, types.MaxStructureScore),
		Presentation: clamp(int(float64(total)*0.1+0.5), 0, types.MaxPresentationScore),
	}
}

func parseLexicalErrors(v any) []types.LexicalError {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]types.LexicalError, 0, len(arr))
	for _, el := range arr {
		m, isMap := el.(map[string]any)
		if !isMap {
			continue
		}
		le := types.LexicalError{
			Wrong:      stringOf(firstValue(m, "错误内容", "wrong")),
			Position:   stringOf(firstValue(m, "位置", "position")),
			Suggestion: stringOf(firstValue(m, "修改建议", "suggestion")),
			Context:    stringOf(firstValue(m, "上下文", "context")),
		}
		if le.Wrong == "" && le.Suggestion == "" {
			continue
		}
		out = append(out, le)
	}
	return out
}

func parseAssessment(m map[string]any) types.Assessment {
	src, ok := lookupMap(m, "评语", "assessment")
	if !ok {
		src = m
	}
	return types.Assessment{
		Overall:      stringOf(firstValue(src, "总评", "总体评价", "overall")),
		Content:      stringOf(firstValue(src, "内容分析", "content")),
		Language:     stringOf(firstValue(src, "语言分析", "language")),
		Structure:    stringOf(firstValue(src, "结构分析", "structure")),
		Presentation: stringOf(firstValue(src, "书写分析", "presentation")),
	}
}

// ---- free-text fallback (step 5) ----

var (
	totalScoreRe = regexp.MustCompile(`(?:总得分|总分|得分)[^0-9]{0,8}(\d{1,3})`)
	bareScoreRe  = regexp.MustCompile(`(\d{1,3})\s*分`)
	gradeRe      = regexp.MustCompile(`(?:等级|评级)[^优良中差A-Ea-e]{0,8}([优良中差]|[A-Ea-e][+-]?)`)
)

func synthesizeFromFreeText(raw string) (*types.ScoreResult, bool) {
	var total int
	found := false
	if m := totalScoreRe.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			total, found = n, true
		}
	}
	if !found {
		if m := bareScoreRe.FindStringSubmatch(raw); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n <= types.MaxTotalScore {
				total, found = n, true
			}
		}
	}
	if !found {
		return nil, false
	}

	res := &types.ScoreResult{
		SubScores:  ratioSubScores(total),
		Provenance: types.ProvenanceFallback,
	}
	if m := gradeRe.FindStringSubmatch(raw); m != nil {
		res.GradeLabel = m[1]
	}
	finalize(res)
	return res, true
}

// ---- coercion helpers ----

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// coerceInt accepts JSON numbers and numeric strings; the provider emits both.
func coerceInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t + 0.5), true
	case int:
		return t, true
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return int(f + 0.5), true
		}
		return 0, false
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "分"))
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f + 0.5), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func coerceIntOr(m map[string]any, def int, keys ...string) int {
	if v, found := firstOf(m, keys...); found {
		if n, ok := coerceInt(v); ok {
			return n
		}
	}
	return def
}

func firstOf(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func firstValue(m map[string]any, keys ...string) any {
	v, _ := firstOf(m, keys...)
	return v
}

func lookupMap(m map[string]any, keys ...string) (map[string]any, bool) {
	if v, ok := firstOf(m, keys...); ok {
		if mm, isMap := v.(map[string]any); isMap {
			return mm, true
		}
	}
	return nil, false
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
