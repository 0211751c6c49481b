package services

import (
	"fmt"
	"strings"
)

// maxPromptContentRunes caps how much essay text is embedded in the prompt.
// Longer essays are truncated with an explicit notice so the provider knows
// it is scoring a prefix.
const maxPromptContentRunes = 3000

const systemPrompt = `你是一位经验丰富的语文作文批改老师。请严格按照给定的评分标准批改作文，` +
	`并只输出一个JSON对象，不要输出任何其他文字。`

const outputFormatInstruction = `请按以下JSON格式输出批改结果（字段名必须完全一致）：
{
  "总得分": <0-50的整数>,
  "等级": "<优/良/中/差>",
  "分项得分": {
    "内容主旨": <0-20的整数>,
    "语言文采": <0-15的整数>,
    "文章结构": <0-10的整数>,
    "文面书写": <0-5的整数>
  },
  "错别字": [
    {"错误内容": "<原文中的错误>", "位置": "<所在位置>", "修改建议": "<正确写法>", "上下文": "<前后文>"}
  ],
  "评语": {
    "总评": "<总体评价>",
    "内容分析": "<内容主旨分析>",
    "语言分析": "<语言文采分析>",
    "结构分析": "<文章结构分析>",
    "书写分析": "<文面书写分析>"
  }
}`

// PromptBuilder produces the deterministic scoring prompt for an essay.
type PromptBuilder struct {
	rubrics *RubricSet
}

func NewPromptBuilder(rubrics *RubricSet) *PromptBuilder {
	return &PromptBuilder{rubrics: rubrics}
}

func (b *PromptBuilder) System() string { return systemPrompt }

func (b *PromptBuilder) User(title, content, grade string) string {
	gr, ok := b.rubrics.Get(grade)
	if !ok {
		gr = GradeRubric{Label: grade}
	}

	runes := []rune(content)
	total := len(runes)
	truncated := false
	if total > maxPromptContentRunes {
		runes = runes[:maxPromptContentRunes]
		truncated = true
	}

	if strings.TrimSpace(title) == "" {
		title = "无标题"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "作文批改任务\n\n学段：%s\n题目：%s\n字数：%d\n\n", gr.Label, title, total)
	sb.WriteString("评分标准：\n")
	sb.WriteString(strings.TrimSpace(gr.Rubric))
	sb.WriteString("\n\n作文正文：\n")
	sb.WriteString(string(runes))
	if truncated {
		fmt.Fprintf(&sb, "\n（正文超过%d字，以上为截断后的内容）", maxPromptContentRunes)
	}
	sb.WriteString("\n\n")
	sb.WriteString(outputFormatInstruction)
	return sb.String()
}
