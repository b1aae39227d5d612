package analysis

import (
	"context"
	"fmt"
	"strings"

	"learnassist/src/model"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// ================ grammar_check ================

type grammarInput struct {
	Text  string   `json:"text" validate:"required,nonblank,max=10000"`
	Focus []string `json:"focus" validate:"omitempty,dive,oneof=grammar spelling punctuation word_choice"`
}

type GrammarIssue struct {
	Type        string `json:"type" validate:"required"`
	Original    string `json:"original" validate:"required"`
	Correction  string `json:"correction"`
	Explanation string `json:"explanation"`
	Start       *int   `json:"start,omitempty"`
	End         *int   `json:"end,omitempty"`
}

type grammarOutput struct {
	Errors      []GrammarIssue `json:"errors" validate:"required,dive"`
	Suggestions []string       `json:"suggestions"`
	Score       *float64       `json:"score,omitempty" validate:"omitempty,min=0,max=100"`
}

func newGrammarCheck() Capability {
	c := newJSONCapability[grammarInput, grammarOutput](
		model.KindGrammarCheck,
		model.ModelParams{Temperature: 0.3, MaxTokens: 2000},
		grammarSystemPrompt, grammarUserPrompt,
		func(in *grammarInput) map[string]any {
			focus := "all"
			if len(in.Focus) > 0 {
				focus = strings.Join(in.Focus, ", ")
			}
			return map[string]any{"text": in.Text, "focus": focus}
		},
	)
	c.fallback = func() map[string]any {
		return map[string]any{"errors": []any{}, "suggestions": []any{}}
	}
	return c
}

// ================ polish ================

type polishInput struct {
	Text  string `json:"text" validate:"required,nonblank,max=10000"`
	Style string `json:"style" validate:"omitempty,oneof=formal casual academic creative concise"`
	Count int    `json:"count" validate:"omitempty,min=1,max=5"`
}

type PolishVersion struct {
	Style   string   `json:"style"`
	Text    string   `json:"text" validate:"required"`
	Changes []string `json:"changes"`
}

type polishOutput struct {
	Versions []PolishVersion `json:"versions" validate:"required,min=1,dive"`
}

func newPolish() Capability {
	c := newJSONCapability[polishInput, polishOutput](
		model.KindPolish,
		model.ModelParams{Temperature: 0.7, MaxTokens: 3000},
		polishSystemPrompt, polishUserPrompt,
		func(in *polishInput) map[string]any {
			style, count := in.Style, in.Count
			if style == "" {
				style = "academic"
			}
			if count == 0 {
				count = 3
			}
			return map[string]any{"text": in.Text, "style": style, "count": count}
		},
	)
	c.fallback = func() map[string]any {
		return map[string]any{"versions": []any{}}
	}
	return c
}

// ================ structure_analysis ================

type structureInput struct {
	Content string `json:"content" validate:"required,nonblank,min=50,max=50000"`
	Genre   string `json:"genre"`
}

type Relationship struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
	Type string `json:"type"`
}

type structureOutput struct {
	Tree          *TreeNode      `json:"tree" validate:"required"`
	Relationships []Relationship `json:"relationships" validate:"required,dive"`
	Summary       string         `json:"summary"`
}

type structureResult struct {
	Tree          *Arena         `json:"tree"`
	Relationships []Relationship `json:"relationships"`
	Summary       string         `json:"summary"`
}

func newStructureAnalysis() Capability {
	c := newJSONCapability[structureInput, structureOutput](
		model.KindStructureAnalysis,
		model.ModelParams{Temperature: 0.5, MaxTokens: 4000},
		structureSystemPrompt, structureUserPrompt,
		func(in *structureInput) map[string]any {
			genre := in.Genre
			if genre == "" {
				genre = "essay"
			}
			return map[string]any{"content": in.Content, "genre": genre}
		},
	)
	c.finish = func(out *structureOutput) (map[string]any, error) {
		return toMap(structureResult{
			Tree:          Flatten(out.Tree),
			Relationships: out.Relationships,
			Summary:       out.Summary,
		})
	}
	c.fallback = func() map[string]any {
		return map[string]any{"tree": map[string]any{}, "relationships": []any{}}
	}
	return c
}

// ================ health_score ================

var defaultHealthDimensions = []string{"clarity", "coherence", "grammar", "vocabulary", "structure"}

type healthInput struct {
	Text       string   `json:"text" validate:"required,nonblank,max=50000"`
	Dimensions []string `json:"dimensions" validate:"omitempty,max=10,dive,nonblank"`
}

type healthOutput struct {
	Dimensions   map[string]float64 `json:"dimensions" validate:"required,min=1,dive,min=0,max=100"`
	OverallScore *float64           `json:"overall_score" validate:"required,min=0,max=100"`
	Suggestions  []string           `json:"suggestions"`
}

func newHealthScore() Capability {
	c := newJSONCapability[healthInput, healthOutput](
		model.KindHealthScore,
		model.ModelParams{Temperature: 0.5, MaxTokens: 2000},
		healthSystemPrompt, healthUserPrompt,
		func(in *healthInput) map[string]any {
			dims := in.Dimensions
			if len(dims) == 0 {
				dims = defaultHealthDimensions
			}
			return map[string]any{"text": in.Text, "dimensions": strings.Join(dims, ", ")}
		},
	)
	c.fallback = func() map[string]any {
		return map[string]any{"dimensions": map[string]any{}, "overall_score": float64(0)}
	}
	return c
}

// ================ math_validation ================

type mathInput struct {
	Problem string   `json:"problem" validate:"max=10000"`
	Steps   []string `json:"steps" validate:"required,min=1,max=100,dive,nonblank"`
}

type StepResult struct {
	Step        int    `json:"step" validate:"min=1"`
	Valid       *bool  `json:"valid" validate:"required"`
	Explanation string `json:"explanation"`
	Correction  string `json:"correction,omitempty"`
}

type mathOutput struct {
	ValidationResults []StepResult `json:"validation_results" validate:"required,dive"`
	Conclusion        string       `json:"conclusion"`
}

func newMathValidation() Capability {
	c := newJSONCapability[mathInput, mathOutput](
		model.KindMathValidation,
		model.ModelParams{Temperature: 0.1, MaxTokens: 3000},
		mathSystemPrompt, mathUserPrompt,
		func(in *mathInput) map[string]any {
			var steps strings.Builder
			for i, step := range in.Steps {
				fmt.Fprintf(&steps, "%d. %s\n", i+1, step)
			}
			problem := in.Problem
			if problem == "" {
				problem = "(not given)"
			}
			return map[string]any{"problem": problem, "steps": steps.String()}
		},
	)
	c.fallback = func() map[string]any {
		return map[string]any{"validation_results": []any{}}
	}
	return c
}

// ================ logic_tree ================

type logicInput struct {
	Problem string `json:"problem" validate:"required,nonblank,max=20000"`
	Content string `json:"content" validate:"max=50000"`
}

type logicOutput struct {
	Root *TreeNode `json:"root" validate:"required"`
}

type logicResult struct {
	Root  string       `json:"root"`
	Nodes []*ArenaNode `json:"nodes"`
	Edges []Edge       `json:"edges"`
}

func newLogicTree() Capability {
	c := newJSONCapability[logicInput, logicOutput](
		model.KindLogicTree,
		model.ModelParams{Temperature: 0.3, MaxTokens: 4000},
		logicSystemPrompt, logicUserPrompt,
		func(in *logicInput) map[string]any {
			content := in.Content
			if content == "" {
				content = "(none)"
			}
			return map[string]any{"problem": in.Problem, "content": content}
		},
	)
	c.finish = func(out *logicOutput) (map[string]any, error) {
		arena := Flatten(out.Root)
		return toMap(logicResult{Root: arena.Root, Nodes: arena.NodeList(), Edges: arena.Edges()})
	}
	c.fallback = func() map[string]any {
		return map[string]any{"nodes": []any{}, "edges": []any{}}
	}
	return c
}

// ================ debug ================

type debugInput struct {
	Code     string `json:"code" validate:"required,nonblank,max=50000"`
	Language string `json:"language" validate:"max=32"`
	Error    string `json:"error" validate:"max=10000"`
}

type TraceStep struct {
	Line        int            `json:"line" validate:"min=0"`
	Description string         `json:"description" validate:"required"`
	Variables   map[string]any `json:"variables,omitempty"`
}

type DebugIssue struct {
	Line     int    `json:"line"`
	Message  string `json:"message" validate:"required"`
	Severity string `json:"severity"`
}

type debugOutput struct {
	ExecutionTrace []TraceStep  `json:"execution_trace" validate:"required,dive"`
	Issues         []DebugIssue `json:"issues" validate:"omitempty,dive"`
	Fix            string       `json:"fix"`
}

func newDebug() Capability {
	c := newJSONCapability[debugInput, debugOutput](
		model.KindDebug,
		model.ModelParams{Temperature: 0.3, MaxTokens: 3000},
		debugSystemPrompt, debugUserPrompt,
		func(in *debugInput) map[string]any {
			language, reported := in.Language, in.Error
			if language == "" {
				language = "python"
			}
			if reported == "" {
				reported = "none"
			}
			return map[string]any{"code": in.Code, "language": language, "error": reported}
		},
	)
	c.fallback = func() map[string]any {
		return map[string]any{"execution_trace": []any{}}
	}
	return c
}

// ================ mode classifier ================

var classifyTemplate = prompt.FromMessages(schema.FString,
	schema.SystemMessage(classifySystemPrompt),
	schema.UserMessage(classifyUserPrompt),
)

// ClassifierParams are the generation settings for mode classification.
var ClassifierParams = model.ModelParams{Temperature: 0, MaxTokens: 10}

// ClassifyRequest renders the mode classification prompt for text.
func ClassifyRequest(ctx context.Context, text string) ([]*schema.Message, error) {
	messages, err := classifyTemplate.Format(ctx, map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to render classifier prompt: %w", err)
	}
	return messages, nil
}
