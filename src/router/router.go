// Package router maps task tokens to analysis kinds and enforces the
// per-mode allow-lists.
package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"learnassist/internal/config"
	"learnassist/src/analysis"
	"learnassist/src/logger"
	"learnassist/src/model"
	"learnassist/src/provider"

	"github.com/rs/zerolog"
)

type Router struct {
	modes    *config.ModesFile
	tokens   map[string]model.Kind
	allowed  map[model.Mode]map[model.Kind]bool
	provider provider.Provider
	log      *zerolog.Logger
}

// New builds a Router from modes. classifier resolves ambiguous mode
// detections and may be nil, in which case they fall back to the default
// mode.
func New(modes *config.ModesFile, classifier provider.Provider) *Router {
	r := &Router{
		modes:    modes,
		tokens:   make(map[string]model.Kind),
		allowed:  make(map[model.Mode]map[model.Kind]bool),
		provider: classifier,
		log:      logger.Component("router"),
	}
	for _, kind := range model.AllKinds {
		r.tokens[string(kind)] = kind
	}
	for token, kind := range modes.Tokens {
		r.tokens[token] = kind
	}
	for mode, cfg := range modes.Modes {
		set := make(map[model.Kind]bool, len(cfg.Kinds))
		for _, kind := range cfg.Kinds {
			set[kind] = true
		}
		r.allowed[mode] = set
	}
	return r
}

// Resolve returns the kind token triggers, or an *InvalidModeError when the
// kind is not allowed in mode.
func (r *Router) Resolve(token string, mode model.Mode) (model.Kind, error) {
	kind, ok := r.tokens[strings.TrimSpace(token)]
	if !ok {
		return "", model.NewValidationError("task", fmt.Sprintf("unknown task %q", token))
	}
	if !r.Allowed(mode, kind) {
		return "", &model.InvalidModeError{Mode: mode, Kind: kind, Allowed: r.AllowedKinds(mode)}
	}
	return kind, nil
}

func (r *Router) Allowed(mode model.Mode, kind model.Kind) bool {
	return r.allowed[mode][kind]
}

// AllowedKinds lists the kinds of mode in configured order.
func (r *Router) AllowedKinds(mode model.Mode) []model.Kind {
	return append([]model.Kind(nil), r.modes.Modes[mode].Kinds...)
}

// Modes returns the configured modes.
func (r *Router) Modes() map[model.Mode]config.ModeConfig {
	return r.modes.Modes
}

// CheckContent rejects content longer than the mode's limit.
func (r *Router) CheckContent(mode model.Mode, content string) error {
	limit := r.modes.Modes[mode].Limits.MaxContentLength
	if limit > 0 && utf8.RuneCountInString(content) > limit {
		return model.NewValidationError("content", fmt.Sprintf("exceeds %d characters for %s mode", limit, mode))
	}
	return nil
}

var (
	mathPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[+\-*/=<>≤≥≠]`),
		regexp.MustCompile(`\d+[xy]`),
		regexp.MustCompile(`[xy]\^?\d+`),
		regexp.MustCompile(`\\frac|\\sqrt|\\sum|\\int`),
		regexp.MustCompile(`[∫∑∏√∞]`),
		regexp.MustCompile(`\b(sin|cos|tan|log|ln)\b`),
	}
	scienceKeywords = []string{
		"已知", "求", "解方程", "证明", "计算",
		"设", "假设", "因为", "所以", "得",
		"方程", "不等式", "函数", "导数", "积分",
		"given", "prove", "solve", "equation", "derivative", "integral",
	}
	stepPattern        = regexp.MustCompile(`(步骤|解|解答|[Ss]tep)\s*[:：]?\s*\d+`)
	literaturePatterns = []*regexp.Regexp{
		regexp.MustCompile(`[，。！？；：“”‘’（）《》]`),
		regexp.MustCompile(`第[一二三四五六七八九十]+段`),
	}
)

const (
	minDetectLength  = 10
	classifierSample = 500
)

// DetectMode infers a session mode from content. Clear signals decide
// locally; ambiguous content is sent to the classifier. Any classifier
// failure yields the default mode.
func (r *Router) DetectMode(ctx context.Context, content string) model.Mode {
	if utf8.RuneCountInString(content) < minDetectLength {
		return model.DefaultMode
	}

	mathScore, literatureScore := scoreContent(content)
	switch {
	case mathScore >= 3:
		r.log.Debug().Float64("math_score", mathScore).Float64("literature_score", literatureScore).Msg("Detected science mode")
		return model.ModeScience
	case literatureScore > mathScore:
		r.log.Debug().Float64("math_score", mathScore).Float64("literature_score", literatureScore).Msg("Detected literature mode")
		return model.ModeLiterature
	}

	mode, err := r.classify(ctx, content)
	if err != nil {
		r.log.Warn().Err(err).Msg("Mode classification failed, using default mode")
		return model.DefaultMode
	}
	r.log.Debug().Str("mode", string(mode)).Msg("Classifier picked mode")
	return mode
}

func scoreContent(content string) (mathScore, literatureScore float64) {
	for _, p := range mathPatterns {
		if p.MatchString(content) {
			mathScore++
		}
	}
	lower := strings.ToLower(content)
	for _, kw := range scienceKeywords {
		if strings.Contains(lower, kw) {
			mathScore += 0.5
		}
	}
	if stepPattern.MatchString(content) {
		mathScore++
	}
	for _, p := range literaturePatterns {
		literatureScore += float64(len(p.FindAllStringIndex(content, -1))) * 0.1
	}
	return mathScore, literatureScore
}

func (r *Router) classify(ctx context.Context, content string) (model.Mode, error) {
	if r.provider == nil {
		return "", fmt.Errorf("no classifier configured")
	}
	if runes := []rune(content); len(runes) > classifierSample {
		content = string(runes[:classifierSample])
	}
	messages, err := analysis.ClassifyRequest(ctx, content)
	if err != nil {
		return "", err
	}
	resp, err := r.provider.Invoke(ctx, messages, analysis.ClassifierParams)
	if err != nil {
		return "", err
	}
	if strings.Contains(strings.ToLower(resp.Content), string(model.ModeScience)) {
		return model.ModeScience, nil
	}
	return model.ModeLiterature, nil
}
