package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"learnassist/internal/config"
	"learnassist/src/model"
	"learnassist/src/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	r := New(config.DefaultModes(), nil)

	tests := []struct {
		token string
		mode  model.Mode
		want  model.Kind
	}{
		{"grammar_check", model.ModeLiterature, model.KindGrammarCheck},
		{"health_score", model.ModeLiterature, model.KindHealthScore},
		{"chat", model.ModeLiterature, model.KindChat},
		{"chat", model.ModeScience, model.KindChat},
		{"math_validation", model.ModeScience, model.KindMathValidation},
		{"validate_steps", model.ModeScience, model.KindMathValidation},
		{"build_logic_tree", model.ModeScience, model.KindLogicTree},
		{" debug_mode ", model.ModeScience, model.KindDebug},
	}
	for _, tt := range tests {
		t.Run(tt.token+"/"+string(tt.mode), func(t *testing.T) {
			got, err := r.Resolve(tt.token, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_NotAllowedInMode(t *testing.T) {
	r := New(config.DefaultModes(), nil)

	_, err := r.Resolve("grammar_check", model.ModeScience)
	var modeErr *model.InvalidModeError
	require.ErrorAs(t, err, &modeErr)
	assert.Equal(t, model.ModeScience, modeErr.Mode)
	assert.Equal(t, model.KindGrammarCheck, modeErr.Kind)
	assert.Equal(t, []model.Kind{model.KindMathValidation, model.KindLogicTree, model.KindDebug, model.KindChat}, modeErr.Allowed)

	_, code := model.ErrorInfo(err)
	assert.Equal(t, "INVALID_MODE", code)

	_, err = r.Resolve("debug", model.ModeLiterature)
	assert.ErrorAs(t, err, &modeErr)

	_, err = r.Resolve("chat", model.Mode("unknown"))
	assert.ErrorAs(t, err, &modeErr)
}

func TestResolve_UnknownToken(t *testing.T) {
	r := New(config.DefaultModes(), nil)
	_, err := r.Resolve("translate", model.ModeLiterature)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "task", verr.Field)
}

func TestCheckContent(t *testing.T) {
	modes := config.DefaultModes()
	lit := modes.Modes[model.ModeLiterature]
	lit.Limits.MaxContentLength = 5
	modes.Modes[model.ModeLiterature] = lit
	r := New(modes, nil)

	assert.NoError(t, r.CheckContent(model.ModeLiterature, "你好世界!"))
	assert.Error(t, r.CheckContent(model.ModeLiterature, "too long"))
}

func TestDetectMode_LocalSignals(t *testing.T) {
	classifier := provider.Reply("science")
	r := New(config.DefaultModes(), classifier)
	ctx := context.Background()

	assert.Equal(t, model.ModeScience, r.DetectMode(ctx, "已知 x^2 + 2x = 8，求 x 的值。"))
	assert.Equal(t, model.ModeLiterature, r.DetectMode(ctx, "春天来了，花开了。小鸟在唱歌，我们在公园里散步。"))
	assert.Equal(t, model.ModeLiterature, r.DetectMode(ctx, "short"))
	assert.Zero(t, classifier.CallCount(), "clear signals never reach the classifier")
}

func TestDetectMode_AmbiguousUsesClassifier(t *testing.T) {
	const text = "The quick brown fox jumps over the lazy dog"
	ctx := context.Background()

	classifier := provider.Reply(" Science\n")
	r := New(config.DefaultModes(), classifier)
	assert.Equal(t, model.ModeScience, r.DetectMode(ctx, text))
	require.Equal(t, 1, classifier.CallCount())
	call := classifier.Calls()[0]
	assert.Equal(t, 10, call.Params.MaxTokens)
	assert.True(t, strings.Contains(call.Messages[len(call.Messages)-1].Content, "quick brown fox"))

	r = New(config.DefaultModes(), provider.Reply("literature"))
	assert.Equal(t, model.ModeLiterature, r.DetectMode(ctx, text))

	r = New(config.DefaultModes(), provider.Fail(errors.New("provider down")))
	assert.Equal(t, model.DefaultMode, r.DetectMode(ctx, text))

	r = New(config.DefaultModes(), nil)
	assert.Equal(t, model.DefaultMode, r.DetectMode(ctx, text))
}

func TestDetectMode_TruncatesClassifierSample(t *testing.T) {
	classifier := provider.Reply("literature")
	r := New(config.DefaultModes(), classifier)

	r.DetectMode(context.Background(), strings.Repeat("word ", 400))
	require.Equal(t, 1, classifier.CallCount())
	msgs := classifier.Calls()[0].Messages
	assert.LessOrEqual(t, len([]rune(msgs[len(msgs)-1].Content)), classifierSample)
}
