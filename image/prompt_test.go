package image

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kidcanvas/imagesvc/types"
)

// =============================================================================
// 🧪 PromptBuilder 测试
// =============================================================================

func TestPromptBuilder_Deterministic(t *testing.T) {
	req := types.GenerationRequest{
		Theme:      "animals",
		Subject:    "cat",
		Difficulty: types.DifficultyMedium,
	}

	a := NewPromptBuilderWithSeed(42).Build(req)
	b := NewPromptBuilderWithSeed(42).Build(req)

	assert.Equal(t, a, b, "相同种子应产生相同 Prompt")
}

func TestPromptBuilder_ContainsSubjectAndStyle(t *testing.T) {
	b := NewPromptBuilderWithSeed(1)
	prompt := b.Build(types.GenerationRequest{
		Theme:      "animals",
		Subject:    "rabbit",
		Difficulty: types.DifficultyMedium,
	})

	assert.Contains(t, prompt, "a rabbit ")
	assert.Contains(t, prompt, artStyleClause)
	assert.Contains(t, prompt, techStyleClause)
	assert.Contains(t, prompt, compositionClause)
}

func TestPromptBuilder_DifficultyPhrasing(t *testing.T) {
	base := types.GenerationRequest{Theme: "animals", Subject: "dog"}

	easy := base
	easy.Difficulty = types.DifficultyEasy
	hard := base
	hard.Difficulty = types.DifficultyHard
	medium := base
	medium.Difficulty = types.DifficultyMedium

	b := NewPromptBuilderWithSeed(7)

	easyPrompt := b.Build(easy)
	assert.Contains(t, easyPrompt, "very simple shapes")
	assert.Contains(t, easyPrompt, "with a few simple ")

	hardPrompt := b.Build(hard)
	assert.Contains(t, hardPrompt, "intricate details")
	assert.Contains(t, hardPrompt, "richly decorated with ")
	assert.Contains(t, hardPrompt, " and ornate patterns")

	mediumPrompt := b.Build(medium)
	assert.Contains(t, mediumPrompt, "moderate details")
	assert.Contains(t, mediumPrompt, "surrounded by ")
}

func TestPromptBuilder_UnknownThemeFallsBackToAnimals(t *testing.T) {
	b := NewPromptBuilderWithSeed(3)
	prompt := b.Build(types.GenerationRequest{
		Theme:      "robots",
		Subject:    "robot",
		Difficulty: types.DifficultyMedium,
	})

	// 未知主题回退到 animals 表，场景应来自 animals
	found := false
	for _, scene := range themeEnhancements["animals"].scenes {
		if strings.Contains(prompt, scene) {
			found = true
			break
		}
	}
	assert.True(t, found, "未知主题应使用 animals 的场景表")
}

func TestPromptBuilder_ThemeCaseInsensitive(t *testing.T) {
	b := NewPromptBuilderWithSeed(5)
	prompt := b.Build(types.GenerationRequest{
		Theme:      "Fantasy",
		Subject:    "unicorn",
		Difficulty: types.DifficultyMedium,
	})

	found := false
	for _, scene := range themeEnhancements["fantasy"].scenes {
		if strings.Contains(prompt, scene) {
			found = true
			break
		}
	}
	assert.True(t, found)
}

func TestPromptBuilder_DistinctDecorations(t *testing.T) {
	// 中等难度使用两个装饰元素，二者应不同
	for seed := int64(0); seed < 50; seed++ {
		b := NewPromptBuilderWithSeed(seed)
		deco1 := b.pick(themeEnhancements["animals"].decorations)
		deco2 := b.pickOther(themeEnhancements["animals"].decorations, deco1)
		assert.NotEqual(t, deco1, deco2, "seed %d", seed)
	}
}

func TestPromptBuilder_CustomPromptAppended(t *testing.T) {
	b := NewPromptBuilderWithSeed(11)
	prompt := b.Build(types.GenerationRequest{
		Theme:        "food",
		Subject:      "cake",
		Difficulty:   types.DifficultyEasy,
		CustomPrompt: "  with birthday candles  ",
	})

	assert.True(t, strings.HasSuffix(prompt, ", with birthday candles"),
		"自定义提示词应去除首尾空白后追加到末尾")
}

func TestPromptBuilder_EmptyCustomPromptIgnored(t *testing.T) {
	req := types.GenerationRequest{
		Theme:      "food",
		Subject:    "cake",
		Difficulty: types.DifficultyEasy,
	}

	withBlank := req
	withBlank.CustomPrompt = "   "

	a := NewPromptBuilderWithSeed(11).Build(req)
	b := NewPromptBuilderWithSeed(11).Build(withBlank)

	assert.Equal(t, a, b, "空白自定义提示词不应改变结果")
}
