package image

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/kidcanvas/imagesvc/types"
)

// 主题相关的场景和装饰元素，用于丰富画面内容，避免单调。
// 姿态描述保持自然状态，避免拟人化动作。
type themeEnhancement struct {
	scenes      []string
	decorations []string
	poses       []string
}

var themeEnhancements = map[string]themeEnhancement{
	"animals": {
		scenes:      []string{"in a magical forest", "in a sunny meadow", "in a cozy garden", "under a rainbow"},
		decorations: []string{"flowers", "butterflies", "clouds", "stars", "hearts", "leaves"},
		poses:       []string{"sitting", "standing", "lying down", "looking forward", "with raised tail"},
	},
	"vehicles": {
		scenes:      []string{"on a winding road", "in a busy city", "on a sunny day", "with mountains in background"},
		decorations: []string{"clouds", "sun", "trees", "road signs", "traffic lights"},
		poses:       []string{"moving forward", "parked", "on the road", "ready to go"},
	},
	"nature": {
		scenes:      []string{"in a beautiful garden", "by a sparkling river", "in a peaceful forest", "on a sunny hill"},
		decorations: []string{"butterflies", "birds", "clouds", "sun rays", "dewdrops"},
		poses:       []string{"blooming", "swaying gently", "standing tall", "in full bloom"},
	},
	"fantasy": {
		scenes:      []string{"in a magical kingdom", "on a fluffy cloud", "in an enchanted forest", "in a fairy tale castle"},
		decorations: []string{"stars", "moons", "sparkles", "magic wands", "crowns", "rainbows"},
		poses:       []string{"floating", "glowing", "magical", "enchanted"},
	},
	"food": {
		scenes:      []string{"on a decorated plate", "at a birthday party", "in a cozy kitchen", "on a picnic blanket"},
		decorations: []string{"hearts", "stars", "confetti", "ribbons", "sprinkles"},
		poses:       []string{"freshly made", "beautifully arranged", "delicious looking", "neatly placed"},
	},
	"sports": {
		scenes:      []string{"on a playground", "at a stadium", "in a park", "on a sunny field"},
		decorations: []string{"trophies", "medals", "stars", "confetti", "banners"},
		poses:       []string{"in action", "ready to play", "in motion", "dynamic pose"},
	},
	"seasons": {
		scenes:      []string{"in a winter wonderland", "on a spring day", "during summer vacation", "in autumn leaves"},
		decorations: []string{"snowflakes", "flowers", "sun", "falling leaves", "clouds"},
		poses:       []string{"seasonal scene", "nature view", "outdoor setting", "peaceful moment"},
	},
}

// 固定风格子句
const (
	artStyleClause    = "children's coloring book style, simple cartoon illustration, kid-friendly design, non-anthropomorphic, natural proportions"
	techStyleClause   = "black and white coloring page, thick bold outlines, clean lines, pure white background, high contrast, vector line art, no shading, no greyscale, no gradients, no fill colors"
	compositionClause = "centered composition, full body visible, well-framed, professional coloring book quality"
)

// PromptBuilder assembles the text prompt sent to image providers. Scene,
// decorations, and pose are drawn randomly from the theme's table so
// repeated requests don't produce identical pictures.
type PromptBuilder struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPromptBuilder creates a builder seeded from the clock.
func NewPromptBuilder() *PromptBuilder {
	return NewPromptBuilderWithSeed(time.Now().UnixNano())
}

// NewPromptBuilderWithSeed creates a deterministic builder, mainly for tests.
func NewPromptBuilderWithSeed(seed int64) *PromptBuilder {
	return &PromptBuilder{rng: rand.New(rand.NewSource(seed))}
}

// Build 构建涂色卡片生成 Prompt
//
// 结构：[主体+姿态+场景] + [装饰] + [艺术风格] + [技术风格] + [构图] + [难度]
func (b *PromptBuilder) Build(req types.GenerationRequest) string {
	themeKey := strings.ToLower(req.Theme)
	enh, ok := themeEnhancements[themeKey]
	if !ok {
		enh = themeEnhancements["animals"]
	}

	scene := b.pick(enh.scenes)
	deco1 := b.pick(enh.decorations)
	deco2 := b.pickOther(enh.decorations, deco1)
	pose := b.pick(enh.poses)

	var complexity, decorationCount string
	switch req.Difficulty {
	case types.DifficultyEasy:
		complexity = "very simple shapes, minimal details, extra thick outlines, large empty areas to color, rounded corners, no small parts"
		decorationCount = "with a few simple " + deco1
	case types.DifficultyHard:
		complexity = "intricate details, complex patterns, fine lines, many small areas to color, elaborate decorations"
		decorationCount = "richly decorated with " + deco1 + ", " + deco2 + " and ornate patterns"
	default:
		complexity = "moderate details, balanced composition, medium-sized areas to color, some decorative elements"
		decorationCount = "surrounded by " + deco1 + " and " + deco2
	}

	subjectDesc := "a " + req.Subject + " " + pose + " " + scene

	prompt := strings.Join([]string{
		subjectDesc,
		decorationCount,
		artStyleClause,
		techStyleClause,
		compositionClause,
		complexity,
	}, ", ")

	if custom := strings.TrimSpace(req.CustomPrompt); custom != "" {
		prompt += ", " + custom
	}
	return prompt
}

func (b *PromptBuilder) pick(items []string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return items[b.rng.Intn(len(items))]
}

// pickOther picks an element distinct from exclude when the table has more
// than one entry.
func (b *PromptBuilder) pickOther(items []string, exclude string) string {
	rest := make([]string, 0, len(items))
	for _, it := range items {
		if it != exclude {
			rest = append(rest, it)
		}
	}
	if len(rest) == 0 {
		return exclude
	}
	return b.pick(rest)
}
