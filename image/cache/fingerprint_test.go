package cache

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/kidcanvas/imagesvc/types"
)

// =============================================================================
// 🧪 Fingerprint 测试
// =============================================================================

func TestFingerprint_Deterministic(t *testing.T) {
	req := types.GenerationRequest{
		Theme:      "animals",
		Subject:    "cat",
		Difficulty: types.DifficultyMedium,
	}

	assert.Equal(t, Fingerprint(req), Fingerprint(req))
}

func TestFingerprint_CaseAndWhitespaceInsensitive(t *testing.T) {
	base := types.GenerationRequest{
		Theme:        "animals",
		Subject:      "cat",
		Difficulty:   types.DifficultyMedium,
		CustomPrompt: "with a hat",
	}
	variant := types.GenerationRequest{
		Theme:        "  Animals ",
		Subject:      "CAT",
		Difficulty:   types.DifficultyMedium,
		CustomPrompt: " With A Hat  ",
	}

	assert.Equal(t, Fingerprint(base), Fingerprint(variant),
		"主题、主体与自定义提示词的大小写和首尾空白不应影响指纹")
}

func TestFingerprint_FieldsDiscriminate(t *testing.T) {
	base := types.GenerationRequest{
		Theme:      "animals",
		Subject:    "cat",
		Difficulty: types.DifficultyMedium,
	}

	byTheme := base
	byTheme.Theme = "vehicles"
	bySubject := base
	bySubject.Subject = "dog"
	byDifficulty := base
	byDifficulty.Difficulty = types.DifficultyHard
	byCustom := base
	byCustom.CustomPrompt = "extra"

	fp := Fingerprint(base)
	assert.NotEqual(t, fp, Fingerprint(byTheme))
	assert.NotEqual(t, fp, Fingerprint(bySubject))
	assert.NotEqual(t, fp, Fingerprint(byDifficulty))
	assert.NotEqual(t, fp, Fingerprint(byCustom))
}

func TestFingerprint_HTMLCharactersStable(t *testing.T) {
	// SetEscapeHTML(false)：含 <、>、& 的输入不受 JSON 转义影响
	a := types.GenerationRequest{
		Theme:        "animals",
		Subject:      "cat & dog",
		Difficulty:   types.DifficultyMedium,
		CustomPrompt: "<sparkles>",
	}
	b := a
	b.Subject = "CAT & DOG  "

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_IsHexSHA256(t *testing.T) {
	fp := Fingerprint(types.GenerationRequest{Theme: "x", Subject: "y"})
	assert.Len(t, fp, 64)
	_, err := hex.DecodeString(fp)
	assert.NoError(t, err)
}

func TestFingerprint_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		theme := rapid.StringMatching(`[a-zA-Z ]{1,16}`).Draw(t, "theme")
		subject := rapid.StringMatching(`[a-zA-Z ]{1,16}`).Draw(t, "subject")
		difficulty := rapid.SampledFrom([]types.Difficulty{
			types.DifficultyEasy, types.DifficultyMedium, types.DifficultyHard,
		}).Draw(t, "difficulty")

		req := types.GenerationRequest{
			Theme:      theme,
			Subject:    subject,
			Difficulty: difficulty,
		}
		noisy := types.GenerationRequest{
			Theme:      "  " + strings.ToUpper(theme) + " ",
			Subject:    strings.ToUpper(subject) + "  ",
			Difficulty: difficulty,
		}

		fp := Fingerprint(req)
		if len(fp) != 64 {
			t.Fatalf("unexpected fingerprint length %d", len(fp))
		}
		if fp != Fingerprint(noisy) {
			t.Fatalf("fingerprint not normalization-invariant: %q vs %q", theme, subject)
		}
	})
}
