package content

import (
	"fmt"
	"strings"
)

// buildImagePrompt строит промпт генерации изображения из фиксированного
// шаблона под-ниши. Одинаковая тема всегда даёт одинаковый промпт.
func buildImagePrompt(topic string, tpl VisualTemplate) string {
	hashtag := strings.ReplaceAll(topic, " ", "")
	return fmt.Sprintf(`Create a Pinterest-optimized product photograph with these specific requirements:

1. PRODUCT DISPLAY:
- %s as the focal point
- Photorealistic detail showing texture
- %s lighting
- %s style

2. STYLING:
- Color palette: %s
- Props: %s
- %s camera angle
- Negative space for text overlay

3. CONTEXT:
- Trending on Pinterest: #%s
- Target audience: %s
- Avoid AI artifacts, make it look authentic

4. TEXT ELEMENTS:
- Only show "%s" in subtle script font
- Positioned at %s`,
		topic, tpl.Lighting, tpl.Style, tpl.Palette, tpl.Props, tpl.Angle,
		hashtag, tpl.Audience, topic, tpl.TextPosition)
}

// altText описывает изображение для программ чтения с экрана.
func altText(topic string, tpl VisualTemplate) string {
	return fmt.Sprintf("%s, %s with %s", topic, tpl.Style, tpl.Props)
}
