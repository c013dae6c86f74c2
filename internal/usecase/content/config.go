package content

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// NicheConfig описывает нишу аккаунта: имя и ключевые слова, по которым
// тема относится к нише. Сопоставление подстрочное и регистронезависимое.
type NicheConfig struct {
	Name     string
	Keywords []string
}

// Ниши перебираются в фиксированном порядке: тема, подходящая нескольким
// нишам, детерминированно попадает в первую.
var niches = []NicheConfig{
	{Name: "skincare", Keywords: []string{"serum", "moisturizer", "retinol", "spf", "glow", "skincare", "skin care"}},
	{Name: "haircare", Keywords: []string{"shampoo", "conditioner", "mask", "scalp", "curls", "hair"}},
	{Name: "makeup", Keywords: []string{"lipstick", "foundation", "concealer", "blush", "mascara", "makeup"}},
}

// VisualTemplate задаёт фиксированный стиль изображения под-ниши. Стиль не
// варьируется между запусками: одинаковая тема даёт одинаковый промпт.
type VisualTemplate struct {
	Palette      string
	Props        string
	Lighting     string
	Style        string
	Angle        string
	Audience     string
	TextPosition string
}

type subNicheConfig struct {
	Name     string
	Keywords []string
	Template VisualTemplate
}

var subNiches = []subNicheConfig{
	{
		Name:     "anti-aging",
		Keywords: []string{"wrinkle", "aging", "mature", "anti-aging"},
		Template: VisualTemplate{
			Palette:      "soft gold and ivory",
			Props:        "crystal roller, fresh roses",
			Lighting:     "warm sunrise glow",
			Style:        "luxury spa aesthetic",
			Angle:        "slightly elevated 3/4 view",
			Audience:     "women 35+ seeking premium skincare",
			TextPosition: "bottom right in 10% opacity",
		},
	},
	{
		Name:     "acne",
		Keywords: []string{"acne", "blemish", "breakout", "clear skin"},
		Template: VisualTemplate{
			Palette:      "clinical blue and white",
			Props:        "aloe vera plant, bamboo towel",
			Lighting:     "bright natural light",
			Style:        "clean medical look",
			Angle:        "straight-on clinical angle",
			Audience:     "teens and young adults with breakout concerns",
			TextPosition: "top left in clean sans-serif",
		},
	},
	{
		Name:     "glow",
		Keywords: []string{"glow", "radiance", "illuminating", "glass skin"},
		Template: VisualTemplate{
			Palette:      "peach and champagne",
			Props:        "citrus slices, dewdrops",
			Lighting:     "soft diffused light",
			Style:        "ethereal glow",
			Angle:        "soft focus close-up",
			Audience:     "all ages wanting radiant skin",
			TextPosition: "centered with light glow effect",
		},
	},
	{
		Name:     "curly",
		Keywords: []string{"curl", "coily", "frizz", "natural hair"},
		Template: VisualTemplate{
			Palette:      "vibrant jewel tones",
			Props:        "wide-tooth comb, silk scarf",
			Lighting:     "studio lighting",
			Style:        "textured close-up",
			Angle:        "dynamic diagonal composition",
			Audience:     "natural hair enthusiasts",
			TextPosition: "wrapped around product",
		},
	},
	{
		Name:     "repair",
		Keywords: []string{"repair", "damage", "split end", "treatment"},
		Template: VisualTemplate{
			Palette:      "deep emerald and gold",
			Props:        "olive branches, ceramic vase",
			Lighting:     "dramatic side light",
			Style:        "salon professional",
			Angle:        "hero product shot from above",
			Audience:     "those with chemically treated hair",
			TextPosition: "bottom center",
		},
	},
	{
		Name:     "clean",
		Keywords: []string{"clean", "organic", "non-toxic", "natural"},
		Template: VisualTemplate{
			Palette:      "earth tones",
			Props:        "recycled packaging, plants",
			Lighting:     "natural daylight",
			Style:        "minimalist flat lay",
			Angle:        "flat lay with props",
			Audience:     "eco-conscious millennials",
			TextPosition: "bottom center",
		},
	},
	{
		Name:     "luxury",
		Keywords: []string{"luxury", "premium", "high-end", "gold"},
		Template: VisualTemplate{
			Palette:      "black and rose gold",
			Props:        "marble surface, pearls",
			Lighting:     "moody ambiance",
			Style:        "high-end editorial",
			Angle:        "dramatic Dutch angle",
			Audience:     "affluent beauty collectors",
			TextPosition: "discreet gold foil embossing",
		},
	},
}

// defaultSubNiche применяется, когда тема не попала ни в одну под-нишу.
const defaultSubNiche = "glow"

// Варианты текста раскрытия партнёрства. Вариант выбирается конфигурацией
// и добавляется к подписи ровно один раз.
var disclosureVariants = map[string]string{
	"minimal":    "#ad",
	"standard":   "As an Amazon Associate I earn from qualifying purchases.",
	"regulatory": "Ad | As an Amazon Associate I earn from qualifying purchases. #affiliate",
}

// DisclosureText возвращает текст варианта раскрытия.
func DisclosureText(variant string) (string, bool) {
	text, ok := disclosureVariants[variant]
	return text, ok
}

// classifyNiche относит тему к нише и возвращает совпавшие ключевые слова.
// Пустое имя ниши означает, что тема вне профиля аккаунта.
func classifyNiche(topic string) (string, []string) {
	lowered := strings.ToLower(topic)
	for _, niche := range niches {
		matches := make([]string, 0, 2)
		for _, keyword := range niche.Keywords {
			if strings.Contains(lowered, keyword) {
				matches = append(matches, keyword)
			}
		}
		if len(matches) > 0 {
			return niche.Name, matches
		}
	}
	return "", nil
}

// identifySubNiche подбирает под-нишу по ключевым словам темы.
func identifySubNiche(topic string) (string, VisualTemplate) {
	lowered := strings.ToLower(topic)
	for _, sub := range subNiches {
		for _, keyword := range sub.Keywords {
			if strings.Contains(lowered, keyword) {
				return sub.Name, sub.Template
			}
		}
	}
	for _, sub := range subNiches {
		if sub.Name == defaultSubNiche {
			return sub.Name, sub.Template
		}
	}
	return defaultSubNiche, VisualTemplate{}
}

// Config — правила сборки и комплаенса контента.
type Config struct {
	// Disclosure — имя варианта раскрытия партнёрства.
	Disclosure string
	// CaptionMin и CaptionMax ограничивают длину итоговой подписи в
	// символах, включая раскрытие.
	CaptionMin int
	CaptionMax int
	// MaxTokens ограничивает платный вызов генерации текста.
	MaxTokens int
	// BannedPhrases запрещены в подписи и заголовке, сопоставление
	// подстрочное и регистронезависимое.
	BannedPhrases []string
	// TopicBlacklist отсеивает темы до сборки: фразы с пробелом ищутся как
	// подстрока, одиночные слова сравниваются по словам темы.
	TopicBlacklist []string
}

// Validate проверяет согласованность правил.
func (c Config) Validate() error {
	disclosure, ok := DisclosureText(c.Disclosure)
	if !ok {
		return fmt.Errorf("неизвестный вариант раскрытия %q", c.Disclosure)
	}
	if c.CaptionMin <= 0 || c.CaptionMax <= c.CaptionMin {
		return fmt.Errorf("некорректное окно длины подписи [%d, %d]", c.CaptionMin, c.CaptionMax)
	}
	if c.CaptionMin-utf8.RuneCountInString(disclosure)-len(captionSeparator) <= 0 {
		return fmt.Errorf("раскрытие %q не оставляет места для подписи", c.Disclosure)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("лимит токенов должен быть положительным")
	}
	return nil
}
