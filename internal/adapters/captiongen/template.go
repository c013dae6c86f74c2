package captiongen

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"pin-affiliate-bot/internal/domain"
)

// Template собирает текст пина из банка фраз без обращения к LLM.
// Результат детерминирован по теме, стоимость нулевая.
type Template struct{}

// NewTemplate создаёт шаблонный генератор текста.
func NewTemplate() *Template {
	return &Template{}
}

type phraseBank struct {
	taglines []string
	hooks    []string
	benefits []string
	closers  []string
	extras   []string
	hashtags []string
}

var banks = map[string]phraseBank{
	"skincare": {
		taglines: []string{"Simple Glow Guide", "Routine Refresh", "Skin First"},
		hooks: []string{
			"Trying %s? Start here.",
			"%s is everywhere right now.",
			"Make %s part of your week.",
		},
		benefits: []string{
			"Gentle layers beat harsh fixes.",
			"Hydration first, actives second.",
			"Small steps add up to a real glow.",
			"Your barrier sets the pace, respect it.",
		},
		closers: []string{
			"Tap the link for our favorite picks.",
			"The link below has the exact finds.",
		},
		extras: []string{
			"Save this pin for your next routine.",
			"Morning or evening, it works.",
			"Start small and stay consistent.",
			"Patch test new products first.",
			"Less really is more here.",
		},
		hashtags: []string{"skincare", "skincareroutine", "glowingskin", "selfcare", "beautytips", "skincaretips"},
	},
	"haircare": {
		taglines: []string{"Good Hair Days", "Wash Day Notes", "Hair Care Edit"},
		hooks: []string{
			"Struggling with %s? You are not alone.",
			"%s can be easy on busy days.",
			"Give %s a fair try this month.",
		},
		benefits: []string{
			"Healthy ends start at the scalp.",
			"Deep conditioning pays off fast.",
			"Heat protection is non-negotiable.",
			"A simple routine beats a long one.",
		},
		closers: []string{
			"Shop the picks through the link.",
			"The link has everything mentioned.",
		},
		extras: []string{
			"Save this for your next wash day.",
			"Works for most hair types.",
			"Takes ten minutes, tops.",
			"Your future hair says thanks.",
			"Keep it gentle and regular.",
		},
		hashtags: []string{"haircare", "hairroutine", "healthyhair", "curlyhair", "hairtips", "washday"},
	},
	"makeup": {
		taglines: []string{"Everyday Makeup Edit", "Soft Look Notes", "Makeup Minimal"},
		hooks: []string{
			"Curious about %s? Here is the short version.",
			"%s looks great with almost no effort.",
			"Keep %s simple and wearable.",
		},
		benefits: []string{
			"Blendable formulas forgive everything.",
			"Natural light is your best mirror.",
			"One good base beats five fixes.",
			"Cream textures melt into skin.",
		},
		closers: []string{
			"Our picks are waiting behind the link.",
			"Tap the link to see the exact shades.",
		},
		extras: []string{
			"Save this look for the weekend.",
			"Five minutes is all it takes.",
			"Day to night with one extra step.",
			"Start light, build as needed.",
			"Skip what does not serve the look.",
		},
		hashtags: []string{"makeup", "makeuplook", "everydaymakeup", "beautyinspo", "makeuptips", "softglam"},
	},
}

var defaultBank = banks["skincare"]

// Generate собирает текст пина из банка фраз: открывающая фраза по теме,
// две выгоды, призыв и добивка до нижней границы длины.
func (t *Template) Generate(_ context.Context, req domain.TextRequest) (domain.TextResult, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return domain.TextResult{}, fmt.Errorf("captiongen: пустая тема")
	}
	bank, ok := banks[strings.ToLower(req.Niche)]
	if !ok {
		bank = defaultBank
	}
	seed := topicSeed(topic)
	pick := func(list []string, salt int) string {
		return list[(seed+salt)%len(list)]
	}

	parts := []string{
		fmt.Sprintf(pick(bank.hooks, 0), strings.ToLower(topic)),
		pick(bank.benefits, 1),
		pick(bank.benefits, 2),
		pick(bank.closers, 3),
	}
	caption := strings.Join(parts, " ")
	// Добивочные фразы короче ширины допустимого окна длины, поэтому
	// дополнение снизу не выбрасывает подпись за верхнюю границу.
	for i := 0; req.MinChars > 0 && utf8.RuneCountInString(caption) < req.MinChars; i++ {
		if i >= len(bank.extras)*2 {
			break
		}
		caption += " " + pick(bank.extras, i)
	}
	if req.MaxChars > 0 && utf8.RuneCountInString(caption) > req.MaxChars {
		caption = trimToWord(caption, req.MaxChars)
	}

	hashtags := make([]string, 0, 4)
	for j := 0; j < 4; j++ {
		hashtags = append(hashtags, pick(bank.hashtags, j))
	}

	title := titleCase(topic) + ": " + pick(bank.taglines, 5)
	if utf8.RuneCountInString(title) > 80 {
		title = trimToWord(title, 80)
	}

	return domain.TextResult{
		Title:    title,
		Caption:  caption,
		Hashtags: hashtags,
		Cost:     decimal.Zero,
	}, nil
}

func topicSeed(topic string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(topic)))
	return int(h.Sum32() % 1000)
}

// trimToWord обрезает строку по границе слова и закрывает её точкой.
func trimToWord(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := string(runes[:limit-1])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	cut = strings.TrimRight(cut, " ,.;:!")
	return cut + "."
}

func titleCase(text string) string {
	words := strings.Fields(strings.ToLower(text))
	for i, word := range words {
		r, size := utf8.DecodeRuneInString(word)
		if r == utf8.RuneError {
			continue
		}
		words[i] = string(unicode.ToUpper(r)) + word[size:]
	}
	return strings.Join(words, " ")
}

var _ domain.TextBackend = (*Template)(nil)
