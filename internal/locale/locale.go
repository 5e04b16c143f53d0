package locale

import (
	"golang.org/x/text/language"
)

// Locale holds the strings that vary by output language.
type Locale struct {
	Code string
	// Instruction is the language name given to the model, in English.
	Instruction string
	Headers     [5]string // name, active, hours, studies, comment
	Yes         string
	No          string
}

const DefaultCode = "en"

var order = []string{"en", "sv", "es", "lv"}

var locales = map[string]Locale{
	"en": {
		Code:        "en",
		Instruction: "English",
		Headers:     [5]string{"Name", "Active", "Hours", "Studies", "Comment"},
		Yes:         "Yes",
		No:          "No",
	},
	"sv": {
		Code:        "sv",
		Instruction: "Swedish",
		Headers:     [5]string{"Namn", "Aktiv", "Timmar", "Studier", "Kommentar"},
		Yes:         "Ja",
		No:          "Nej",
	},
	"es": {
		Code:        "es",
		Instruction: "Spanish",
		Headers:     [5]string{"Nombre", "Activo", "Horas", "Estudios", "Comentario"},
		Yes:         "Sí",
		No:          "No",
	},
	"lv": {
		Code:        "lv",
		Instruction: "Latvian",
		Headers:     [5]string{"Vārds", "Aktīvs", "Stundas", "Studijas", "Komentārs"},
		Yes:         "Jā",
		No:          "Nē",
	},
}

// Lookup resolves a language code such as "sv" or "sv-SE". Unsupported or
// malformed codes fall back to English.
func Lookup(code string) Locale {
	if l, ok := resolve(code); ok {
		return l
	}
	return locales[DefaultCode]
}

// Supported reports whether code resolves to one of the known locales.
func Supported(code string) bool {
	_, ok := resolve(code)
	return ok
}

func resolve(code string) (Locale, bool) {
	if l, ok := locales[code]; ok {
		return l, true
	}
	tag, err := language.Parse(code)
	if err != nil {
		return Locale{}, false
	}
	base, _ := tag.Base()
	l, ok := locales[base.String()]
	return l, ok
}

// All returns the supported locales in display order.
func All() []Locale {
	out := make([]Locale, 0, len(order))
	for _, code := range order {
		out = append(out, locales[code])
	}
	return out
}
