package transcribe

import (
	"strings"

	"golang.org/x/text/language"
)

// whisperLanguages maps the language names returned by hosted whisper models
// to the codes whisper.cpp reports
var whisperLanguages = map[string]string{
	"afrikaans":      "af",
	"albanian":       "sq",
	"amharic":        "am",
	"arabic":         "ar",
	"armenian":       "hy",
	"assamese":       "as",
	"azerbaijani":    "az",
	"bashkir":        "ba",
	"basque":         "eu",
	"belarusian":     "be",
	"bengali":        "bn",
	"bosnian":        "bs",
	"breton":         "br",
	"bulgarian":      "bg",
	"burmese":        "my",
	"cantonese":      "yue",
	"catalan":        "ca",
	"chinese":        "zh",
	"croatian":       "hr",
	"czech":          "cs",
	"danish":         "da",
	"dutch":          "nl",
	"english":        "en",
	"estonian":       "et",
	"faroese":        "fo",
	"finnish":        "fi",
	"french":         "fr",
	"galician":       "gl",
	"georgian":       "ka",
	"german":         "de",
	"greek":          "el",
	"gujarati":       "gu",
	"haitian creole": "ht",
	"hausa":          "ha",
	"hawaiian":       "haw",
	"hebrew":         "he",
	"hindi":          "hi",
	"hungarian":      "hu",
	"icelandic":      "is",
	"indonesian":     "id",
	"italian":        "it",
	"japanese":       "ja",
	"javanese":       "jw",
	"kannada":        "kn",
	"kazakh":         "kk",
	"khmer":          "km",
	"korean":         "ko",
	"lao":            "lo",
	"latin":          "la",
	"latvian":        "lv",
	"lingala":        "ln",
	"lithuanian":     "lt",
	"luxembourgish":  "lb",
	"macedonian":     "mk",
	"malagasy":       "mg",
	"malay":          "ms",
	"malayalam":      "ml",
	"maltese":        "mt",
	"maori":          "mi",
	"marathi":        "mr",
	"mongolian":      "mn",
	"nepali":         "ne",
	"norwegian":      "no",
	"nynorsk":        "nn",
	"occitan":        "oc",
	"pashto":         "ps",
	"persian":        "fa",
	"polish":         "pl",
	"portuguese":     "pt",
	"punjabi":        "pa",
	"romanian":       "ro",
	"russian":        "ru",
	"sanskrit":       "sa",
	"serbian":        "sr",
	"shona":          "sn",
	"sindhi":         "sd",
	"sinhala":        "si",
	"slovak":         "sk",
	"slovenian":      "sl",
	"somali":         "so",
	"spanish":        "es",
	"sundanese":      "su",
	"swahili":        "sw",
	"swedish":        "sv",
	"tagalog":        "tl",
	"tajik":          "tg",
	"tamil":          "ta",
	"tatar":          "tt",
	"telugu":         "te",
	"thai":           "th",
	"tibetan":        "bo",
	"turkish":        "tr",
	"turkmen":        "tk",
	"ukrainian":      "uk",
	"urdu":           "ur",
	"uzbek":          "uz",
	"vietnamese":     "vi",
	"welsh":          "cy",
	"yiddish":        "yi",
	"yoruba":         "yo",
}

var whisperCodes = func() map[string]bool {
	codes := make(map[string]bool, len(whisperLanguages))
	for _, code := range whisperLanguages {
		codes[code] = true
	}
	return codes
}()

// languageCode normalizes a detected language to a whisper language code.
// BCP 47 tags are reduced to their base language. Anything else is returned
// lowercased; empty becomes "unknown".
func languageCode(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "unknown"
	}
	if whisperCodes[lang] {
		return lang
	}
	if code, ok := whisperLanguages[lang]; ok {
		return code
	}
	if tag, err := language.Parse(lang); err == nil {
		if base, conf := tag.Base(); conf != language.No {
			return base.String()
		}
	}
	return lang
}
