package indicator

import (
	"os"
	"strings"

	"github.com/rbright/livelink/internal/config"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	connecting string
	active     string
	errorText  string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			connecting: "Connecting…",
			active:     "Live",
			errorText:  "Live link error",
		}
	}
}

// withOverrides applies non-empty configured texts.
func (m messages) withOverrides(cfg config.IndicatorConfig) messages {
	if text := strings.TrimSpace(cfg.TextConnecting); text != "" {
		m.connecting = text
	}
	if text := strings.TrimSpace(cfg.TextActive); text != "" {
		m.active = text
	}
	if text := strings.TrimSpace(cfg.TextError); text != "" {
		m.errorText = text
	}
	return m
}
