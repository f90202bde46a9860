// Package locale holds the fixed user-facing strings of the chat coach: the greeting that
// opens an empty conversation and the notices shown when an exchange fails.
package locale

import "strings"

type Language int

const (
	English Language = iota
	Russian
	Latvian
)

// ParseLanguage maps a language tag such as "ru" or "lv-LV" to a Language. Unknown tags
// fall back to English.
func ParseLanguage(tag string) Language {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	switch tag {
	case "ru":
		return Russian
	case "lv":
		return Latvian
	default:
		return English
	}
}

func (l Language) String() string {
	switch l {
	case Russian:
		return "ru"
	case Latvian:
		return "lv"
	default:
		return "en"
	}
}

// Notice identifies a transient failure message.
type Notice int

const (
	NoticeRateLimited Notice = iota
	NoticePaymentRequired
	NoticeRequestFailed
	NoticeConnectionError
)

func (n Notice) String() string {
	switch n {
	case NoticeRateLimited:
		return "rate_limited"
	case NoticePaymentRequired:
		return "payment_required"
	case NoticeConnectionError:
		return "connection_error"
	default:
		return "request_failed"
	}
}

// Greeting returns the assistant message that opens a conversation without history.
func Greeting(lang Language) string {
	switch lang {
	case Russian:
		return "Привет! Я TYANA, твой помощник по самочувствию. Расскажи, как ты спишь, какое у тебя настроение и уровень энергии, и я помогу разобраться."
	case Latvian:
		return "Sveiki! Es esmu TYANA, tavs labsajūtas palīgs. Pastāsti, kā tu guli, kāds ir tavs noskaņojums un enerģijas līmenis, un es palīdzēšu to saprast."
	default:
		return "Hi! I'm TYANA, your wellness companion. Tell me how you're sleeping, how your mood and energy are, and I'll help you make sense of it."
	}
}

// Text returns the localized wording of a notice.
func Text(lang Language, n Notice) string {
	switch lang {
	case Russian:
		switch n {
		case NoticeRateLimited:
			return "Слишком много запросов. Подождите немного и попробуйте снова."
		case NoticePaymentRequired:
			return "Лимит бесплатных сообщений исчерпан. Оформите подписку, чтобы продолжить."
		case NoticeConnectionError:
			return "Ошибка соединения. Проверьте интернет и попробуйте снова."
		default:
			return "Не удалось получить ответ. Попробуйте ещё раз."
		}
	case Latvian:
		switch n {
		case NoticeRateLimited:
			return "Pārāk daudz pieprasījumu. Lūdzu, uzgaidiet un mēģiniet vēlreiz."
		case NoticePaymentRequired:
			return "Bezmaksas ziņu limits ir sasniegts. Noformējiet abonementu, lai turpinātu."
		case NoticeConnectionError:
			return "Savienojuma kļūda. Pārbaudiet internetu un mēģiniet vēlreiz."
		default:
			return "Neizdevās saņemt atbildi. Lūdzu, mēģiniet vēlreiz."
		}
	default:
		switch n {
		case NoticeRateLimited:
			return "Too many requests. Please wait a moment and try again."
		case NoticePaymentRequired:
			return "You've used all free messages. Subscribe to keep chatting."
		case NoticeConnectionError:
			return "Connection error. Check your internet and try again."
		default:
			return "Couldn't get a response. Please try again."
		}
	}
}

// NoticeForStatus classifies a non-success HTTP status returned by the chat endpoint.
func NoticeForStatus(status int) Notice {
	switch status {
	case 429:
		return NoticeRateLimited
	case 402:
		return NoticePaymentRequired
	default:
		return NoticeRequestFailed
	}
}
