package tracker

import (
	"strings"
	"sync"
)

// State is the agent's current step as seen by observers.
type State struct {
	// Action is the step being executed. Its concrete type belongs to the
	// caller (the agent stores its action values here).
	Action      any
	Think       string
	Gaps        []string
	BadAttempts int
	TotalStep   int
}

func (s State) clone() State {
	if s.Gaps != nil {
		s.Gaps = append([]string(nil), s.Gaps...)
	}
	return s
}

// ActionTracker holds the current step state and notifies listeners each
// time it changes.
type ActionTracker struct {
	mu        sync.Mutex
	state     State
	listeners listenerSet[State]
}

// NewActionTracker returns an empty tracker.
func NewActionTracker() *ActionTracker {
	return &ActionTracker{}
}

// TrackAction merges update into the current state and emits the merged
// state. Zero-valued fields of update leave the current value untouched.
func (a *ActionTracker) TrackAction(update State) {
	a.mu.Lock()
	if update.Action != nil {
		a.state.Action = update.Action
	}
	if update.Think != "" {
		a.state.Think = update.Think
	}
	if update.Gaps != nil {
		a.state.Gaps = append([]string(nil), update.Gaps...)
	}
	if update.BadAttempts != 0 {
		a.state.BadAttempts = update.BadAttempts
	}
	if update.TotalStep != 0 {
		a.state.TotalStep = update.TotalStep
	}
	merged := a.state.clone()
	a.mu.Unlock()

	a.listeners.emit(merged)
}

// TrackThink sets the think text and emits. key is looked up in the
// message table for lang; an unknown key is used as the text itself.
// ${name} placeholders are filled from params.
func (a *ActionTracker) TrackThink(key, lang string, params map[string]string) {
	think := localize(key, lang, params)
	if think == "" {
		return
	}
	a.TrackAction(State{Think: think})
}

// State returns a copy of the current state.
func (a *ActionTracker) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.clone()
}

// Reset restores the empty state. Listeners stay attached.
func (a *ActionTracker) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = State{}
}

// OnAction registers fn to receive every emitted state. The returned
// function detaches it.
func (a *ActionTracker) OnAction(fn func(State)) (remove func()) {
	return a.listeners.add(fn)
}

// Listeners returns the number of attached listeners.
func (a *ActionTracker) Listeners() int {
	return a.listeners.len()
}

var messages = map[string]map[string]string{
	"eval_first": {
		"en": "But wait, let me evaluate the answer first.",
		"zh": "等等，让我先自己评估一下答案。",
		"ja": "ちょっと待って、まず答えを評価します。",
		"de": "Moment, ich prüfe die Antwort zuerst.",
		"fr": "Attendez, laissez-moi d'abord évaluer la réponse.",
		"es": "Un momento, primero evaluaré la respuesta.",
	},
	"search_for": {
		"en": "Let me search for ${keywords} to gather more information.",
		"zh": "让我搜索${keywords}来获取更多信息。",
		"ja": "${keywords}を検索して、さらに情報を集めます。",
		"de": "Ich suche nach ${keywords}, um mehr Informationen zu sammeln.",
		"fr": "Je vais rechercher ${keywords} pour obtenir plus d'informations.",
		"es": "Voy a buscar ${keywords} para reunir más información.",
	},
	"read_for": {
		"en": "Let me read ${urls} to gather more information.",
		"zh": "让我读取网页${urls}来获取更多信息。",
		"ja": "${urls}を読んで、さらに情報を集めます。",
		"de": "Ich lese ${urls}, um mehr Informationen zu sammeln.",
		"fr": "Je vais lire ${urls} pour obtenir plus d'informations.",
		"es": "Voy a leer ${urls} para reunir más información.",
	},
}

func localize(key, lang string, params map[string]string) string {
	text := key
	if table, ok := messages[key]; ok {
		if t, ok := table[normalizeLang(lang)]; ok {
			text = t
		} else {
			text = table["en"]
		}
	}
	if len(params) == 0 {
		return text
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "${"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// normalizeLang reduces a tag such as "zh-CN" or "en_US" to its primary
// subtag.
func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if lang == "" {
		return "en"
	}
	return lang
}
