package catalog

import "time"

// Button kinds accepted in automation outputs.
const (
	ButtonKindURL        = "url"
	ButtonKindCallback   = "callback"
	ButtonKindQuickReply = "quick_reply"
)

// Automation is one catalog entry: a rule-gated canned interaction.
type Automation struct {
	ID              string        `yaml:"id"`
	Topic           string        `yaml:"topic"`
	UseWhen         string        `yaml:"use_when"`
	Eligibility     string        `yaml:"eligibility"`
	Priority        float64       `yaml:"priority"`
	CooldownSeconds int           `yaml:"cooldown_seconds"`
	Output          Output        `yaml:"output"`
	ExpectsReply    *ExpectsReply `yaml:"expects_reply,omitempty"`
}

// Cooldown returns the automation's cooldown window.
func (a *Automation) Cooldown() time.Duration {
	if a.CooldownSeconds <= 0 {
		return defaultCooldown
	}
	return time.Duration(a.CooldownSeconds) * time.Second
}

const defaultCooldown = 5 * time.Minute

// Output is the payload rendered when an automation fires.
type Output struct {
	Type    string   `yaml:"type"` // "message" is the only type today
	Text    string   `yaml:"text"`
	Media   []Media  `yaml:"media,omitempty"`
	Buttons []Button `yaml:"buttons,omitempty"`
}

// Media references an image/video attachment by URL.
type Media struct {
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"`
}

// Button is an inline action offered with a message.
type Button struct {
	Label string `yaml:"label"`
	Kind  string `yaml:"kind"`
	URL   string `yaml:"url,omitempty"`
}

// ExpectsReply marks an automation as asking a question whose answer the
// confirmation gate should capture.
type ExpectsReply struct {
	Target string `yaml:"target"`
}
