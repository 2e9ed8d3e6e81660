package chat

import (
	"fmt"
	"strings"
)

// Coach describes the coach persona a turn runs under. Supplied by the
// caller; this package does not own coach configuration.
type Coach struct {
	ID          string
	DisplayName string
	DomainType  string
	Specialties []string
}

// Profile carries the caller-supplied user fields used in prompts and
// template personalization.
type Profile struct {
	UserID     string
	Name       string
	Goal       string
	AccessTier string
}

// systemPrompt renders the coach persona into generation instructions.
func systemPrompt(coach Coach) string {
	var b strings.Builder
	name := coach.DisplayName
	if name == "" {
		name = "a supportive coach"
	}
	fmt.Fprintf(&b, "You are %s, a supportive %s coach.", name, domainLabel(coach.DomainType))
	if len(coach.Specialties) > 0 {
		fmt.Fprintf(&b, " You specialize in %s.", strings.Join(coach.Specialties, ", "))
	}
	b.WriteString(" Answer in a warm, practical tone. Ground your advice in the provided" +
		" knowledge context when it is present, and say so when you are unsure." +
		" Never invent medical facts and recommend a doctor for medical concerns.")
	return b.String()
}

func domainLabel(domainType string) string {
	if domainType == "" {
		return "health and lifestyle"
	}
	return strings.ReplaceAll(strings.ToLower(domainType), "_", " ")
}

// userContext renders profile fields for the prompt. Only fields the
// caller actually supplied are included.
func userContext(p Profile) string {
	var parts []string
	if p.Name != "" {
		parts = append(parts, "Name: "+p.Name)
	}
	if p.Goal != "" {
		parts = append(parts, "Goal: "+p.Goal)
	}
	if len(parts) == 0 {
		return ""
	}
	return "User profile:\n" + strings.Join(parts, "\n")
}

// fallbackTemplates are the deterministic answers substituted when
// generation fails, keyed by coach domain type. The generic entry
// covers unknown domains.
var fallbackTemplates = map[string]string{
	"keto": "I'm having trouble composing a detailed answer right now, [name]. " +
		"Meanwhile, the keto fundamentals hold: keep net carbs low, prioritize protein " +
		"and healthy fats, and stay hydrated. Let's pick this up again in a moment.",
	"fasting": "I can't give you a full answer right now, [name]. " +
		"Until I'm back, stick with your current fasting window and break your fast gently. " +
		"Please try me again shortly.",
	"fitness": "I'm unable to put together a proper answer at the moment, [name]. " +
		"Keep your training consistent and prioritize recovery, and ask me again soon.",
	"": "I'm having trouble answering right now, [name]. Working toward [goal] is " +
		"built on consistent small steps, so keep going and ask me again in a moment.",
}

// fallbackResponse returns the deterministic coach-type answer for a
// failed generation, personalized from the profile.
func fallbackResponse(coach Coach, p Profile) string {
	tmpl, ok := fallbackTemplates[strings.ToLower(coach.DomainType)]
	if !ok {
		tmpl = fallbackTemplates[""]
	}

	name := p.Name
	if name == "" {
		name = "there"
	}
	goal := p.Goal
	if goal == "" {
		goal = "your goal"
	}
	out := strings.ReplaceAll(tmpl, "[name]", name)
	return strings.ReplaceAll(out, "[goal]", goal)
}
