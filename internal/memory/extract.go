package memory

import (
	"regexp"
	"strconv"
	"strings"
)

// factRule matches one durable statement shape in a user message. The
// whole match is kept verbatim as the fact text.
type factRule struct {
	name string
	re   *regexp.Regexp
}

// factRules apply in order to every user-authored message. Order
// matters only for the ordering of extracted facts, not for matching;
// every rule runs against every message.
var factRules = []factRule{
	{"age", regexp.MustCompile(`(?i)\bI(?:'m| am)\s+(\d{1,3})\s+years?\s+old\b`)},
	{"weight", regexp.MustCompile(`(?i)\bI\s+(?:currently\s+)?weigh\s+(?:about\s+|around\s+)?(\d{2,3})\s*(?:kg|kilos?|kilograms?|lbs?|pounds?)?\b`)},
	{"goal", regexp.MustCompile(`(?i)\b(?:my goal is|I want to|I would like to|I aim to)\s+([^.!?\n]+)`)},
	{"duration", regexp.MustCompile(`(?i)\b(?:I(?:'ve| have)? been|I am|I'm)\s+\w+(?:ing)?\b[^.!?\n]{0,40}?\bfor\s+(\d+)\s+(?:days?|weeks?|months?|years?)\b`)},
	{"condition", regexp.MustCompile(`(?i)\b(?:diagnosed with|I suffer from|suffering from)\s+([a-zA-Z][a-zA-Z0-9 \-]+)`)},
	{"diet", regexp.MustCompile(`(?i)\b(?:follow(?:ing)?|I'm on|I am on|doing)\s+(?:a\s+|the\s+)?(keto(?:genic)?|vegan|vegetarian|paleo|carnivore|mediterranean|low[- ]carb|intermittent fasting)\b(?:\s+diet\b)?`)},
	{"workout", regexp.MustCompile(`(?i)\b(?:work(?:\s?)out|train|exercise)\s+(\d+|once|twice)\s*(?:times?\s+)?(?:a|per)\s+week\b`)},
	{"occupation", regexp.MustCompile(`(?i)\bI work as an?\s+([a-zA-Z][a-zA-Z \-]+)`)},
	{"allergy", regexp.MustCompile(`(?i)\b(?:I'm|I am)?\s?allergic to\s+([a-zA-Z][a-zA-Z, ]+)`)},
	{"supplement", regexp.MustCompile(`(?i)\b(?:I take|I'm taking|I am taking|I use|I'm using)\s+([a-zA-Z0-9\- ]*(?:supplements?|vitamins?|medication|creatine|magnesium|protein powder|omega[- ]?3)[a-zA-Z0-9\- ]*)`)},
}

// coachConfirmRe spots a coach restating something about the user, e.g.
// "I understand that you struggle with late-night snacking". The
// confirmed clause becomes a fact in its own right.
var coachConfirmRe = regexp.MustCompile(`(?i)\bunderstand that you\s+([^.!?\n]+)`)

// ExtractFacts runs the pattern rules over a message window and returns
// the matched fact texts, deduplicated by exact string identity, in
// first-seen order. The mapping from fact text to rule name is returned
// alongside for the typed-merge step.
func ExtractFacts(messages []Message) ([]string, map[string]string) {
	var facts []string
	rules := make(map[string]string)
	add := func(text, rule string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if _, seen := rules[text]; seen {
			return
		}
		rules[text] = rule
		facts = append(facts, text)
	}

	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			for _, r := range factRules {
				for _, match := range r.re.FindAllString(m.Content, -1) {
					add(match, r.name)
				}
			}
		case RoleCoach:
			for _, groups := range coachConfirmRe.FindAllStringSubmatch(m.Content, -1) {
				add("you "+strings.TrimSpace(groups[1]), "coach_confirmed")
			}
		}
	}
	return facts, rules
}

// topicBucket is one entry of the fixed topic taxonomy.
type topicBucket struct {
	name     string
	keywords []string
}

var topicTaxonomy = []topicBucket{
	{"diet", []string{"diet", "food", "meal", "eat", "carb", "protein", "calorie", "nutrition", "recipe"}},
	{"exercise", []string{"exercise", "workout", "training", "gym", "cardio", "running", "strength"}},
	{"weight", []string{"weight", "weigh", "kilo", "pound", "bmi", "scale"}},
	{"health", []string{"health", "doctor", "blood", "pressure", "diabetes", "cholesterol", "sleep", "energy"}},
	{"supplements", []string{"supplement", "vitamin", "creatine", "magnesium", "omega"}},
	{"fasting", []string{"fasting", "intermittent", "eating window", "16:8"}},
	{"progress", []string{"progress", "plateau", "result", "improve", "milestone", "goal"}},
}

// ExtractTopics classifies a message window against the topic taxonomy.
// A message belongs to a bucket when any keyword occurs as a substring
// of the lower-cased content. Topics come back in taxonomy order.
func ExtractTopics(messages []Message) []string {
	seen := make(map[string]bool)
	for _, m := range messages {
		lower := strings.ToLower(m.Content)
		for _, bucket := range topicTaxonomy {
			if seen[bucket.name] {
				continue
			}
			for _, kw := range bucket.keywords {
				if strings.Contains(lower, kw) {
					seen[bucket.name] = true
					break
				}
			}
		}
	}

	var topics []string
	for _, bucket := range topicTaxonomy {
		if seen[bucket.name] {
			topics = append(topics, bucket.name)
		}
	}
	return topics
}

var (
	ageValueRe    = regexp.MustCompile(`(?i)(\d{1,3})\s+years?\s+old`)
	weightValueRe = regexp.MustCompile(`(?i)weigh\s+(?:about\s+|around\s+)?(\d{2,3})`)
	dietValueRe   = regexp.MustCompile(`(?i)(keto(?:genic)?|vegan|vegetarian|paleo|carnivore|mediterranean|low[- ]carb|intermittent fasting)`)
)

// parseTypedFact recognizes fact shapes that map onto typed memory
// fields. It returns the field name and value, or ok=false when the
// fact stays unstructured.
func parseTypedFact(fact, rule string) (field string, value int, ok bool) {
	switch rule {
	case "age":
		if m := ageValueRe.FindStringSubmatch(fact); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return "age", n, true
			}
		}
	case "weight":
		if m := weightValueRe.FindStringSubmatch(fact); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return "current_weight", n, true
			}
		}
	}
	return "", 0, false
}

// parseDietFact pulls the diet name out of a diet-rule fact.
func parseDietFact(fact string) (string, bool) {
	m := dietValueRe.FindStringSubmatch(fact)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}
