package moderation

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/and161185/slotkeeper/internal/model"
)

// RuleClassifier is an offline lexicon classifier. Checks run in precedence
// order: safety, then text-in-image, then the character-subject rule.
type RuleClassifier struct{}

// NewRuleClassifier returns the default classifier.
func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

var safetyTerms = words(
	// violence
	"kill", "killing", "murder", "blood", "bloody", "gore", "gory", "stab", "stabbing",
	"behead", "corpse", "massacre", "gun", "guns", "rifle", "bomb", "torture",
	// hate
	"nazi", "swastika", "genocide", "slur", "racist",
	// sexual
	"nude", "naked", "nsfw", "porn", "sexy", "sexual", "erotic", "lingerie", "topless",
	// self-harm
	"suicide", "suicidal",
	// harassment
	"bully", "bullying", "humiliate", "humiliating",
)

// Phrases match whole tokens only.
var safetyPhrases = []string{
	"self harm", "self-harm", "cut myself", "cutting myself", "kill myself", "hang myself",
	"hate speech", "make fun of",
	"shooting at", "shooting people", "shooting someone", "mass shooting", "school shooting",
}

// textTerms only holds words that ask for lettering on their own. Words with
// an everyday meaning (letter, word, sign, spell) count inside textPhrases.
var textTerms = words(
	"text", "lettering", "caption", "captions", "label", "labels", "logo", "typography",
	"font", "signboard", "banner", "slogan", "headline", "inscription", "subtitle",
	"subtitles", "calligraphy",
)

var textPhrases = []string{
	"that reads", "with the name", "name tag",
	"sign that says", "sign saying", "sign reading", "sign with the", "that says", "which says",
	"the word", "the words", "the letters", "with words", "with letters", "in big letters",
	"letters spelling", "spelling out", "spells out", "spelled out", "that spells",
	"written on", "written in", "writing on", "with writing",
}

var quoted = regexp.MustCompile(`["“”][^"“”]{2,}["“”]`)

var characterTerms = words(
	// people
	"person", "people", "man", "men", "woman", "women", "boy", "boys", "girl", "girls",
	"child", "children", "kid", "kids", "baby", "teen", "teenager", "grandma", "grandpa",
	"king", "queen", "prince", "princess", "knight", "wizard", "witch", "warrior", "hero",
	"heroine", "villain", "pirate", "ninja", "samurai", "astronaut", "explorer", "detective",
	"chef", "doctor", "teacher", "student", "farmer", "sailor", "soldier", "scientist",
	"character", "characters", "girlfriend", "boyfriend", "friend",
	// fantasy
	"dragon", "dragons", "unicorn", "fairy", "fairies", "elf", "elves", "dwarf",
	"troll", "goblin", "orc", "mermaid", "ghost", "vampire", "zombie", "robot", "robots",
	"android", "cyborg", "alien", "aliens", "monster", "monsters", "creature", "creatures",
	"superhero", "mascot", "gnome", "yeti", "phoenix", "griffin",
	// animals
	"animal", "animals", "cat", "cats", "kitten", "dog", "dogs", "puppy", "fox", "wolf",
	"bear", "bears", "bird", "birds", "owl", "eagle", "parrot", "penguin", "duck", "horse",
	"pony", "rabbit", "bunny", "mouse", "mice", "lion", "tiger", "elephant", "giraffe",
	"monkey", "panda", "koala", "frog", "turtle", "fish", "shark", "whale", "dolphin",
	"octopus", "snake", "lizard", "dinosaur", "hamster", "squirrel", "deer", "cow", "pig",
	"sheep", "goat", "chicken", "butterfly", "bee", "spider", "crab", "raccoon", "otter",
	"hedgehog", "sloth",
)

func words(ws ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(ws))
	for _, w := range ws {
		m[w] = struct{}{}
	}
	return m
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
}

func anyToken(tokens []string, set map[string]struct{}) (string, bool) {
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			return t, true
		}
	}
	return "", false
}

func anyPhrase(normalized string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if strings.Contains(normalized, " "+p+" ") {
			return p, true
		}
	}
	return "", false
}

// Classify implements Classifier.
func (RuleClassifier) Classify(_ context.Context, prompt string, sc model.SlotContext) (model.Verdict, error) {
	tokens := tokenize(prompt)
	normalized := " " + strings.Join(tokens, " ") + " "

	if w, ok := anyToken(tokens, safetyTerms); ok {
		return blocked(model.BlockSafety, "matched safety term "+w), nil
	}
	if p, ok := anyPhrase(normalized, safetyPhrases); ok {
		return blocked(model.BlockSafety, "matched safety phrase "+p), nil
	}

	if !sc.TextAllowed {
		if w, ok := anyToken(tokens, textTerms); ok {
			return blocked(model.BlockTextRequest, "requests text: "+w), nil
		}
		if p, ok := anyPhrase(normalized, textPhrases); ok {
			return blocked(model.BlockTextRequest, "requests text: "+p), nil
		}
		if quoted.MatchString(prompt) {
			return blocked(model.BlockTextRequest, "quoted text in prompt"), nil
		}
	}

	if sc.RequiresCharacter {
		if _, ok := anyToken(tokens, characterTerms); !ok {
			return blocked(model.BlockPolicySpecific, "no animate or fictional character described"), nil
		}
	}
	return model.Approved(), nil
}

func blocked(r model.BlockReason, why string) model.Verdict {
	return model.Verdict{Allowed: false, BlockReason: r, Explanation: why}
}
