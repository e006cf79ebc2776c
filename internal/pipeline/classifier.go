package pipeline

import "strings"

// classificationRule maps phrases seen in one stage's diagnostics to an outcome.
type classificationRule struct {
	stage   Stage
	phrases []string
	outcome Outcome
}

// classificationRules are evaluated in order; the first match wins.
// Matching is best effort: a wrong answer only changes the backoff applied.
var classificationRules = []classificationRule{
	{
		stage: StageRetrieval,
		phrases: []string{
			"video unavailable",
			"private video",
			"removed",
			"account terminated",
			"this video is not available",
			"sign in to confirm your age",
			"join this channel to get access",
		},
		outcome: SourceUnavailable,
	},
	{
		stage:   StageRetrieval,
		phrases: []string{"error", "unable to download", "http error", "urlopen error"},
		outcome: RetrievalError,
	},
	{
		stage: StageEncode,
		phrases: []string{
			"connection refused",
			"connection reset",
			"broken pipe",
			"i/o error",
			"rtmp",
			"failed to connect",
		},
		outcome: SinkError,
	},
	{
		stage:   StageEncode,
		phrases: []string{"error", "invalid", "codec not found", "encoder"},
		outcome: EncodingError,
	},
}

// defaultOutcome applies when no rule matches.
const defaultOutcome = RetrievalError

// Classify maps the diagnostic lines of a failed run to an outcome.
func Classify(retrieval, encode []string) Outcome {
	outcome, _ := classify(retrieval, encode)
	return outcome
}

// classify also returns the phrase that matched, or "" for the default.
func classify(retrieval, encode []string) (Outcome, string) {
	texts := map[Stage]string{
		StageRetrieval: strings.ToLower(strings.Join(retrieval, "\n")),
		StageEncode:    strings.ToLower(strings.Join(encode, "\n")),
	}

	for _, rule := range classificationRules {
		text := texts[rule.stage]
		for _, phrase := range rule.phrases {
			if strings.Contains(text, phrase) {
				return rule.outcome, phrase
			}
		}
	}
	return defaultOutcome, ""
}
