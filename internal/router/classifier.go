package router

import (
	"regexp"
	"strings"

	"github.com/af-corp/relay-router/internal/config"
	"github.com/af-corp/relay-router/internal/types"
)

// complexityKeywords marks prompts that warrant a powerful backend.
var complexityKeywords = regexp.MustCompile(`(?i)\b(reason|analyze|complex|critical|important|detailed|comprehensive|strategic|planning)\b`)

// Classification is the request-scoped result of task classification. It is
// never persisted; factors are kept for observability only.
type Classification struct {
	Category   types.Category `json:"category"`
	Confidence float64        `json:"confidence"`
	Factors    Factors        `json:"factors"`
}

// Factors are the raw signals the classifier evaluated.
type Factors struct {
	TotalChars       int  `json:"total_chars"`
	MessageCount     int  `json:"message_count"`
	MaxMessageChars  int  `json:"max_message_chars"`
	HasSystemMessage bool `json:"has_system_message"`
	HasCodeBlock     bool `json:"has_code_block"`
	HasLongMessage   bool `json:"has_long_message"`
	HasKeywordMatch  bool `json:"has_keyword_match"`
}

// Classifier maps a request's shape to a task category. It is a pure
// function over the request: no side effects, no I/O.
type Classifier struct {
	cfg config.ClassifierConfig
}

func NewClassifier(cfg config.ClassifierConfig) *Classifier {
	if cfg.HighVolumeChars <= 0 {
		cfg.HighVolumeChars = 5000
	}
	if cfg.LongMessageChars <= 0 {
		cfg.LongMessageChars = 2000
	}
	return &Classifier{cfg: cfg}
}

// Classify applies the classification rules in fixed order; the first
// matching rule wins.
//
//  1. token-intensive (total chars over threshold, or a fenced code block
//     anywhere) → fast, 0.7. Evaluated first: bulk text and code dumps go to
//     throughput-optimized backends even when they also look complex.
//  2. complexity signals (system message, a single long message, or a
//     complexity keyword) → powerful, 0.7.
//  3. no signal → fast, 0.5. Empty message lists land here.
func (c *Classifier) Classify(req *types.RelayRequest) Classification {
	f := Factors{MessageCount: len(req.Messages)}

	for _, m := range req.Messages {
		n := len(m.Content)
		f.TotalChars += n
		if n > f.MaxMessageChars {
			f.MaxMessageChars = n
		}
		if m.Role == "system" {
			f.HasSystemMessage = true
		}
		if strings.Contains(m.Content, "```") {
			f.HasCodeBlock = true
		}
		if n > c.cfg.LongMessageChars {
			f.HasLongMessage = true
		}
		if complexityKeywords.MatchString(m.Content) {
			f.HasKeywordMatch = true
		}
	}

	if f.TotalChars > c.cfg.HighVolumeChars || f.HasCodeBlock {
		return Classification{Category: types.CategoryFast, Confidence: 0.7, Factors: f}
	}

	if f.HasSystemMessage || f.HasLongMessage || f.HasKeywordMatch {
		return Classification{Category: types.CategoryPowerful, Confidence: 0.7, Factors: f}
	}

	return Classification{Category: types.CategoryFast, Confidence: 0.5, Factors: f}
}
