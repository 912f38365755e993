// Package detector classifies fetched content as valid, blocked, or a
// human-verification challenge.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/listinglab/pagepull/internal/fetch"
)

// Defaults applied when configuration leaves the detector knobs empty.
var (
	defaultBlockPhrases = []string{
		"access denied",
		"403 forbidden",
		"unusual traffic",
		"request unsuccessful",
	}
	defaultChallengePhrases = []string{
		"captcha",
		"cloudflare",
		"security check",
		"verify you are human",
	}
)

const defaultMinContentBytes = 500

// BlockDetector implements fetch.Detector using phrase and length
// heuristics, plus optional structural selector checks.
type BlockDetector struct {
	minContentBytes   int
	blockPhrases      [][]byte
	challengePhrases  [][]byte
	requiredSelectors []string
}

// Config controls BlockDetector thresholds.
type Config struct {
	MinContentBytes   int
	BlockPhrases      []string
	ChallengePhrases  []string
	RequiredSelectors []string
}

// New constructs a BlockDetector with the configured thresholds.
func New(cfg Config) *BlockDetector {
	if cfg.MinContentBytes <= 0 {
		cfg.MinContentBytes = defaultMinContentBytes
	}
	if len(cfg.BlockPhrases) == 0 {
		cfg.BlockPhrases = defaultBlockPhrases
	}
	if len(cfg.ChallengePhrases) == 0 {
		cfg.ChallengePhrases = defaultChallengePhrases
	}
	return &BlockDetector{
		minContentBytes:   cfg.MinContentBytes,
		blockPhrases:      lowerPhrases(cfg.BlockPhrases),
		challengePhrases:  lowerPhrases(cfg.ChallengePhrases),
		requiredSelectors: cfg.RequiredSelectors,
	}
}

// Classify applies the detection rules in order: length, block phrases,
// challenge phrases, required selectors. A challenge verdict must never
// be retried automatically; it escalates to the pool-wide pause.
func (d *BlockDetector) Classify(body []byte) fetch.Classification {
	if len(body) < d.minContentBytes {
		return fetch.Classification{Verdict: fetch.VerdictBlocked, Reason: "too short"}
	}
	lower := bytes.ToLower(body)
	if phrase := firstMatch(lower, d.blockPhrases); phrase != "" {
		return fetch.Classification{Verdict: fetch.VerdictBlocked, Reason: phrase}
	}
	if phrase := firstMatch(lower, d.challengePhrases); phrase != "" {
		return fetch.Classification{Verdict: fetch.VerdictChallenge, Reason: phrase}
	}
	if sel := d.missingSelector(body); sel != "" {
		return fetch.Classification{Verdict: fetch.VerdictBlocked, Reason: "missing selector " + sel}
	}
	return fetch.Classification{Verdict: fetch.VerdictValid}
}

func (d *BlockDetector) missingSelector(body []byte) string {
	if len(d.requiredSelectors) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return d.requiredSelectors[0]
	}
	for _, sel := range d.requiredSelectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return sel
		}
	}
	return ""
}

func firstMatch(lowerBody []byte, phrases [][]byte) string {
	for _, p := range phrases {
		if bytes.Contains(lowerBody, p) {
			return string(p)
		}
	}
	return ""
}

func lowerPhrases(phrases []string) [][]byte {
	out := make([][]byte, 0, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, bytes.ToLower([]byte(p)))
	}
	return out
}
