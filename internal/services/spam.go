package services

import (
	"context"
	"log"
	"strings"

	"commentry/internal/models"
)

// SpamFilter is an external classifier consulted at submission time and told
// about moderator corrections afterwards.
type SpamFilter interface {
	CheckSpam(ctx context.Context, c *models.Comment) (bool, error)
	// ReportFalsePositive: flagged as spam, actually legitimate.
	ReportFalsePositive(ctx context.Context, c *models.Comment) error
	// ReportFalseNegative: let through, actually spam.
	ReportFalseNegative(ctx context.Context, c *models.Comment) error
}

// NopSpamFilter treats everything as ham.
type NopSpamFilter struct{}

func (NopSpamFilter) CheckSpam(context.Context, *models.Comment) (bool, error)  { return false, nil }
func (NopSpamFilter) ReportFalsePositive(context.Context, *models.Comment) error { return nil }
func (NopSpamFilter) ReportFalseNegative(context.Context, *models.Comment) error { return nil }

// KeywordSpamFilter is a local classifier: blocked words anywhere in the
// author fields or text, or more than MaxLinks links in the text.
type KeywordSpamFilter struct {
	Words    []string
	MaxLinks int
}

func NewKeywordSpamFilter(words []string, maxLinks int) *KeywordSpamFilter {
	lower := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			lower = append(lower, w)
		}
	}
	return &KeywordSpamFilter{Words: lower, MaxLinks: maxLinks}
}

func (f *KeywordSpamFilter) CheckSpam(ctx context.Context, c *models.Comment) (bool, error) {
	haystack := strings.ToLower(strings.Join([]string{c.Text, c.Cite, c.Email, c.Website}, "\n"))
	for _, w := range f.Words {
		if strings.Contains(haystack, w) {
			return true, nil
		}
	}
	if f.MaxLinks > 0 {
		text := strings.ToLower(c.Text)
		links := strings.Count(text, "http://") + strings.Count(text, "https://")
		if links > f.MaxLinks {
			return true, nil
		}
	}
	return false, nil
}

func (f *KeywordSpamFilter) ReportFalsePositive(ctx context.Context, c *models.Comment) error {
	log.Printf("[spam] comment %d was a false positive", c.ID)
	return nil
}

func (f *KeywordSpamFilter) ReportFalseNegative(ctx context.Context, c *models.Comment) error {
	log.Printf("[spam] comment %d was a false negative", c.ID)
	return nil
}

// spamFeedback tells the filter when a moderator reversed a classification.
func spamFeedback(ctx context.Context, filter SpamFilter, c *models.Comment) {
	prev, ok := c.PrevStatus()
	if !ok || filter == nil {
		return
	}
	var err error
	switch {
	case prev == models.StatusSpam && c.Status >= models.StatusApproved && c.Status != models.StatusDeletePending:
		err = filter.ReportFalsePositive(ctx, c)
	case prev >= models.StatusApproved && prev != models.StatusDeletePending && c.Status == models.StatusSpam:
		err = filter.ReportFalseNegative(ctx, c)
	}
	if err != nil {
		log.Printf("[spam] feedback for comment %d failed: %v", c.ID, err)
	}
}
