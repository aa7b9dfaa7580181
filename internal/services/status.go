package services

import "commentry/internal/models"

// 允许的状态流转，DeletePending 为终态
var transitions = map[models.Status][]models.Status{
	models.StatusPending:  {models.StatusApproved, models.StatusFeatured, models.StatusSpam, models.StatusDeletePending},
	models.StatusApproved: {models.StatusSpam, models.StatusFeatured, models.StatusPending, models.StatusDeletePending},
	models.StatusFeatured: {models.StatusApproved, models.StatusDeletePending},
	models.StatusSpam:     {models.StatusApproved, models.StatusPending, models.StatusDeletePending},
}

// CanTransition reports whether a comment may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to models.Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InitialStatus picks the status of a freshly submitted comment.
func InitialStatus(spam bool, mode models.ModerationMode) models.Status {
	if spam {
		return models.StatusSpam
	}
	if mode == models.ModerationPendingOnly || mode == models.ModerationAll {
		return models.StatusPending
	}
	return models.StatusApproved
}

// applyStatus validates and applies a transition on c.
func applyStatus(c *models.Comment, to models.Status) error {
	if !CanTransition(c.Status, to) {
		return ErrInvalidTransition
	}
	c.SetStatus(to)
	return nil
}
