package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// NewRequest validates the input and builds an OPEN request expiring ttl after now.
func NewRequest(in CreateRequestInput, now time.Time, ttl time.Duration) (*Request, error) {
	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)

	switch {
	case title == "":
		return nil, Invalid("title", "is required")
	case utf8.RuneCountInString(title) > MaxTitleLen:
		return nil, Invalid("title", "cannot exceed %d characters", MaxTitleLen)
	case description == "":
		return nil, Invalid("description", "is required")
	case utf8.RuneCountInString(description) > MaxDescriptionLen:
		return nil, Invalid("description", "cannot exceed %d characters", MaxDescriptionLen)
	case strings.TrimSpace(in.CreatorID) == "":
		return nil, Invalid("createdBy", "is required")
	}

	urgency, ok := ParseUrgency(strings.ToLower(strings.TrimSpace(in.Urgency)))
	if !ok {
		return nil, Invalid("urgency", "must be one of low, normal, high")
	}
	if err := in.Location.Validate(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now = now.UTC().Truncate(time.Millisecond)
	return &Request{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Urgency:     urgency,
		Location:    in.Location,
		CreatedBy:   in.CreatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}, nil
}

// CheckClaim reports whether helperID may claim r at now. A nil error with
// ClaimUnchanged means the same helper is re-claiming. The store applies the
// same rules atomically; this check lets callers fail before the round trip.
func CheckClaim(r *Request, helperID string, now time.Time) (ClaimOutcome, error) {
	if r == nil || r.Expired(now) {
		return "", ErrNotFound
	}
	if helperID == r.CreatedBy {
		return "", ErrSelfHelp
	}
	if r.CompletedBy != "" {
		if r.CompletedBy != helperID {
			return "", ErrAlreadyClaimed
		}
		return ClaimUnchanged, nil
	}
	return ClaimApplied, nil
}

// CheckConfirm reports what a confirm by callerID would do to r at now.
func CheckConfirm(r *Request, callerID string, now time.Time) (ConfirmOutcome, error) {
	if r == nil || r.Expired(now) {
		return "", ErrNotFound
	}
	if callerID != r.CreatedBy {
		return "", ErrForbidden
	}
	if r.CompletedBy == "" {
		return "", ErrNoHelperAssigned
	}
	if r.IsCompleted {
		return ConfirmUnchanged, nil
	}
	if r.HelperConfirmed {
		return ConfirmClosed, nil
	}
	return ConfirmRecorded, nil
}
