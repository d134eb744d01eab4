package social

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"promptdeck/api/internal/store"
	"promptdeck/api/internal/util"
)

// Store is the persistence surface the engagement service needs. Satisfied
// by store.PostgresStore.
type Store interface {
	GetPrompt(ctx context.Context, promptID string) (store.Prompt, error)
	InsertPrompt(ctx context.Context, item store.Prompt) error
	ToggleLike(ctx context.Context, promptID, userID string) (bool, int, error)
	HasLiked(ctx context.Context, promptID, userID string) (bool, error)
	IncrementCopies(ctx context.Context, promptID string) (int, error)
	IncrementRemixes(ctx context.Context, promptID string) (int, error)
	InsertComment(ctx context.Context, comment store.Comment) error
	ListComments(ctx context.Context, promptID string) ([]store.Comment, error)
	DeriveCounts(ctx context.Context, promptID string) (store.EngagementCounts, error)
}

// Publisher fans an engagement-change notification out to live subscribers.
// Implemented by realtime.Publisher; nil disables publishing.
type Publisher interface {
	PublishEngagementChange(ctx context.Context, promptID string) error
}

// CommentNotifier delivers an out-of-band notification to the prompt author.
// Implemented by the email service; nil disables notifications.
type CommentNotifier interface {
	NotifyComment(ctx context.Context, prompt store.Prompt, comment store.Comment) error
}

type Service struct {
	store     Store
	publisher Publisher
	notifier  CommentNotifier
}

func NewService(store Store, publisher Publisher, notifier CommentNotifier) *Service {
	return &Service{store: store, publisher: publisher, notifier: notifier}
}

// ToggleLike flips the principal's membership in the prompt's like relation
// and returns the authoritative state. Relation membership, not the caller's
// cached boolean, decides the transition, so a double-toggle from two
// sessions settles instead of double-counting.
func (s *Service) ToggleLike(ctx context.Context, promptID, principalID string) (liked bool, count int, err error) {
	if principalID == "" {
		return false, 0, ErrUnauthenticated
	}
	liked, count, err = s.store.ToggleLike(ctx, promptID, principalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, 0, ErrNotFound
		}
		return false, 0, fmt.Errorf("toggle like: %w", err)
	}
	s.publish(ctx, promptID)
	return liked, count, nil
}

// HasLiked reports the principal's current like membership. Anonymous
// principals have none.
func (s *Service) HasLiked(ctx context.Context, promptID, principalID string) (bool, error) {
	if principalID == "" {
		return false, nil
	}
	return s.store.HasLiked(ctx, promptID, principalID)
}

// RecordCopy bumps the copy counter. Anonymous callers are allowed and the
// increment is deliberately not idempotent; repeated copies count repeatedly.
func (s *Service) RecordCopy(ctx context.Context, promptID string) (int, error) {
	var count int
	err := retryTransient(ctx, func() error {
		var opErr error
		count, opErr = s.store.IncrementCopies(ctx, promptID)
		return opErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("record copy: %w", err)
	}
	return count, nil
}

// PostComment appends a comment. Comment totals are always derived from the
// rows, never cached, so nothing else is updated here.
func (s *Service) PostComment(ctx context.Context, promptID, principalID, body string) (store.Comment, error) {
	if principalID == "" {
		return store.Comment{}, ErrUnauthenticated
	}
	if strings.TrimSpace(body) == "" {
		return store.Comment{}, &ValidationError{Field: "body", Reason: "must not be empty"}
	}

	prompt, err := s.store.GetPrompt(ctx, promptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, ErrNotFound
		}
		return store.Comment{}, fmt.Errorf("load prompt: %w", err)
	}

	comment := store.Comment{
		ID:       util.NewID("cmt"),
		PromptID: promptID,
		UserID:   principalID,
		Body:     body,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, fmt.Errorf("post comment: %w", err)
	}

	s.publish(ctx, promptID)
	if s.notifier != nil && prompt.UserID != principalID {
		if err := s.notifier.NotifyComment(ctx, prompt, comment); err != nil {
			log.Printf("comment notification for prompt %s failed: %v", promptID, err)
		}
	}
	return comment, nil
}

func (s *Service) ListComments(ctx context.Context, promptID string) ([]store.Comment, error) {
	comments, err := s.store.ListComments(ctx, promptID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// DeriveCounts recomputes authoritative engagement counts from the relation
// rows. Safe to call on every notification; repeated calls converge.
func (s *Service) DeriveCounts(ctx context.Context, promptID string) (store.EngagementCounts, error) {
	var counts store.EngagementCounts
	err := retryTransient(ctx, func() error {
		var opErr error
		counts, opErr = s.store.DeriveCounts(ctx, promptID)
		return opErr
	})
	if err != nil {
		return store.EngagementCounts{}, fmt.Errorf("derive counts: %w", err)
	}
	return counts, nil
}

// Remix forks a prompt into a new private one owned by the requester, then
// bumps the source's remix counter. When the bump fails the created prompt
// is still returned inside a PartialRemixError so the caller can reach it.
func (s *Service) Remix(ctx context.Context, sourceID, principalID string) (store.Prompt, error) {
	if principalID == "" {
		return store.Prompt{}, ErrUnauthenticated
	}

	source, err := s.store.GetPrompt(ctx, sourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Prompt{}, ErrNotFound
		}
		return store.Prompt{}, fmt.Errorf("load source prompt: %w", err)
	}
	if !source.IsPublic && source.UserID != principalID {
		return store.Prompt{}, ErrNotFound
	}

	description := remixProvenance(source)
	created := store.Prompt{
		ID:          util.NewID("pmt"),
		UserID:      principalID,
		Title:       source.Title + " (Remix)",
		Body:        source.Body,
		Description: &description,
		Categories:  append([]string(nil), source.Categories...),
		IsPublic:    false,
	}
	if err := s.store.InsertPrompt(ctx, created); err != nil {
		return store.Prompt{}, fmt.Errorf("create remix: %w", err)
	}

	err = retryTransient(ctx, func() error {
		_, opErr := s.store.IncrementRemixes(ctx, sourceID)
		return opErr
	})
	if err != nil {
		return created, &PartialRemixError{Created: created, Err: err}
	}
	return created, nil
}

func remixProvenance(source store.Prompt) string {
	author := source.AuthorName
	if author == "" {
		author = "an unknown author"
	}
	provenance := fmt.Sprintf("Remix of %q by %s", source.Title, author)
	if source.Description != nil && *source.Description != "" {
		provenance += "\n\n" + *source.Description
	}
	return provenance
}

func (s *Service) publish(ctx context.Context, promptID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEngagementChange(ctx, promptID); err != nil {
		log.Printf("publish engagement change for prompt %s failed: %v", promptID, err)
	}
}
