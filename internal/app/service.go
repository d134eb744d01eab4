package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"promptdeck/api/internal/auth"
	"promptdeck/api/internal/authpw"
	"promptdeck/api/internal/authz"
	"promptdeck/api/internal/config"
	"promptdeck/api/internal/email"
	"promptdeck/api/internal/realtime"
	"promptdeck/api/internal/search"
	"promptdeck/api/internal/social"
	"promptdeck/api/internal/store"
	"promptdeck/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// PromptInput carries prompt create/update fields.
type PromptInput struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
	IsPublic    bool     `json:"isPublic"`
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetProfile(ctx context.Context, profileID string) (store.Profile, error)
	UpdateProfile(ctx context.Context, profileID, displayName string, avatarURL *string) error
	GetPrompt(ctx context.Context, promptID string) (store.Prompt, error)
	InsertPrompt(ctx context.Context, item store.Prompt) error
	UpdatePrompt(ctx context.Context, item store.Prompt) error
	SetPromptVisibility(ctx context.Context, promptID string, isPublic bool) error
	DeletePrompt(ctx context.Context, promptID string) error
	ListPublicPrompts(ctx context.Context, limit int) ([]store.Prompt, error)
	ListPromptsByOwner(ctx context.Context, userID string) ([]store.Prompt, error)
}

// sessionStore is satisfied by both the redis store and the postgres
// fallback.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type identityResolver interface {
	Resolve(ctx context.Context, principalID, verifiedContact string) (store.Profile, error)
}

type avatarStore interface {
	Upload(ctx context.Context, userID, contentType string, size int64, body io.Reader) (string, error)
}

type Service struct {
	cfg        config.Config
	store      dataStore
	sessions   sessionStore
	resolver   identityResolver
	engagement *social.Service
	search     *search.Service

	authpw  *authpw.Service
	emails  *email.Service
	avatars avatarStore
	bridge  *realtime.Bridge
}

func New(cfg config.Config, dataStore *store.PostgresStore, resolver identityResolver, engagement *social.Service, searchService *search.Service) *Service {
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		sessions:   dataStore,
		resolver:   resolver,
		engagement: engagement,
		search:     searchService,
	}
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, resolver identityResolver, engagement *social.Service, searchService *search.Service) *Service {
	service := New(cfg, dataStore, resolver, engagement, searchService)
	service.sessions = sessions
	return service
}

func (s *Service) SetAuthPasswordService(svc *authpw.Service) { s.authpw = svc }
func (s *Service) SetEmailService(svc *email.Service)         { s.emails = svc }
func (s *Service) SetAvatarService(svc avatarStore)           { s.avatars = svc }
func (s *Service) SetRealtimeBridge(bridge *realtime.Bridge)  { s.bridge = bridge }

func (s *Service) AuthPasswordService() *authpw.Service { return s.authpw }
func (s *Service) Engagement() *social.Service          { return s.engagement }
func (s *Service) SearchService() *search.Service       { return s.search }
func (s *Service) EmailService() *email.Service         { return s.emails }
func (s *Service) Bridge() *realtime.Bridge             { return s.bridge }

func (s *Service) SMTPConfigured() bool {
	return s.emails != nil && s.emails.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap runs post-migration startup work.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

// CreateSessionForUser resolves the user's profile and issues token material.
// Identity resolution runs on every session creation so a drifted role is
// corrected before it lands in the token claims.
func (s *Service) CreateSessionForUser(ctx context.Context, user store.User) (Session, error) {
	profile, err := s.resolver.Resolve(ctx, user.ID, user.Email)
	if err != nil {
		return Session{}, fmt.Errorf("resolve identity: %w", err)
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) issueSession(ctx context.Context, profile store.Profile) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  profile.ID,
		Name: profile.DisplayName,
		Role: profile.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), profile.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       profile.ID,
		UserName:     profile.DisplayName,
		Role:         profile.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Refresh rotates a refresh token and re-resolves identity, so role healing
// also happens on silent session renewal.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.CreateSessionForUser(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// MyProfile re-resolves identity from stored credentials, healing the role
// on every call.
func (s *Service) MyProfile(ctx context.Context, session Session) (store.Profile, store.User, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return store.Profile{}, store.User{}, err
	}
	profile, err := s.resolver.Resolve(ctx, user.ID, user.Email)
	if err != nil {
		return store.Profile{}, store.User{}, err
	}
	return profile, user, nil
}

func (s *Service) UpdateMyProfile(ctx context.Context, session Session, displayName string, avatarURL *string) (store.Profile, error) {
	if strings.TrimSpace(displayName) == "" {
		return store.Profile{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "displayName is required", nil)
	}
	if err := s.store.UpdateProfile(ctx, session.UserID, displayName, avatarURL); err != nil {
		return store.Profile{}, err
	}
	return s.store.GetProfile(ctx, session.UserID)
}

// UploadAvatar stores the image and points the profile at its public URL.
func (s *Service) UploadAvatar(ctx context.Context, session Session, contentType string, size int64, body io.Reader) (string, error) {
	if s.avatars == nil {
		return "", domainError(http.StatusServiceUnavailable, "AVATARS_UNAVAILABLE", "Avatar storage not configured", nil)
	}
	url, err := s.avatars.Upload(ctx, session.UserID, contentType, size, body)
	if err != nil {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	profile, err := s.store.GetProfile(ctx, session.UserID)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateProfile(ctx, session.UserID, profile.DisplayName, &url); err != nil {
		return "", err
	}
	return url, nil
}

func (s *Service) CreatePrompt(ctx context.Context, session Session, input PromptInput) (store.Prompt, error) {
	if err := validatePromptInput(input); err != nil {
		return store.Prompt{}, err
	}

	item := store.Prompt{
		ID:         util.NewID("pmt"),
		UserID:     session.UserID,
		Title:      strings.TrimSpace(input.Title),
		Body:       input.Body,
		Categories: normalizeCategories(input.Categories),
		IsPublic:   input.IsPublic,
	}
	if desc := strings.TrimSpace(input.Description); desc != "" {
		item.Description = &desc
	}
	if err := s.store.InsertPrompt(ctx, item); err != nil {
		return store.Prompt{}, err
	}

	created, err := s.store.GetPrompt(ctx, item.ID)
	if err != nil {
		return store.Prompt{}, err
	}
	s.syncSearch(created)
	return created, nil
}

// GetPromptForViewer hides private prompts from everyone but their author.
func (s *Service) GetPromptForViewer(ctx context.Context, viewerID, promptID string) (store.Prompt, error) {
	item, err := s.store.GetPrompt(ctx, promptID)
	if err != nil {
		return store.Prompt{}, err
	}
	if !item.IsPublic && item.UserID != viewerID {
		return store.Prompt{}, sql.ErrNoRows
	}
	return item, nil
}

func (s *Service) ListPublicPrompts(ctx context.Context, limit int) ([]store.Prompt, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListPublicPrompts(ctx, limit)
}

func (s *Service) ListOwnPrompts(ctx context.Context, session Session) ([]store.Prompt, error) {
	return s.store.ListPromptsByOwner(ctx, session.UserID)
}

// UpdatePrompt is restricted to the author; moderation roles do not grant
// content edits.
func (s *Service) UpdatePrompt(ctx context.Context, session Session, promptID string, input PromptInput) (store.Prompt, error) {
	if err := validatePromptInput(input); err != nil {
		return store.Prompt{}, err
	}

	existing, err := s.store.GetPrompt(ctx, promptID)
	if err != nil {
		return store.Prompt{}, err
	}
	if existing.UserID != session.UserID {
		return store.Prompt{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit a prompt", nil)
	}

	existing.Title = strings.TrimSpace(input.Title)
	existing.Body = input.Body
	existing.Categories = normalizeCategories(input.Categories)
	existing.Description = nil
	if desc := strings.TrimSpace(input.Description); desc != "" {
		existing.Description = &desc
	}
	if err := s.store.UpdatePrompt(ctx, existing); err != nil {
		return store.Prompt{}, err
	}

	updated, err := s.store.GetPrompt(ctx, promptID)
	if err != nil {
		return store.Prompt{}, err
	}
	s.syncSearch(updated)
	return updated, nil
}

// SetPromptVisibility re-checks the capability against the stored row; the
// pure authz answer a client saw earlier is advisory only.
func (s *Service) SetPromptVisibility(ctx context.Context, session Session, promptID string, isPublic bool) (store.Prompt, error) {
	existing, err := s.store.GetPrompt(ctx, promptID)
	if err != nil {
		return store.Prompt{}, err
	}

	decision := authz.CanModerate(session.UserID, existing.UserID, authz.Normalize(session.Role))
	if !decision.CanToggleVisibility {
		return store.Prompt{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can change visibility", nil)
	}

	if err := s.store.SetPromptVisibility(ctx, promptID, isPublic); err != nil {
		return store.Prompt{}, err
	}
	updated, err := s.store.GetPrompt(ctx, promptID)
	if err != nil {
		return store.Prompt{}, err
	}
	s.syncSearch(updated)
	return updated, nil
}

func (s *Service) DeletePrompt(ctx context.Context, session Session, promptID string) error {
	existing, err := s.store.GetPrompt(ctx, promptID)
	if err != nil {
		return err
	}

	decision := authz.CanModerate(session.UserID, existing.UserID, authz.Normalize(session.Role))
	if !decision.CanDelete {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Not allowed to delete this prompt", nil)
	}

	if err := s.store.DeletePrompt(ctx, promptID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeletePrompt(promptID)
	}
	return nil
}

func (s *Service) syncSearch(item store.Prompt) {
	if s.search == nil {
		return
	}
	if !item.IsPublic {
		s.search.DeletePrompt(item.ID)
		return
	}
	description := ""
	if item.Description != nil {
		description = *item.Description
	}
	s.search.IndexPrompt(search.PromptRecord{
		ID:          item.ID,
		Title:       item.Title,
		Body:        item.Body,
		Description: description,
		Categories:  item.Categories,
		AuthorName:  item.AuthorName,
	})
}

func validatePromptInput(input PromptInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if strings.TrimSpace(input.Body) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	return nil
}

func normalizeCategories(categories []string) []string {
	normalized := make([]string, 0, len(categories))
	for _, category := range categories {
		category = strings.TrimSpace(category)
		if category == "" {
			continue
		}
		normalized = append(normalized, category)
	}
	return normalized
}
