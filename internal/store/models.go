package store

import "time"

// User is a credential row. Profile data lives in a separate table so that
// identity resolution can lazily provision profiles for principals the
// social layer has never seen.
type User struct {
	ID                    string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Profile struct {
	ID          string
	DisplayName string
	AvatarURL   *string
	Role        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Prompt struct {
	ID           string
	UserID       string
	Title        string
	Body         string
	Description  *string
	Categories   []string
	IsPublic     bool
	LikesCount   int
	CopiesCount  int
	RemixesCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// Joined fields for API responses
	AuthorName   string
	AuthorAvatar *string
}

type Comment struct {
	ID        string
	PromptID  string
	UserID    string
	Body      string
	CreatedAt time.Time
	// Joined fields for API responses
	AuthorName   string
	AuthorAvatar *string
	AuthorRole   string
}

// EngagementCounts is the authoritative view recomputed from relation rows.
// The like counter stored on the prompt row is a cache seeded from this.
type EngagementCounts struct {
	LikeCount    int
	CommentCount int
}
