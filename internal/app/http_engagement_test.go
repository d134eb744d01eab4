package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"promptdeck/api/internal/store"
)

func publicPrompt(id, ownerID string) store.Prompt {
	return store.Prompt{
		ID:       id,
		UserID:   ownerID,
		Title:    "Daily standup summarizer",
		Body:     "Summarize the following standup notes.",
		IsPublic: true,
	}
}

func TestLikeRequiresAuthentication(t *testing.T) {
	fs := &fakeStore{
		getPromptFn: func(_ context.Context, id string) (store.Prompt, error) {
			return publicPrompt(id, "owner-1"), nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")

	req := httptest.NewRequest(http.MethodPost, "/api/prompts/pmt-1/like", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for anonymous like, got %d", rr.Code)
	}
}

func TestLikeTogglesForAuthenticatedUser(t *testing.T) {
	fs := &fakeStore{
		toggleLikeFn: func(_ context.Context, promptID, userID string) (bool, int, error) {
			if promptID != "pmt-1" || userID != "user-1" {
				t.Fatalf("toggle called with promptID=%q userID=%q", promptID, userID)
			}
			return true, 4, nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")
	token := issueTestToken(t, "user-1", "Avery", "user")

	req := httptest.NewRequest(http.MethodPost, "/api/prompts/pmt-1/like", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["liked"] != true {
		t.Errorf("expected liked=true, got %v", response["liked"])
	}
	if response["likesCount"] != float64(4) {
		t.Errorf("expected likesCount=4, got %v", response["likesCount"])
	}
}

func TestLikeUnknownPromptReturns404(t *testing.T) {
	// The store answers sql.ErrNoRows whether the prompt vanished before the
	// relation insert or before the counter update.
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	token := issueTestToken(t, "user-1", "Avery", "user")

	req := httptest.NewRequest(http.MethodPost, "/api/prompts/pmt-missing/like", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCopyAllowsAnonymousCallers(t *testing.T) {
	copies := 0
	fs := &fakeStore{
		incrementCopiesFn: func(context.Context, string) (int, error) {
			copies++
			return copies, nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")

	// Two copies from the same anonymous caller both count.
	for want := 1; want <= 2; want++ {
		req := httptest.NewRequest(http.MethodPost, "/api/prompts/pmt-1/copy", nil)
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200 for anonymous copy, got %d", rr.Code)
		}
		response := decodeResponse(t, rr)
		if response["copiesCount"] != float64(want) {
			t.Errorf("expected copiesCount=%d, got %v", want, response["copiesCount"])
		}
	}
}

func TestCopyUnknownPromptReturns404(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	req := httptest.NewRequest(http.MethodPost, "/api/prompts/pmt-missing/copy", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestPostCommentRejectsWhitespaceBody(t *testing.T) {
	fs := &fakeStore{
		getPromptFn: func(_ context.Context, id string) (store.Prompt, error) {
			return publicPrompt(id, "owner-1"), nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")
	token := issueTestToken(t, "user-1", "Avery", "user")

	req := httptest.NewRequest(http.MethodPost, "/api/prompts/pmt-1/comments", jsonBody(`{"body":"   "}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected code=VALIDATION_ERROR, got %v", response["code"])
	}
}

func TestPostCommentCreatesComment(t *testing.T) {
	var inserted store.Comment
	fs := &fakeStore{
		getPromptFn: func(_ context.Context, id string) (store.Prompt, error) {
			return publicPrompt(id, "owner-1"), nil
		},
		insertCommentFn: func(_ context.Context, comment store.Comment) error {
			inserted = comment
			return nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")
	token := issueTestToken(t, "user-1", "Avery", "user")

	req := httptest.NewRequest(http.MethodPost, "/api/prompts/pmt-1/comments", jsonBody(`{"body":"Works great with GPT drafts"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if inserted.UserID != "user-1" || inserted.PromptID != "pmt-1" {
		t.Errorf("inserted comment = %+v", inserted)
	}
	response := decodeResponse(t, rr)
	if response["authorName"] != "Avery" {
		t.Errorf("expected authorName=Avery, got %v", response["authorName"])
	}
}

func TestCountsEndpointReturnsDerivedCounts(t *testing.T) {
	fs := &fakeStore{
		deriveCountsFn: func(_ context.Context, promptID string) (store.EngagementCounts, error) {
			return store.EngagementCounts{LikeCount: 7, CommentCount: 3}, nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")

	req := httptest.NewRequest(http.MethodGet, "/api/prompts/pmt-1/counts", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["likeCount"] != float64(7) || response["commentCount"] != float64(3) {
		t.Errorf("counts payload = %v", response)
	}
}

func TestRemixCreatesPrivateFork(t *testing.T) {
	var created store.Prompt
	fs := &fakeStore{
		getPromptFn: func(_ context.Context, id string) (store.Prompt, error) {
			p := publicPrompt(id, "owner-1")
			p.AuthorName = "Original Author"
			return p, nil
		},
		insertPromptFn: func(_ context.Context, item store.Prompt) error {
			created = item
			return nil
		},
		incrementRemixesFn: func(context.Context, string) (int, error) {
			return 5, nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")
	token := issueTestToken(t, "user-2", "Blake", "user")

	req := httptest.NewRequest(http.MethodPost, "/api/prompts/pmt-1/remix", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if created.UserID != "user-2" {
		t.Errorf("fork owner = %q, want user-2", created.UserID)
	}
	if created.IsPublic {
		t.Errorf("fork should start private")
	}
	response := decodeResponse(t, rr)
	if response["sourceCounterUpdated"] != true {
		t.Errorf("expected sourceCounterUpdated=true, got %v", response["sourceCounterUpdated"])
	}
}

func TestRemixCounterFailureStillReturnsFork(t *testing.T) {
	fs := &fakeStore{
		getPromptFn: func(_ context.Context, id string) (store.Prompt, error) {
			return publicPrompt(id, "owner-1"), nil
		},
		incrementRemixesFn: func(context.Context, string) (int, error) {
			return 0, context.DeadlineExceeded
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")
	token := issueTestToken(t, "user-2", "Blake", "user")

	req := httptest.NewRequest(http.MethodPost, "/api/prompts/pmt-1/remix", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201 even when the counter bump fails, got %d body=%s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["sourceCounterUpdated"] != false {
		t.Errorf("expected sourceCounterUpdated=false, got %v", response["sourceCounterUpdated"])
	}
	if response["code"] != "PARTIAL_REMIX" {
		t.Errorf("expected code=PARTIAL_REMIX, got %v", response["code"])
	}
	prompt, ok := response["prompt"].(map[string]any)
	if !ok || prompt["id"] == "" {
		t.Errorf("expected the created fork in the response, got %v", response["prompt"])
	}
}

func TestRemixRequiresAuthentication(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	req := httptest.NewRequest(http.MethodPost, "/api/prompts/pmt-1/remix", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
