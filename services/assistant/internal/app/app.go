package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"messageai/pkg/ai"
	"messageai/services/assistant/internal/convclient"
)

// ContextSource supplies conversation context for artifact generation.
type ContextSource interface {
	ChatContext(chatID string, limit int) (convclient.Context, error)
}

// Config holds runtime configuration for the assistant core.
type Config struct {
	Context ContextSource
	// Generator is nil when no generation API key is configured; LLM-backed
	// operations then fail fast without touching the network.
	Generator    ai.TextGenerator
	ContextLimit int
	SearchFanout int
}

// App derives assistant artifacts from conversation context and caches the
// latest value per chat and kind. The cache is in-memory only; a regeneration
// replaces the previous value.
type App struct {
	conv         ContextSource
	gen          ai.TextGenerator
	contextLimit int
	searchFanout int

	mu        sync.RWMutex
	artifacts map[string]Artifact
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Context == nil {
		return nil, fmt.Errorf("context source required")
	}
	contextLimit := cfg.ContextLimit
	if contextLimit <= 0 {
		contextLimit = 200
	}
	fanout := cfg.SearchFanout
	if fanout <= 0 {
		fanout = 4
	}
	return &App{
		conv:         cfg.Context,
		gen:          cfg.Generator,
		contextLimit: contextLimit,
		searchFanout: fanout,
		artifacts:    map[string]Artifact{},
	}, nil
}

// Summarize regenerates the meeting summary for a chat.
func (a *App) Summarize(ctx context.Context, userID, chatID string) (MeetingSummary, error) {
	chat, err := a.memberContext(userID, chatID, a.contextLimit)
	if err != nil {
		return MeetingSummary{}, err
	}
	response, err := a.generate(ctx, summaryPrompt(chat))
	if err != nil {
		return MeetingSummary{}, err
	}
	var parsed struct {
		Title       string   `json:"title"`
		Overview    string   `json:"overview"`
		KeyPoints   []string `json:"keyPoints"`
		ActionItems []string `json:"actionItems"`
	}
	summary := MeetingSummary{ChatID: chatID, GeneratedAt: time.Now().UTC()}
	if decodeStructured(response, &parsed) {
		summary.Title = parsed.Title
		summary.Overview = parsed.Overview
		summary.KeyPoints = parsed.KeyPoints
		summary.ActionItems = parsed.ActionItems
	} else {
		summary.Title = chat.Name
		summary.Overview = strings.TrimSpace(response)
	}
	a.storeArtifact(ctx, chatID, KindSummary, summary)
	return summary, nil
}

// Decisions regenerates the extracted decision list for a chat.
func (a *App) Decisions(ctx context.Context, userID, chatID string) ([]Decision, error) {
	chat, err := a.memberContext(userID, chatID, a.contextLimit)
	if err != nil {
		return nil, err
	}
	response, err := a.generate(ctx, decisionsPrompt(chat))
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Decisions []Decision `json:"decisions"`
	}
	decisions := parsed.Decisions
	if decodeStructured(response, &parsed) {
		decisions = parsed.Decisions
	} else if text := strings.TrimSpace(response); text != "" {
		decisions = []Decision{{Title: "Decisions", Description: text}}
	}
	if decisions == nil {
		decisions = []Decision{}
	}
	a.storeArtifact(ctx, chatID, KindDecisions, decisions)
	return decisions, nil
}

// Priorities re-runs priority analysis over the chat. It is heuristic and
// needs no generation backend.
func (a *App) Priorities(ctx context.Context, userID, chatID string) ([]PriorityMessage, error) {
	chat, err := a.memberContext(userID, chatID, a.contextLimit)
	if err != nil {
		return nil, err
	}
	flags := analyzePriorities(chat.Messages)
	if flags == nil {
		flags = []PriorityMessage{}
	}
	a.storeArtifact(ctx, chatID, KindPriorities, flags)
	return flags, nil
}

// Insights regenerates the collaboration insight for a chat.
func (a *App) Insights(ctx context.Context, userID, chatID string) (CollaborationInsight, error) {
	chat, err := a.memberContext(userID, chatID, a.contextLimit)
	if err != nil {
		return CollaborationInsight{}, err
	}
	response, err := a.generate(ctx, insightsPrompt(chat))
	if err != nil {
		return CollaborationInsight{}, err
	}
	var parsed struct {
		Summary      string   `json:"summary"`
		Strengths    []string `json:"strengths"`
		Improvements []string `json:"improvements"`
	}
	insight := CollaborationInsight{ChatID: chatID, GeneratedAt: time.Now().UTC()}
	if decodeStructured(response, &parsed) {
		insight.Summary = parsed.Summary
		insight.Strengths = parsed.Strengths
		insight.Improvements = parsed.Improvements
	} else {
		insight.Summary = strings.TrimSpace(response)
	}
	a.storeArtifact(ctx, chatID, KindInsights, insight)
	return insight, nil
}

// ProjectStatus regenerates the status report for a named project.
func (a *App) ProjectStatus(ctx context.Context, userID, chatID, projectName string) (ProjectStatus, error) {
	projectName = strings.TrimSpace(projectName)
	if projectName == "" {
		return ProjectStatus{}, ErrProjectNameRequired
	}
	chat, err := a.memberContext(userID, chatID, a.contextLimit)
	if err != nil {
		return ProjectStatus{}, err
	}
	response, err := a.generate(ctx, statusPrompt(chat, projectName))
	if err != nil {
		return ProjectStatus{}, err
	}
	var parsed struct {
		Health    string   `json:"health"`
		Summary   string   `json:"summary"`
		Blockers  []string `json:"blockers"`
		NextSteps []string `json:"nextSteps"`
	}
	status := ProjectStatus{
		ChatID:      chatID,
		ProjectName: projectName,
		Health:      HealthUnknown,
		GeneratedAt: time.Now().UTC(),
	}
	if decodeStructured(response, &parsed) {
		status.Summary = parsed.Summary
		status.Blockers = parsed.Blockers
		status.NextSteps = parsed.NextSteps
		switch ProjectHealth(parsed.Health) {
		case HealthOnTrack, HealthAtRisk, HealthBlocked:
			status.Health = ProjectHealth(parsed.Health)
		}
	} else {
		status.Summary = strings.TrimSpace(response)
	}
	a.storeArtifact(ctx, chatID, KindStatus, status)
	return status, nil
}

// Artifact returns the cached artifact for a chat and kind. A kind that was
// never generated for the chat reports ErrArtifactNotFound.
func (a *App) Artifact(userID, chatID string, kind ArtifactKind) (Artifact, error) {
	// membership still gates reads; a small context fetch doubles as the check
	if _, err := a.memberContext(userID, chatID, 1); err != nil {
		return Artifact{}, err
	}
	a.mu.RLock()
	artifact, ok := a.artifacts[artifactKey(chatID, kind)]
	a.mu.RUnlock()
	if !ok {
		return Artifact{}, ErrArtifactNotFound
	}
	return artifact, nil
}

// Search runs smart search over the caller's chats and cached artifacts.
// Disabling every filter yields an empty result whatever the query is.
func (a *App) Search(ctx context.Context, userID string, req SearchRequest) ([]SearchResult, error) {
	results := []SearchResult{}
	query := strings.TrimSpace(req.Query)
	if !req.Filters.anyEnabled() || query == "" {
		return results, nil
	}

	contexts := make([]convclient.Context, len(req.ChatIDs))
	found := make([]bool, len(req.ChatIDs))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(a.searchFanout)
	for i, chatID := range req.ChatIDs {
		g.Go(func() error {
			chat, err := a.memberContext(userID, chatID, a.contextLimit)
			if err != nil {
				// chats the caller cannot see are skipped, not fatal
				if errors.Is(err, ErrChatNotFound) || errors.Is(err, ErrNotParticipant) {
					return nil
				}
				return err
			}
			contexts[i] = chat
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	seenUsers := map[string]bool{}
	for i, chat := range contexts {
		if !found[i] {
			continue
		}
		if req.Filters.Chats {
			if score := relevance(query, chat.Name); score > 0 {
				results = append(results, SearchResult{
					Type:   "chat",
					ChatID: chat.ChatID,
					Title:  chat.Name,
					Score:  score,
				})
			}
		}
		for _, msg := range chat.Messages {
			if req.Filters.Messages && req.DateRange.contains(now, msg.Timestamp) {
				if score := relevance(query, msg.Content); score > 0 {
					results = append(results, SearchResult{
						Type:      "message",
						ChatID:    chat.ChatID,
						ID:        msg.ID,
						Title:     msg.SenderName,
						Snippet:   snippet(msg.Content),
						Timestamp: msg.Timestamp,
						Score:     score,
					})
				}
			}
			if req.Filters.Users && !seenUsers[msg.SenderID] {
				if score := relevance(query, msg.SenderName); score > 0 {
					seenUsers[msg.SenderID] = true
					results = append(results, SearchResult{
						Type:   "user",
						ChatID: chat.ChatID,
						ID:     msg.SenderID,
						Title:  msg.SenderName,
						Score:  score,
					})
				}
			}
		}
		results = append(results, a.searchArtifacts(query, chat.ChatID, req, now)...)
	}
	sortResults(results)
	return results, nil
}

// searchArtifacts scores the chat's cached summary and decisions against the
// query for the actionItems, decisions, and meetings categories.
func (a *App) searchArtifacts(query, chatID string, req SearchRequest, now time.Time) []SearchResult {
	var out []SearchResult
	a.mu.RLock()
	summaryArtifact, hasSummary := a.artifacts[artifactKey(chatID, KindSummary)]
	decisionsArtifact, hasDecisions := a.artifacts[artifactKey(chatID, KindDecisions)]
	a.mu.RUnlock()

	if hasSummary && req.DateRange.contains(now, summaryArtifact.GeneratedAt) {
		if summary, ok := summaryArtifact.Value.(MeetingSummary); ok {
			if req.Filters.Meetings {
				if score := relevance(query, summary.Title+" "+summary.Overview); score > 0 {
					out = append(out, SearchResult{
						Type:      "meeting",
						ChatID:    chatID,
						Title:     summary.Title,
						Snippet:   snippet(summary.Overview),
						Timestamp: summary.GeneratedAt,
						Score:     score,
					})
				}
			}
			if req.Filters.ActionItems {
				for _, item := range summary.ActionItems {
					if score := relevance(query, item); score > 0 {
						out = append(out, SearchResult{
							Type:      "actionItem",
							ChatID:    chatID,
							Title:     item,
							Timestamp: summary.GeneratedAt,
							Score:     score,
						})
					}
				}
			}
		}
	}
	if hasDecisions && req.Filters.Decisions && req.DateRange.contains(now, decisionsArtifact.GeneratedAt) {
		if decisions, ok := decisionsArtifact.Value.([]Decision); ok {
			for _, decision := range decisions {
				if score := relevance(query, decision.Title+" "+decision.Description); score > 0 {
					out = append(out, SearchResult{
						Type:      "decision",
						ChatID:    chatID,
						Title:     decision.Title,
						Snippet:   snippet(decision.Description),
						Timestamp: decisionsArtifact.GeneratedAt,
						Score:     score,
					})
				}
			}
		}
	}
	return out
}

func (a *App) generate(ctx context.Context, userPrompt string) (string, error) {
	if a.gen == nil {
		return "", ErrGenerationNotConfigured
	}
	response, err := a.gen.GenerateText(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return response, nil
}

// storeArtifact replaces the cached value for the chat and kind. A generation
// whose request was abandoned completes but is discarded.
func (a *App) storeArtifact(ctx context.Context, chatID string, kind ArtifactKind, value any) {
	if ctx.Err() != nil {
		return
	}
	a.mu.Lock()
	a.artifacts[artifactKey(chatID, kind)] = Artifact{
		Kind:        kind,
		ChatID:      chatID,
		Value:       value,
		GeneratedAt: time.Now().UTC(),
	}
	a.mu.Unlock()
}

func (a *App) memberContext(userID, chatID string, limit int) (convclient.Context, error) {
	chat, err := a.conv.ChatContext(chatID, limit)
	if err != nil {
		var apiErr *convclient.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return convclient.Context{}, ErrChatNotFound
		}
		return convclient.Context{}, fmt.Errorf("fetch context: %w", err)
	}
	for _, participant := range chat.Participants {
		if participant == userID {
			return chat, nil
		}
	}
	return convclient.Context{}, ErrNotParticipant
}

func artifactKey(chatID string, kind ArtifactKind) string {
	return chatID + "/" + string(kind)
}
