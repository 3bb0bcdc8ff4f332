// Package evaluator talks to the remote evaluation service: it submits the
// candidate's application and code, then the interview recordings with the
// multiple-choice answers, and returns the normalized report.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/apprentice/internal/apperr"
	"github.com/spigell/apprentice/internal/utils"
)

const (
	DefaultURL          = "http://localhost:8000/api"
	DefaultCompletePath = "/evaluate/complete"
	// LegacyCompletePath is served by evaluator builds that predate
	// /evaluate/complete.
	LegacyCompletePath = "/evaluate/submit-responses"

	startPath  = "/evaluate/start"
	statusPath = "/evaluate/status/"
	cancelPath = "/evaluate/cancel/"
	healthPath = "/health"

	userAgent      = "spigell/apprentice"
	defaultTimeout = 5 * time.Minute
	logPreview     = 512
)

type Client struct {
	baseURL string
	token   string
	logger  *zap.Logger

	HTTPClient   *http.Client
	UserAgent    string
	CompletePath string
}

func New(logger *zap.Logger, baseURL, token string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL == "" {
		baseURL = DefaultURL
	}

	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
		logger:  logger,
		// Start and Complete wait on model calls and video transcription.
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
		UserAgent:    userAgent,
		CompletePath: DefaultCompletePath,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Start submits the application and code. The response carries the
// interview and multiple-choice questions.
func (c *Client) Start(ctx context.Context, r *StartRequest) (*StartResponse, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	form := newForm()
	if r.Resume != nil && len(r.Resume.Data) > 0 {
		form.file("resume", r.Resume.Name, r.Resume.ContentType, r.Resume.Data)
	} else {
		form.field("resume_content", r.ResumeText)
	}
	if strings.TrimSpace(r.RepoLink) != "" {
		form.field("repo_link", strings.TrimSpace(r.RepoLink))
	} else {
		form.field("code_solution", r.CodeSolution)
	}
	form.field("job_description", r.JobDescription)
	form.field("ideal_candidate_profile", r.IdealProfile)
	form.field("task_description", r.TaskDescription)
	form.field("candidate_id", r.CandidateID)
	form.field("jd_id", r.PositionID)

	data, err := c.postForm(ctx, startPath, form)
	if err != nil {
		return nil, err
	}

	resp, err := normalizeStart(data)
	if err != nil {
		return nil, malformed(err)
	}
	if resp.CandidateID == "" {
		resp.CandidateID = r.CandidateID
	}

	c.logger.Info("evaluation started",
		zap.String("candidate_id", resp.CandidateID),
		zap.Int("interview_questions", len(resp.InterviewQuestions)),
		zap.Int("mcq_questions", len(resp.MCQQuestions)),
	)

	return resp, nil
}

// Complete uploads the recordings and answers and returns the final report.
func (c *Client) Complete(ctx context.Context, r *CompleteRequest) (*Report, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	answers, err := json.Marshal(r.MCQAnswers)
	if err != nil {
		return nil, fmt.Errorf("encoding mcq answers: %w", err)
	}
	if r.MCQAnswers == nil {
		answers = []byte("[]")
	}

	form := newForm()
	form.field("candidate_id", r.CandidateID)
	form.field("mcq_answers", string(answers))
	form.field("human_approved", "true")
	for i, v := range r.Videos {
		name := v.Filename
		if name == "" {
			name = fmt.Sprintf("video_%d.webm", i)
		}
		form.file("interview_videos", name, v.ContentType, v.Data)
	}

	path := c.CompletePath
	if strings.TrimSpace(path) == "" {
		path = DefaultCompletePath
	}

	data, err := c.postForm(ctx, path, form)
	if err != nil {
		return nil, err
	}

	report, err := normalizeReport(data)
	if err != nil {
		return nil, malformed(err)
	}
	if report.CandidateID == "" {
		report.CandidateID = r.CandidateID
	}

	c.logger.Info("evaluation completed",
		zap.String("candidate_id", report.CandidateID),
		zap.Float64("overall_score", report.OverallScore),
		zap.String("recommendation", report.Recommendation),
	)

	return report, nil
}

func (c *Client) Status(ctx context.Context, candidateID string) (*Status, error) {
	if strings.TrimSpace(candidateID) == "" {
		return nil, apperr.Validation("candidate id is required")
	}

	var status Status
	if err := c.doJSON(ctx, http.MethodGet, statusPath+url.PathEscape(candidateID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Cancel drops the evaluator-side session of the candidate.
func (c *Client) Cancel(ctx context.Context, candidateID string) (*Status, error) {
	if strings.TrimSpace(candidateID) == "" {
		return nil, apperr.Validation("candidate id is required")
	}

	var status Status
	if err := c.doJSON(ctx, http.MethodDelete, cancelPath+url.PathEscape(candidateID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.doJSON(ctx, http.MethodGet, healthPath, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func (c *Client) logResponse(path string, status int, body []byte) {
	c.logger.Debug("got response from evaluator",
		zap.String("path", path),
		zap.Int("status", status),
		zap.String("body", utils.PreviewBody(body, logPreview)),
	)
}

func malformed(err error) error {
	return &apperr.Error{
		Kind:    apperr.KindRemoteRejection,
		Message: "evaluator returned an unexpected response",
		Status:  http.StatusOK,
		Err:     err,
	}
}
