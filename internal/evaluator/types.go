package evaluator

import (
	"strings"

	"github.com/spigell/apprentice/internal/apperr"
)

type Dimension string

const (
	DimensionResumeFit      Dimension = "resume_fit"
	DimensionCodeFit        Dimension = "code_fit"
	DimensionCodeQuality    Dimension = "code_quality"
	DimensionVideoInterview Dimension = "video_interview"
	DimensionMCQ            Dimension = "mcq"
)

// Dimensions lists the score breakdown in presentation order.
var Dimensions = []Dimension{
	DimensionResumeFit,
	DimensionCodeFit,
	DimensionCodeQuality,
	DimensionVideoInterview,
	DimensionMCQ,
}

func (d Dimension) Label() string {
	switch d {
	case DimensionResumeFit:
		return "Resume Fit"
	case DimensionCodeFit:
		return "Code Fit"
	case DimensionCodeQuality:
		return "Code Quality"
	case DimensionVideoInterview:
		return "Video Interview"
	case DimensionMCQ:
		return "MCQ Score"
	default:
		return string(d)
	}
}

type DimensionScore struct {
	Dimension Dimension `json:"dimension"`
	Score     float64   `json:"score"`
}

// ResumeFile is the binary resume upload.
type ResumeFile struct {
	Name        string
	ContentType string
	Data        []byte
}

type StartRequest struct {
	CandidateID     string
	PositionID      string
	JobDescription  string
	IdealProfile    string
	TaskDescription string

	// Exactly one of Resume and ResumeText is sent.
	Resume     *ResumeFile
	ResumeText string

	// Exactly one of RepoLink and CodeSolution is sent.
	RepoLink     string
	CodeSolution string
}

func (r *StartRequest) Validate() error {
	if strings.TrimSpace(r.CandidateID) == "" {
		return apperr.Validation("candidate id is required")
	}
	if (r.Resume == nil || len(r.Resume.Data) == 0) && strings.TrimSpace(r.ResumeText) == "" {
		return apperr.Validation("a resume is required")
	}

	repo := strings.TrimSpace(r.RepoLink) != ""
	code := strings.TrimSpace(r.CodeSolution) != ""
	switch {
	case !repo && !code:
		return apperr.Validation("a repository link or code solution is required")
	case repo && code:
		return apperr.Validation("provide either a repository link or a code solution, not both")
	}

	return nil
}

type InterviewQuestion struct {
	Text        string `json:"question"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

type MCQQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Letter returns the option letter for index i (A, B, C, ...).
func Letter(i int) string {
	return string(rune('A' + i))
}

type StartResponse struct {
	CandidateID        string
	Stage              string
	Message            string
	CodeDescription    string
	InterviewQuestions []InterviewQuestion
	MCQQuestions       []MCQQuestion
	Preliminary        []DimensionScore
}

// Video is one recorded answer as uploaded to the evaluator.
type Video struct {
	Filename    string
	ContentType string
	Data        []byte
}

type CompleteRequest struct {
	CandidateID string
	Videos      []Video
	// MCQAnswers holds one option letter per question, in question order.
	MCQAnswers []string
}

func (r *CompleteRequest) Validate() error {
	if strings.TrimSpace(r.CandidateID) == "" {
		return apperr.Validation("candidate id is required")
	}
	if len(r.Videos) == 0 {
		return apperr.Validation("at least one interview video is required")
	}
	for i, v := range r.Videos {
		if len(v.Data) == 0 {
			return apperr.Validation("interview video %d is empty", i+1)
		}
	}
	for i, answer := range r.MCQAnswers {
		if strings.TrimSpace(answer) == "" {
			return apperr.Validation("multiple-choice question %d is not answered", i+1)
		}
	}

	return nil
}

type MCQResult struct {
	Correct int     `json:"correct_count"`
	Total   int     `json:"total_count"`
	Score   float64 `json:"mcq_score"`
}

// Report is the canonical evaluation result, whichever shape the evaluator
// answered with.
type Report struct {
	CandidateID    string           `json:"candidate_id,omitempty"`
	OverallScore   float64          `json:"overall_score"`
	Recommendation string           `json:"recommendation,omitempty"`
	Summary        string           `json:"summary,omitempty"`
	Strengths      []string         `json:"strengths,omitempty"`
	Weaknesses     []string         `json:"weaknesses,omitempty"`
	Breakdown      []DimensionScore `json:"breakdown,omitempty"`
	Transcripts    []string         `json:"interview_transcripts,omitempty"`
	MCQ            *MCQResult       `json:"mcq_result,omitempty"`
}

// Score returns the breakdown entry for d.
func (r *Report) Score(d Dimension) (float64, bool) {
	for _, s := range r.Breakdown {
		if s.Dimension == d {
			return s.Score, true
		}
	}
	return 0, false
}

// Status describes an evaluation session on the evaluator side.
type Status struct {
	Status      string `json:"status"`
	CandidateID string `json:"candidate_id,omitempty"`
	PositionID  string `json:"jd_id,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Message     string `json:"message,omitempty"`
}

func (s *Status) Found() bool {
	return s.Status != "" && s.Status != "not_found"
}

type Health struct {
	Status            string `json:"status"`
	ActiveEvaluations int    `json:"active_evaluations"`
}
