package workflow

import (
	"maps"
	"slices"

	"github.com/spigell/apprentice/internal/catalog"
	"github.com/spigell/apprentice/internal/evaluator"
	"github.com/spigell/apprentice/internal/media"
	"github.com/spigell/apprentice/internal/resume"
)

// Submission is the code the candidate handed in: a repository link or
// pasted code, never both.
type Submission struct {
	RepoLink     string
	CodeSolution string
}

func (s Submission) Empty() bool {
	return s.RepoLink == "" && s.CodeSolution == ""
}

// ApplicationContext accumulates everything collected along the flow.
// Machine.Context hands out copies, so holders never see later changes.
type ApplicationContext struct {
	CandidateID string

	Position        *catalog.Position
	PositionID      string
	JobDescription  string
	IdealProfile    string
	TaskDescription string

	Name   string
	Email  string
	Resume *resume.Document

	Submission         Submission
	InterviewQuestions []evaluator.InterviewQuestion
	MCQQuestions       []evaluator.MCQQuestion
	Preliminary        []evaluator.DimensionScore

	Segments   []media.Segment
	MCQAnswers map[int]string

	Result *evaluator.Report
}

func (c ApplicationContext) clone() ApplicationContext {
	out := c
	out.InterviewQuestions = slices.Clone(c.InterviewQuestions)
	out.MCQQuestions = slices.Clone(c.MCQQuestions)
	out.Preliminary = slices.Clone(c.Preliminary)
	out.Segments = slices.Clone(c.Segments)
	out.MCQAnswers = maps.Clone(c.MCQAnswers)
	if c.Result != nil {
		result := *c.Result
		out.Result = &result
	}
	return out
}

// Answered reports whether every multiple-choice question has an answer.
func (c ApplicationContext) Answered() bool {
	for i := range c.MCQQuestions {
		if c.MCQAnswers[i] == "" {
			return false
		}
	}
	return true
}

// Recorded reports whether every interview question has a segment.
func (c ApplicationContext) Recorded() bool {
	return len(c.InterviewQuestions) > 0 && len(c.Segments) == len(c.InterviewQuestions)
}

// resetPosition drops everything derived from the previously chosen
// position. The candidate id survives.
func (c *ApplicationContext) resetPosition() {
	*c = ApplicationContext{CandidateID: c.CandidateID}
}

// resetStart drops the evaluator answer and everything recorded against it.
func (c *ApplicationContext) resetStart() {
	c.Submission = Submission{}
	c.InterviewQuestions = nil
	c.MCQQuestions = nil
	c.Preliminary = nil
	c.Segments = nil
	c.MCQAnswers = nil
}
