package workflow

import (
	"fmt"
)

// StageStatus is runtime information about one stage of the flow.
type StageStatus struct {
	Stage     Stage
	Current   bool
	Completed bool
	Details   map[string]string
}

// Describe returns one entry per stage, in flow order.
func (m *Machine) Describe() []StageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]StageStatus, 0, len(Stages))
	for _, stage := range Stages {
		statuses = append(statuses, StageStatus{
			Stage:     stage,
			Current:   stage == m.stage,
			Completed: stage < m.stage,
			Details:   m.details(stage),
		})
	}
	return statuses
}

func (m *Machine) details(stage Stage) map[string]string {
	c := m.ctx
	details := map[string]string{}

	switch stage {
	case StageBrowse, StagePositionDetail:
		if c.Position != nil {
			details["position"] = c.Position.ID
		}
	case StageApply:
		if c.Name != "" {
			details["name"] = c.Name
		}
		if c.CandidateID != "" {
			details["candidate_id"] = c.CandidateID
		}
	case StageSubmitCode:
		switch {
		case c.Submission.RepoLink != "":
			details["repository"] = c.Submission.RepoLink
		case c.Submission.CodeSolution != "":
			details["code"] = fmt.Sprintf("%d bytes", len(c.Submission.CodeSolution))
		}
	case StageVideo:
		if len(c.InterviewQuestions) > 0 {
			details["recorded"] = fmt.Sprintf("%d/%d", len(c.Segments), len(c.InterviewQuestions))
		}
	case StageMCQ:
		if len(c.MCQQuestions) > 0 {
			details["answered"] = fmt.Sprintf("%d/%d", len(c.MCQAnswers), len(c.MCQQuestions))
		}
	case StageResults:
		if c.Result != nil {
			details["overall_score"] = fmt.Sprintf("%.0f", c.Result.OverallScore)
		}
	}

	if len(details) == 0 {
		return nil
	}
	return details
}
