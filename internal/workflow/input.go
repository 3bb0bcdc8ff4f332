package workflow

import (
	"github.com/spigell/apprentice/internal/catalog"
	"github.com/spigell/apprentice/internal/resume"
)

// Input advances the stage it belongs to.
type Input interface {
	Stage() Stage
}

// SelectPosition picks a position from the catalog.
type SelectPosition struct {
	Position *catalog.Position
}

// Proceed moves from the position detail to the application form.
type Proceed struct{}

type ApplicationForm struct {
	Name   string
	Email  string
	Resume *resume.Document
}

// CodeSubmission carries a repository link or pasted code.
type CodeSubmission struct {
	RepoLink     string
	CodeSolution string
}

// VideoDone closes the video interview.
type VideoDone struct{}

// MCQDone sends the final submission.
type MCQDone struct{}

func (SelectPosition) Stage() Stage  { return StageBrowse }
func (Proceed) Stage() Stage         { return StagePositionDetail }
func (ApplicationForm) Stage() Stage { return StageApply }
func (CodeSubmission) Stage() Stage  { return StageSubmitCode }
func (VideoDone) Stage() Stage       { return StageVideo }
func (MCQDone) Stage() Stage         { return StageMCQ }
