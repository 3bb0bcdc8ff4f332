package workflow

type Stage int

const (
	StageBrowse Stage = iota
	StagePositionDetail
	StageApply
	StageSubmitCode
	StageVideo
	StageMCQ
	StageResults
)

// Stages lists every stage in flow order.
var Stages = []Stage{
	StageBrowse,
	StagePositionDetail,
	StageApply,
	StageSubmitCode,
	StageVideo,
	StageMCQ,
	StageResults,
}

func (s Stage) String() string {
	switch s {
	case StageBrowse:
		return "browse"
	case StagePositionDetail:
		return "position_detail"
	case StageApply:
		return "apply"
	case StageSubmitCode:
		return "submit_code"
	case StageVideo:
		return "interview_video"
	case StageMCQ:
		return "interview_mcq"
	case StageResults:
		return "results"
	default:
		return "unknown"
	}
}

// Title is the label shown to the candidate.
func (s Stage) Title() string {
	switch s {
	case StageBrowse:
		return "Positions"
	case StagePositionDetail:
		return "Position"
	case StageApply:
		return "Apply"
	case StageSubmitCode:
		return "Code"
	case StageVideo:
		return "Video interview"
	case StageMCQ:
		return "Assessment"
	case StageResults:
		return "Results"
	default:
		return s.String()
	}
}

func (s Stage) Terminal() bool {
	return s == StageResults
}

func (s Stage) previous() Stage {
	if s <= StageBrowse {
		return StageBrowse
	}
	return s - 1
}
