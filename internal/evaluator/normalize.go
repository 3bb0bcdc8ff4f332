package evaluator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// reportShape covers the flat report, and each nested evaluation stage,
// since they share key names. Per-dimension scores end up in Scores or as
// "<dimension>_score" keys in Extra.
type reportShape struct {
	CandidateID    string           `mapstructure:"candidate_id"`
	OverallScore   any              `mapstructure:"overall_score"`
	Recommendation string           `mapstructure:"recommendation"`
	Summary        string           `mapstructure:"summary"`
	Strengths      []string         `mapstructure:"strengths"`
	Weaknesses     []string         `mapstructure:"weaknesses"`
	Scores         map[string]any   `mapstructure:"scores"`
	Transcripts    []string         `mapstructure:"interview_transcripts"`
	MCQResult      map[string]any   `mapstructure:"mcq_result"`
	Evaluation     *evaluationShape `mapstructure:"evaluation"`
	Extra          map[string]any   `mapstructure:",remain"`
}

type evaluationShape struct {
	Stage1 *reportShape `mapstructure:"stage1"`
	Stage2 *reportShape `mapstructure:"stage2"`
	Stage3 *reportShape `mapstructure:"stage3"`
	Stage4 *reportShape `mapstructure:"stage4"`
}

type startShape struct {
	CandidateID        string         `mapstructure:"candidate_id"`
	Stage              string         `mapstructure:"stage"`
	Message            string         `mapstructure:"message"`
	CodeDescription    string         `mapstructure:"code_description"`
	InterviewQuestions []any          `mapstructure:"interview_questions"`
	InterviewAudio     []any          `mapstructure:"interview_audio"`
	MCQQuestions       []mcqShape     `mapstructure:"mcq_questions"`
	ScoresSoFar        map[string]any `mapstructure:"scores_so_far"`
	Extra              map[string]any `mapstructure:",remain"`
}

type mcqShape struct {
	Question string   `mapstructure:"question"`
	Options  []string `mapstructure:"options"`
}

func decode(input any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// normalizeReport maps the flat and the nested evaluation.stageN shapes
// onto one Report. The final stage wins over earlier ones when both carry a
// value.
func normalizeReport(data map[string]any) (*Report, error) {
	var flat reportShape
	if err := decode(data, &flat); err != nil {
		return nil, fmt.Errorf("decoding evaluation report: %w", err)
	}

	shapes := []*reportShape{}
	if ev := flat.Evaluation; ev != nil {
		shapes = appendShapes(shapes, ev.Stage4)
	}
	shapes = append(shapes, &flat)
	if ev := flat.Evaluation; ev != nil {
		shapes = appendShapes(shapes, ev.Stage3, ev.Stage2, ev.Stage1)
	}

	report := &Report{}
	overall := math.NaN()
	for _, s := range shapes {
		if report.CandidateID == "" {
			report.CandidateID = strings.TrimSpace(s.CandidateID)
		}
		if math.IsNaN(overall) {
			overall = coerceFloat(s.OverallScore)
		}
		if report.Recommendation == "" {
			report.Recommendation = strings.TrimSpace(s.Recommendation)
		}
		if report.Summary == "" {
			report.Summary = strings.TrimSpace(s.Summary)
		}
		if len(report.Strengths) == 0 {
			report.Strengths = nonEmpty(s.Strengths)
		}
		if len(report.Weaknesses) == 0 {
			report.Weaknesses = nonEmpty(s.Weaknesses)
		}
		if len(report.Transcripts) == 0 {
			report.Transcripts = s.Transcripts
		}
		if report.MCQ == nil && s.MCQResult != nil {
			report.MCQ = mcqResult(s.MCQResult)
		}
	}

	for _, d := range Dimensions {
		if score, ok := dimensionScore(shapes, d); ok {
			report.Breakdown = append(report.Breakdown, DimensionScore{Dimension: d, Score: score})
		}
	}

	// The session is consumed once the report is returned, so a report
	// without a score is shown as 0 rather than rejected.
	if !math.IsNaN(overall) {
		report.OverallScore = overall
	}

	return report, nil
}

func appendShapes(list []*reportShape, shapes ...*reportShape) []*reportShape {
	for _, s := range shapes {
		if s != nil {
			list = append(list, s)
		}
	}
	return list
}

func dimensionScore(shapes []*reportShape, d Dimension) (float64, bool) {
	key := string(d)
	for _, s := range shapes {
		for _, v := range []any{s.Scores[key], s.Scores[key+"_score"], s.Extra[key+"_score"]} {
			if f := coerceFloat(v); !math.IsNaN(f) {
				return f, true
			}
		}
		if d == DimensionMCQ && s.MCQResult != nil {
			if f := coerceFloat(s.MCQResult["mcq_score"]); !math.IsNaN(f) {
				return f, true
			}
		}
	}
	return 0, false
}

func mcqResult(data map[string]any) *MCQResult {
	var shape struct {
		Correct int     `mapstructure:"correct_count"`
		Total   int     `mapstructure:"total_count"`
		Score   float64 `mapstructure:"mcq_score"`
	}
	if err := decode(data, &shape); err != nil {
		return nil
	}
	return &MCQResult{Correct: shape.Correct, Total: shape.Total, Score: shape.Score}
}

// normalizeStart merges the question list with the legacy parallel
// interview_audio array and reads preliminary scores from either
// scores_so_far or the top-level "<dimension>_score" keys.
func normalizeStart(data map[string]any) (*StartResponse, error) {
	var shape startShape
	if err := decode(data, &shape); err != nil {
		return nil, fmt.Errorf("decoding start response: %w", err)
	}

	resp := &StartResponse{
		CandidateID:     strings.TrimSpace(shape.CandidateID),
		Stage:           strings.TrimSpace(shape.Stage),
		Message:         strings.TrimSpace(shape.Message),
		CodeDescription: strings.TrimSpace(shape.CodeDescription),
	}

	for i, raw := range shape.InterviewQuestions {
		q := interviewQuestion(raw)
		if q.Text == "" {
			continue
		}
		if q.AudioBase64 == "" && i < len(shape.InterviewAudio) {
			var audio InterviewQuestion
			switch a := shape.InterviewAudio[i].(type) {
			case string:
				audio.AudioBase64 = strings.TrimSpace(a)
			default:
				audio = interviewQuestion(a)
			}
			q.AudioBase64 = audio.AudioBase64
			if q.MIMEType == "" {
				q.MIMEType = audio.MIMEType
			}
		}
		resp.InterviewQuestions = append(resp.InterviewQuestions, q)
	}

	for _, m := range shape.MCQQuestions {
		question := strings.TrimSpace(m.Question)
		options := nonEmpty(m.Options)
		if question == "" || len(options) == 0 {
			continue
		}
		resp.MCQQuestions = append(resp.MCQQuestions, MCQQuestion{Question: question, Options: options})
	}

	for _, d := range Dimensions {
		for _, v := range []any{shape.ScoresSoFar[string(d)], shape.Extra[string(d)+"_score"]} {
			if f := coerceFloat(v); !math.IsNaN(f) {
				resp.Preliminary = append(resp.Preliminary, DimensionScore{Dimension: d, Score: f})
				break
			}
		}
	}

	return resp, nil
}

func interviewQuestion(v any) InterviewQuestion {
	switch val := v.(type) {
	case string:
		return InterviewQuestion{Text: strings.TrimSpace(val)}
	case map[string]any:
		text := coerceString(val["question"])
		if text == "" {
			text = coerceString(val["text"])
		}
		audio := coerceString(val["audio_base64"])
		if audio == "" {
			audio = coerceString(val["audio"])
		}
		return InterviewQuestion{
			Text:        text,
			AudioBase64: audio,
			MIMEType:    coerceString(val["mime_type"]),
		}
	default:
		return InterviewQuestion{}
	}
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		return ""
	}
}
