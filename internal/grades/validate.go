package grades

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	resourceCodePattern = regexp.MustCompile(`^(R|SAE|P)`)
	validate            = validator.New(validator.WithRequiredStructEnabled())
)

// wire types mirror the portal payload; pointers distinguish a missing field
// from a zero value so the required checks match the upstream schema.
type wireGrade struct {
	Max   *string `json:"max" validate:"required"`
	Min   *string `json:"min" validate:"required"`
	Mean  *string `json:"moy" validate:"required"`
	Value *string `json:"value" validate:"required"`
}

type wireEvaluation struct {
	ID          *int64             `json:"id" validate:"required"`
	Coef        *string            `json:"coef" validate:"required"`
	Date        *string            `json:"date" validate:"required"`
	Type        *int               `json:"evaluation_type" validate:"required"`
	StartTime   *string            `json:"heure_debut" validate:"required"`
	EndTime     *string            `json:"heure_fin" validate:"required"`
	Description *string            `json:"description"`
	Grade       *wireGrade         `json:"note" validate:"required"`
	Weights     map[string]float64 `json:"poids" validate:"required"`
	URL         *string            `json:"url" validate:"required"`
}

type wireResource struct {
	CourseCode  *string          `json:"code_apogee"`
	Evaluations []wireEvaluation `json:"evaluations" validate:"required,dive"`
	ID          *int64           `json:"id" validate:"required"`
	Title       *string          `json:"titre" validate:"required"`
	URL         *string          `json:"url" validate:"required"`
	Term        *int             `json:"semestre"`
}

// DecodeResources parses a resource-code keyed JSON object, validates it
// against the resource/evaluation schema and converts it to a Snapshot.
// Any violation yields a KindSchemaInvalid error and no snapshot.
func DecodeResources(raw json.RawMessage) (Snapshot, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewError(KindSchemaInvalid, "resources object is missing", nil)
	}
	var wire map[string]wireResource
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, NewError(KindSchemaInvalid, "decode resources", err)
	}
	snap := make(Snapshot, len(wire))
	for code, res := range wire {
		if !resourceCodePattern.MatchString(code) {
			return nil, NewError(KindSchemaInvalid, fmt.Sprintf("unexpected resource code %q", code), nil)
		}
		if err := validate.Struct(res); err != nil {
			return nil, NewError(KindSchemaInvalid, fmt.Sprintf("resource %q", code), err).WithDetail(err.Error())
		}
		snap[code] = res.toResource()
	}
	return snap, nil
}

// Validate checks that an in-memory snapshot would satisfy the schema once
// serialized. Stores call it before accepting a snapshot.
func Validate(snap Snapshot) error {
	if snap == nil {
		return NewError(KindSchemaInvalid, "snapshot is nil", nil)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return NewError(KindSchemaInvalid, "encode snapshot", err)
	}
	_, err = DecodeResources(raw)
	return err
}

func (w wireResource) toResource() Resource {
	res := Resource{
		ID:          *w.ID,
		Title:       *w.Title,
		URL:         *w.URL,
		Evaluations: make([]Evaluation, 0, len(w.Evaluations)),
	}
	if w.CourseCode != nil {
		res.CourseCode = *w.CourseCode
	}
	if w.Term != nil {
		term := *w.Term
		res.Term = &term
	}
	for _, ev := range w.Evaluations {
		res.Evaluations = append(res.Evaluations, ev.toEvaluation())
	}
	return res
}

func (w wireEvaluation) toEvaluation() Evaluation {
	ev := Evaluation{
		ID:        *w.ID,
		Coef:      *w.Coef,
		Date:      *w.Date,
		Type:      *w.Type,
		StartTime: *w.StartTime,
		EndTime:   *w.EndTime,
		Grade: Grade{
			Max:   *w.Grade.Max,
			Min:   *w.Grade.Min,
			Mean:  *w.Grade.Mean,
			Value: *w.Grade.Value,
		},
		Weights: make(map[string]float64, len(w.Weights)),
		URL:     *w.URL,
	}
	if w.Description != nil {
		ev.Description = *w.Description
	}
	for k, v := range w.Weights {
		ev.Weights[k] = v
	}
	return ev
}
